package database

import (
	"context"
	"time"
)

// Health reports database reachability and pool statistics.
type Health struct {
	Reachable bool   `json:"reachable"`
	LatencyMs int64  `json:"latency_ms"`
	OpenConns int    `json:"open_conns"`
	Error     string `json:"error,omitempty"`
}

// CheckHealth pings the database and returns a health snapshot.
func (c *Client) CheckHealth(ctx context.Context) Health {
	start := time.Now()
	err := c.db.PingContext(ctx)
	h := Health{
		Reachable: err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
		OpenConns: c.db.Stats().OpenConnections,
	}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}
