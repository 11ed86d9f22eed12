package game

import (
	"context"
	"sync"
	"time"

	"github.com/codeclash-io/codeclash/pkg/events"
)

// timerSyncInterval is the server-authoritative clock broadcast rate.
const timerSyncInterval = time.Second

// timerSet runs one countdown broadcaster per active match.
type timerSet struct {
	manager *events.ConnectionManager

	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

func newTimerSet(manager *events.ConnectionManager) *timerSet {
	return &timerSet{manager: manager, cancel: make(map[string]context.CancelFunc)}
}

// start begins broadcasting timerSync at 1 Hz for a match until the deadline
// passes or stop is called. Restarting an already-running timer is a no-op.
func (t *timerSet) start(ctx context.Context, matchID string, startedAt time.Time, limit time.Duration) {
	t.mu.Lock()
	if _, running := t.cancel[matchID]; running {
		t.mu.Unlock()
		return
	}
	timerCtx, cancel := context.WithCancel(ctx)
	t.cancel[matchID] = cancel
	t.mu.Unlock()

	go t.run(timerCtx, matchID, startedAt.Add(limit))
}

// stop halts a match's countdown broadcaster.
func (t *timerSet) stop(matchID string) {
	t.mu.Lock()
	if cancel, ok := t.cancel[matchID]; ok {
		cancel()
		delete(t.cancel, matchID)
	}
	t.mu.Unlock()
}

func (t *timerSet) run(ctx context.Context, matchID string, deadline time.Time) {
	ticker := time.NewTicker(timerSyncInterval)
	defer ticker.Stop()
	defer t.stop(matchID)

	for {
		select {
		case now := <-ticker.C:
			remaining := int(deadline.Sub(now).Seconds())
			if remaining < 0 {
				remaining = 0
			}
			event := events.ServerEvent{Type: events.EventTimerSync, Data: map[string]any{
				"match_id":          matchID,
				"remaining_seconds": remaining,
				"server_time_ms":    now.UnixMilli(),
			}}
			t.manager.BroadcastRoom(ctx, events.MatchRoom(matchID), event)
			t.manager.BroadcastRoom(ctx, events.SpectatorRoom(matchID), event)
			if remaining == 0 {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
