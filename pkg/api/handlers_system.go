package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/codeclash-io/codeclash/pkg/version"
)

// handleHealth reports overall health plus per-dependency checks.
func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	deps := gin.H{}
	healthy := true

	if err := s.store.Ping(ctx); err != nil {
		deps["store"] = gin.H{"status": "unhealthy", "error": err.Error()}
		healthy = false
	} else {
		deps["store"] = gin.H{"status": "healthy"}
	}

	if err := s.db.PingContext(ctx); err != nil {
		deps["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
		healthy = false
	} else {
		deps["database"] = gin.H{"status": "healthy"}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"version":      version.Version,
		"dependencies": deps,
	})
}

// handleSystem reports host and process runtime stats.
func (s *Server) handleSystem(c *gin.Context) {
	out := gin.H{
		"goroutines":  runtime.NumGoroutine(),
		"connections": s.manager.ActiveConnections(),
		"version":     version.Version,
		"commit":      version.Commit,
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		out["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["memory_used_percent"] = vm.UsedPercent
		out["memory_total_bytes"] = vm.Total
	}
	if info, err := host.Info(); err == nil {
		out["hostname"] = info.Hostname
		out["uptime_sec"] = info.Uptime
		out["os"] = info.OS
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out["heap_alloc_bytes"] = ms.HeapAlloc

	c.JSON(http.StatusOK, out)
}
