package handlers

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/agentstation/cultivate/internal/server/response"
)

// HandleMetrics handles GET /api/v1/admin/metrics.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, h.router.Metrics())
}

// HandleResetMetrics handles POST /api/v1/admin/metrics/reset.
func (h *Handlers) HandleResetMetrics(w http.ResponseWriter, _ *http.Request) {
	h.router.ResetMetrics()
	h.logger.Info().Msg("Event metrics reset")
	response.OK(w, h.router.Metrics())
}

// HandleStats handles GET /api/v1/admin/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	proc := map[string]any{}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := p.CPUPercent(); err == nil {
			proc["cpu_percent"] = cpu
		}
		if mem, err := p.MemoryInfo(); err == nil {
			proc["rss_mb"] = mem.RSS / 1024 / 1024
		}
	} else {
		h.logger.Debug().Err(err).Msg("Process stats unavailable")
	}

	response.OK(w, map[string]any{
		"runtime": map[string]any{
			"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
			"goroutines":     runtime.NumGoroutine(),
			"memory_mb":      memStats.Alloc / 1024 / 1024,
			"memory_sys_mb":  memStats.Sys / 1024 / 1024,
		},
		"process": proc,
		"events":  h.router.Metrics(),
		"realtime": map[string]any{
			"websocket_clients": h.wsHub.ClientCount(),
			"sse_clients":       h.sseBroadcaster.ClientCount(),
			"servers":           h.router.Registry().ServerIDs(),
		},
		"cache": h.cache.GetStats(),
	})
}
