package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// decodeJSON decodes the request body into dest, writing a 400 response and
// returning false on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

type systemResponse struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`
	Goroutines       int     `json:"goroutines"`
}

// handleSystem reports process and host resource usage. Grounded on the
// teacher's pkg/api.collectSystemMetrics — same gopsutil process/mem calls,
// trimmed of the temperature-sensor reading this deployment target doesn't
// need.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var resp systemResponse
	resp.Goroutines = runtime.NumGoroutine()

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if cpuPercent, err := proc.PercentWithContext(ctx, 200*time.Millisecond); err == nil {
			numCPU := runtime.NumCPU()
			if numCPU > 0 {
				resp.CPUPercent = cpuPercent / float64(numCPU)
			} else {
				resp.CPUPercent = cpuPercent
			}
		}
		if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil {
			resp.MemoryUsedBytes = memInfo.RSS
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryTotalBytes = vm.Total
		if resp.MemoryTotalBytes > 0 && resp.MemoryUsedBytes > 0 {
			resp.MemoryPercent = (float64(resp.MemoryUsedBytes) / float64(resp.MemoryTotalBytes)) * 100
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
