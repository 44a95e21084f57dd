package server

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/layerwise/internal/database"
)

// JobCounter reports how many rebalancer jobs are running
type JobCounter interface {
	Running() int
}

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	databases   []*database.DB
	jobs        JobCounter
	// stats is replaced in tests
	stats func() (cpuPercent, ramPercent float64)
}

// NewSystemHandlers creates system handlers. jobs may be nil.
func NewSystemHandlers(log zerolog.Logger, databases []*database.DB, jobs JobCounter) *SystemHandlers {
	h := &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		startupTime: time.Now(),
		databases:   databases,
		jobs:        jobs,
	}
	h.stats = h.getSystemStats
	return h
}

// DatabaseStatus is the on-disk footprint of one database
type DatabaseStatus struct {
	Name   string  `json:"name"`
	SizeMB float64 `json:"size_mb"`
}

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	UptimeSeconds float64          `json:"uptime_seconds"`
	CPUPercent    float64          `json:"cpu_percent"`
	RAMPercent    float64          `json:"ram_percent"`
	RunningJobs   int              `json:"running_jobs"`
	Goroutines    int              `json:"goroutines"`
	GoVersion     string           `json:"go_version"`
	Databases     []DatabaseStatus `json:"databases"`
}

// HandleSystemStatus returns uptime, resource usage and running jobs
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, ramPercent := h.stats()
	response := SystemStatusResponse{
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		CPUPercent:    cpuPercent,
		RAMPercent:    ramPercent,
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
		Databases:     make([]DatabaseStatus, 0, len(h.databases)),
	}
	if h.jobs != nil {
		response.RunningJobs = h.jobs.Running()
	}
	for _, db := range h.databases {
		response.Databases = append(response.Databases, DatabaseStatus{
			Name:   db.Name(),
			SizeMB: fileSizeMB(db.Path()),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": response,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// getSystemStats samples CPU over 100ms so the endpoint stays responsive
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// fileSizeMB includes the WAL file next to the database
func fileSizeMB(path string) float64 {
	var total int64
	for _, p := range []string{path, path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return float64(total) / 1024 / 1024
}
