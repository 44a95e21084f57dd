// Package jobs runs rebalancer requests in the background on a bounded pool
// and keeps their snapshots around for a limited time.
package jobs

import (
	"context"
	"time"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether the job can no longer change
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Task is the work a job performs. The returned value becomes the job result.
type Task func(ctx context.Context) (any, error)

// Snapshot is a point-in-time copy of a job
type Snapshot struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Result      any        `json:"result,omitempty"`
	// Error only carries the reference id; details go to the log
	Error string `json:"error,omitempty"`
}

// Config controls the pool
type Config struct {
	MaxConcurrent int
	TTL           time.Duration
	SweepSchedule string
}

// Default pool settings
const (
	DefaultMaxConcurrent = 2
	DefaultTTL           = 30 * time.Minute
	DefaultSweepSchedule = "@every 1m"
)

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = DefaultSweepSchedule
	}
	return c
}
