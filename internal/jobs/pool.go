package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/layerwise/internal/domain"
)

// ErrPoolClosed is returned by Start after Shutdown
var ErrPoolClosed = errors.New("job pool is shut down")

type job struct {
	snap Snapshot
	// changed is closed and replaced on every state transition
	changed chan struct{}
}

func (j *job) update(fn func(*Snapshot)) {
	fn(&j.snap)
	close(j.changed)
	j.changed = make(chan struct{})
}

// Pool runs tasks with bounded concurrency and keeps their snapshots until
// they expire
type Pool struct {
	mu      sync.Mutex
	jobs    map[string]*job
	closed  bool
	cfg     Config
	sem     *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cron    *cron.Cron
	metrics *Metrics
	now     func() time.Time
	log     zerolog.Logger
}

// NewPool creates a pool. Call StartSweeper to expire jobs on a schedule.
func NewPool(cfg Config, metrics *Metrics, log zerolog.Logger) *Pool {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:    make(map[string]*job),
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ctx:     ctx,
		cancel:  cancel,
		cron:    cron.New(),
		metrics: metrics,
		now:     time.Now,
		log:     log.With().Str("component", "job_pool").Logger(),
	}
}

// StartSweeper registers the expiry sweep on the configured schedule
func (p *Pool) StartSweeper() error {
	if _, err := p.cron.AddFunc(p.cfg.SweepSchedule, func() {
		if n := p.Sweep(); n > 0 {
			p.log.Debug().Int("expired", n).Msg("Expired jobs removed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule job sweeper: %w", err)
	}
	p.cron.Start()
	p.log.Info().Str("schedule", p.cfg.SweepSchedule).Msg("Job sweeper started")
	return nil
}

// Start queues task and returns its initial snapshot
func (p *Pool) Start(description string, task Task) (Snapshot, error) {
	p.Sweep()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Snapshot{}, ErrPoolClosed
	}
	j := &job{
		snap: Snapshot{
			ID:          uuid.NewString(),
			Description: description,
			Status:      StatusPending,
			CreatedAt:   p.now(),
		},
		changed: make(chan struct{}),
	}
	p.jobs[j.snap.ID] = j
	snap := j.snap
	p.wg.Add(1)
	p.mu.Unlock()

	p.metrics.recordStarted()
	go p.run(j, task)

	p.log.Debug().Str("job_id", snap.ID).Str("description", description).Msg("Job queued")
	return snap, nil
}

func (p *Pool) run(j *job, task Task) {
	defer p.wg.Done()

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.finish(j, nil, fmt.Errorf("job not started: %w", err))
		return
	}
	defer p.sem.Release(1)

	started := p.now()
	p.mu.Lock()
	j.update(func(s *Snapshot) {
		s.Status = StatusRunning
		s.StartedAt = &started
	})
	p.mu.Unlock()

	p.metrics.recordRunning(1)
	result, err := runTask(p.ctx, task)
	p.metrics.recordRunning(-1)

	p.finish(j, result, err)
}

func runTask(ctx context.Context, task Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (p *Pool) finish(j *job, result any, err error) {
	finished := p.now()
	status := StatusDone
	var message string
	if err != nil {
		status = StatusFailed
		ref := ErrorRef()
		message = "Error ref " + ref
		p.log.Error().
			Err(err).
			Str("ref", ref).
			Str("job_id", j.snap.ID).
			Msg("Rebalancer job failed")
	}

	p.mu.Lock()
	j.update(func(s *Snapshot) {
		s.Status = status
		s.FinishedAt = &finished
		s.Result = result
		s.Error = message
	})
	p.mu.Unlock()

	p.metrics.recordFinished(status)
}

// ErrorRef returns a short reference id for correlating a failure with the log
func ErrorRef() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "RB-" + strings.ToUpper(raw[:8])
}

// Get returns the snapshot of a job
func (p *Pool) Get(id string) (Snapshot, error) {
	p.Sweep()

	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[id]
	if !ok {
		return Snapshot{}, domain.ErrJobNotFound
	}
	return j.snap, nil
}

// Watch streams snapshots of a job, starting with the current one, until the
// job reaches a terminal state, ctx is done or the pool shuts down. The
// channel is closed afterwards.
func (p *Pool) Watch(ctx context.Context, id string) (<-chan Snapshot, error) {
	p.mu.Lock()
	j, ok := p.jobs[id]
	if !ok || p.closed {
		p.mu.Unlock()
		return nil, domain.ErrJobNotFound
	}
	p.wg.Add(1)
	p.mu.Unlock()

	out := make(chan Snapshot)
	go func() {
		defer p.wg.Done()
		defer close(out)
		for {
			p.mu.Lock()
			snap, changed := j.snap, j.changed
			p.mu.Unlock()

			select {
			case out <- snap:
			case <-ctx.Done():
				return
			case <-p.ctx.Done():
				return
			}
			if snap.Status.Terminal() {
				return
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Running returns the number of jobs currently running
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, j := range p.jobs {
		if j.snap.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Sweep removes expired jobs and returns how many were removed. A job expires
// TTL after it finished, or after it was created while it has not finished.
func (p *Pool) Sweep() int {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id, j := range p.jobs {
		ref := j.snap.CreatedAt
		if j.snap.FinishedAt != nil {
			ref = *j.snap.FinishedAt
		}
		if now.Sub(ref) > p.cfg.TTL {
			delete(p.jobs, id)
			removed++
		}
	}
	return removed
}

// Shutdown stops the sweeper, cancels running tasks and waits for every
// goroutine of the pool to exit or ctx to end
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	<-p.cron.Stop().Done()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("Job pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop job pool: %w", ctx.Err())
	}
}
