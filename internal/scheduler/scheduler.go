// Package scheduler implements spec.md section 4.6: a cooperative
// periodic runner over a fixed set of named tasks, each with its own
// interval and timeout, serialized through a bounded worker pool (default
// one worker, which guarantees global serialization of writes to
// indexer_state).
//
// Grounded in the teacher's node/cn daemon loop pattern (a set of
// goroutines each driven by its own time.Ticker, coordinated through a
// shared stop channel and sync.WaitGroup), generalized here to
// configuration-driven tasks ticking on robfig/cron/v3 schedules instead
// of the teacher's hardcoded intervals.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/money-on-chain/stable-indexer/internal/logger"
	"github.com/money-on-chain/stable-indexer/internal/metrics"
)

var log = logger.NewModuleLogger("scheduler")

// TaskFunc is one scheduled unit of work; it must itself respect ctx
// cancellation so the scheduler can enforce a timeout.
type TaskFunc func(ctx context.Context) error

// Task is one named, independently scheduled unit of work (spec.md
// section 4.6). Interval/Timeout are seconds, per config.tasks.
type Task struct {
	Name            string
	IntervalSeconds int64
	TimeoutSeconds  int64
	Run             TaskFunc
}

// Scheduler runs a fixed set of Tasks on a shared robfig/cron instance,
// bounding concurrency to MaxWorkers (spec.md section 5's worker model).
type Scheduler struct {
	cron       *cron.Cron
	maxWorkers int
	sem        chan struct{}

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func New(maxWorkers int) *Scheduler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		maxWorkers: maxWorkers,
		sem:        make(chan struct{}, maxWorkers),
	}
}

// AddTask schedules t to run every IntervalSeconds, starting immediately
// on registration is not guaranteed - robfig/cron only fires on its next
// matching tick, so the entrypoint is expected to invoke each task once
// synchronously at startup if an immediate first pass is desired.
func (s *Scheduler) AddTask(t Task) error {
	spec := fmt.Sprintf("@every %ds", t.IntervalSeconds)
	_, err := s.cron.AddFunc(spec, func() {
		s.runOnce(t)
	})
	return err
}

func (s *Scheduler) runOnce(t Task) {
	s.sem <- struct{}{}
	s.wg.Add(1)
	defer func() {
		<-s.sem
		s.wg.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(t.TimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	err := runWithTimeout(ctx, t.Run)
	elapsed := time.Since(start)
	metrics.SchedulerTaskDurationMs(t.Name).Update(elapsed.Milliseconds())

	if ctx.Err() == context.DeadlineExceeded {
		metrics.SchedulerTaskTimeouts(t.Name).Inc(1)
		log.Warn("task timed out", "task", t.Name, "timeout_seconds", t.TimeoutSeconds)
		return
	}
	if err != nil {
		metrics.SchedulerTaskErrors(t.Name).Inc(1)
		log.Error("task failed", "task", t.Name, "err", err.Error())
		return
	}
	log.Debug("task completed", "task", t.Name, "elapsed_ms", elapsed.Milliseconds())
}

// runWithTimeout runs fn in its own goroutine so a task that ignores ctx
// cancellation still lets the scheduler move on once the timeout fires;
// the goroutine is abandoned (not killed) in that case, matching Go's
// cooperative cancellation model.
func runWithTimeout(ctx context.Context, fn TaskFunc) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		done <- fn(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins the cron scheduler loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
}

// Stop halts the cron scheduler and blocks until in-flight tasks finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
