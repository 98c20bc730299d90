// Package scheduler runs named periodic tasks and owns their shutdown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/incident-escalator/internal/pkg/ctxlog"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Task is one iteration of a periodic loop. It should return promptly once ctx is cancelled.
type Task func(ctx context.Context)

// cronLogger adapts slog.Logger to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Scheduler runs each task once at start and then at a fixed interval.
// Runs of the same task never overlap; a run that is still busy when the
// next one is due causes that run to be skipped.
type Scheduler struct {
	logger *slog.Logger
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries []cron.EntryID
	started bool
	initial sync.WaitGroup
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger.With("component", "scheduler")}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTask registers a task. Intervals are rounded to whole seconds, minimum one second.
func (s *Scheduler) AddTask(name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}

	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.run(name, task)
	}))
	s.entries = append(s.entries, id)

	s.logger.Info("task registered", "task", name, "interval", interval)
	return nil
}

// Start runs every task immediately and then on its interval.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	for _, id := range s.entries {
		job := s.cron.Entry(id).WrappedJob
		s.initial.Add(1)
		go func() {
			defer s.initial.Done()
			job.Run()
		}()
	}
	s.cron.Start()
}

// Stop signals shutdown to running tasks through their context and waits until
// they return or ctx expires. Tasks observe the signal between items.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.initial.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running tasks: %w", ctx.Err())
	}
}

func (s *Scheduler) run(name string, task Task) {
	if s.ctx.Err() != nil {
		return
	}

	ctx, logger := ctxlog.With(ctxlog.WithLogger(s.ctx, s.logger), "task", name, "run_id", uuid.NewString())

	start := time.Now()
	task(ctx)
	duration := time.Since(start)

	recordRun(name, duration)
	logger.Debug("task run finished", "duration", duration)
}
