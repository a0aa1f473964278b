package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner schedules the sync loops and coordinates shutdown. The first SIGINT or SIGTERM
// stops scheduling and lets each running pass finish its current item; a second signal
// cancels the running passes outright.
type Runner struct {
	cron     *cron.Cron
	registry *TaskRegistry
	logger   *log.Logger
	signals  chan os.Signal
	draining atomic.Bool

	// mu orders task admission against Stop so wg.Add never races wg.Wait.
	mu sync.Mutex
	wg sync.WaitGroup
}

// Option customizes Runner.
type Option func(*Runner)

// WithLogger overrides the [RUNNER] logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a new task runner
func NewRunner(registry *TaskRegistry, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		logger:   log.New(os.Stdout, "[RUNNER] ", log.LstdFlags),
		signals:  make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(r.logger))),
	)
	return r
}

// Draining reports whether shutdown was requested. Loops check it between items.
func (r *Runner) Draining() bool {
	return r.draining.Load()
}

// Start runs every task once, then on its schedule, until ctx ends or a signal arrives.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Println("Starting task runner...")

	hard, cancel := context.WithCancel(ctx)
	defer cancel()

	var ids []cron.EntryID
	for name, task := range r.registry.All() {
		r.logger.Printf("Registering task: %s with schedule: %s", name, task.Schedule())

		id, err := r.cron.AddFunc(task.Schedule(), func() {
			r.executeTask(hard, task)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", name, err)
		}
		ids = append(ids, id)
	}

	r.cron.Start()
	for _, id := range ids {
		// The wrapped job carries the skip-if-running guard, so an immediate pass and the
		// first scheduled one never overlap.
		job := r.cron.Entry(id).WrappedJob
		go job.Run()
	}
	r.logger.Println("Task runner started successfully")

	return r.waitForShutdown(ctx, cancel)
}

// RunOnce executes the named task a single time, outside the schedule.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	task, ok := r.registry.Get(name)
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	return r.executeTask(ctx, task)
}

// executeTask runs a single task with timeout and error handling
func (r *Runner) executeTask(ctx context.Context, task Task) error {
	r.mu.Lock()
	if r.Draining() {
		r.mu.Unlock()
		return nil
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	start := time.Now()
	err := task.Run(taskCtx)
	duration := time.Since(start)

	if err != nil {
		r.logger.Printf("Task %s failed after %v: %v", task.Name(), duration, err)
	} else {
		r.logger.Printf("Task %s completed in %v", task.Name(), duration)
	}
	return err
}

// Stop stops scheduling and waits for running tasks to finish.
func (r *Runner) Stop() {
	r.logger.Println("Stopping task runner...")
	r.mu.Lock()
	r.draining.Store(true)
	r.mu.Unlock()

	ctx := r.cron.Stop()
	r.wg.Wait()
	<-ctx.Done()

	r.logger.Println("Task runner stopped")
}

// waitForShutdown drains on the first signal and cancels the running tasks on the second.
func (r *Runner) waitForShutdown(ctx context.Context, cancel context.CancelFunc) error {
	signal.Notify(r.signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(r.signals)

	select {
	case sig := <-r.signals:
		r.logger.Printf("Received signal: %v; finishing current items (signal again to abort)", sig)
	case <-ctx.Done():
		r.logger.Println("Context cancelled")
		r.Stop()
		return ctx.Err()
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case sig := <-r.signals:
		r.logger.Printf("Received signal: %v; aborting running tasks", sig)
		cancel()
		<-stopped
	}
	return nil
}
