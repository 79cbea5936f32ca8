// Package supervisor runs the long-lived tasks of a pipeline process. A task
// that returns an error or panics is logged and relaunched after a backoff
// delay. Cancelling the context stops every task.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is a long-running unit of work. It returns nil when ctx is done.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Supervisor struct {
	logger       *logger.Logger
	tasks        []Task
	initialDelay time.Duration
	maxDelay     time.Duration
	onRestart    func(name string)
}

type Option func(*Supervisor)

// WithDelays sets the restart backoff window.
func WithDelays(initial, max time.Duration) Option {
	return func(s *Supervisor) {
		s.initialDelay = initial
		s.maxDelay = max
	}
}

// WithRestartHook is called every time a task is relaunched.
func WithRestartHook(fn func(name string)) Option {
	return func(s *Supervisor) {
		s.onRestart = fn
	}
}

func New(log *logger.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:       log.Named("supervisor"),
		initialDelay: 250 * time.Millisecond,
		maxDelay:     30 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Add registers tasks. Must be called before Run.
func (s *Supervisor) Add(tasks ...Task) {
	s.tasks = append(s.tasks, tasks...)
}

// Run starts every task and blocks until ctx is done and all tasks returned.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, task := range s.tasks {
		g.Go(func() error {
			s.supervise(gctx, task)

			return nil
		})
	}

	return g.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, task Task) {
	b := s.newBackOff()
	log := s.logger.With(zap.String("task", task.Name))

	for {
		started := time.Now()
		err := runSafely(ctx, task)

		if ctx.Err() != nil {
			log.Info("Task stopped")

			return
		}

		// a task that ran for a while starts over from the shortest delay
		if time.Since(started) > s.maxDelay {
			b.Reset()
		}

		delay := b.NextBackOff()

		switch {
		case err == nil:
			log.Warn("Task returned early, restarting", zap.Duration("delay", delay))
		case errors.HasCode(err, errors.ErrCodeUpstreamClosed):
			log.Info("Upstream closed, restarting", zap.Duration("delay", delay), zap.Error(err))
		default:
			log.Error("Task failed, restarting", zap.Duration("delay", delay), zap.Error(err))
		}

		if s.onRestart != nil {
			s.onRestart(task.Name)
		}

		if !Sleep(ctx, delay) {
			log.Info("Task stopped")

			return
		}
	}
}

func (s *Supervisor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialDelay
	b.MaxInterval = s.maxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

func runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodeDomainFault, "task %s panicked: %v", task.Name, r)
		}
	}()

	return task.Run(ctx)
}

// Sleep waits for d or until ctx is done. It reports whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Every calls fn immediately and then every interval until ctx is done.
// Errors from fn are logged and do not stop the loop.
func Every(ctx context.Context, log *logger.Logger, name string, interval time.Duration, fn func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Warn(fmt.Sprintf("%s failed", name), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
