package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// step is one named unit of startup work with its matching teardown.
// Either function may be nil.
type step struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// lifecycle runs steps in registration order and stops them in reverse.
type lifecycle struct {
	mu      sync.Mutex
	logger  *slog.Logger
	steps   []step
	started int
	running bool
}

func newLifecycle(logger *slog.Logger) *lifecycle {
	return &lifecycle{logger: logger}
}

// add registers a step.
func (l *lifecycle) add(name string, start, stop func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, step{name: name, start: start, stop: stop})
}

// component is something that can be started and stopped.
type component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// addComponent registers c under name.
func (l *lifecycle) addComponent(name string, c component) {
	l.add(name, c.Start, c.Stop)
}

// addCloser registers a closer run on shutdown.
func (l *lifecycle) addCloser(name string, fn func() error) {
	l.add(name, nil, func(context.Context) error { return fn() })
}

// Start runs all start functions. On failure the steps already started
// are stopped in reverse order.
func (l *lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("lifecycle already started")
	}

	for i, s := range l.steps {
		if s.start != nil {
			if err := s.start(ctx); err != nil {
				l.stopFrom(ctx, i-1, true)
				return fmt.Errorf("starting %s: %w", s.name, err)
			}
		}
		l.started = i + 1
	}

	l.running = true
	return nil
}

// Stop runs stop functions in reverse order. Stopping a lifecycle that is
// not running is a no-op.
func (l *lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return nil
	}
	err := l.stopFrom(ctx, l.started-1, false)
	l.running = false
	return err
}

// isRunning reports whether Start has completed.
func (l *lifecycle) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *lifecycle) stopFrom(ctx context.Context, last int, rollback bool) error {
	var errs []error
	for i := last; i >= 0; i-- {
		s := l.steps[i]
		if s.stop == nil {
			continue
		}
		if err := s.stop(ctx); err != nil {
			if rollback {
				l.logger.Warn("lifecycle rollback: stop failed", "step", s.name, "error", err)
			}
			errs = append(errs, fmt.Errorf("stopping %s: %w", s.name, err))
		}
	}
	l.started = 0
	return errors.Join(errs...)
}
