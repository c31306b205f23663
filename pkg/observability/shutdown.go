package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ShutdownFunc releases one resource
type ShutdownFunc func(context.Context) error

// Shutdown runs registered cleanup in reverse registration order, so
// resources are released in the opposite order they were acquired.
type Shutdown struct {
	logger *Logger

	mu    sync.Mutex
	funcs []namedShutdown
}

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// NewShutdown creates an empty shutdown sequence
func NewShutdown(logger *Logger) *Shutdown {
	return &Shutdown{logger: logger}
}

// Register queues fn under name
func (s *Shutdown) Register(name string, fn ShutdownFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs = append(s.funcs, namedShutdown{name: name, fn: fn})
}

// Run executes every registered func, last registered first. Failures are
// logged and joined; a failure does not stop later funcs from running.
func (s *Shutdown) Run(ctx context.Context) error {
	s.mu.Lock()
	funcs := s.funcs
	s.funcs = nil
	s.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]
		if err := f.fn(ctx); err != nil {
			s.logger.WithError(err).WithField("component", f.name).Error("Shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		s.logger.WithField("component", f.name).Info("Shutdown step complete")
	}
	return errors.Join(errs...)
}
