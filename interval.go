package systest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunLoop drives the registered run callback, either once or on a fixed
// interval until stopped.
type RunLoop interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(func() error)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
}

// IntervalRunLoop implements the RunLoop interface. A non-positive
// interval means run-once: the callback executes a single time and its
// error is returned from Start directly.
type IntervalRunLoop struct {
	interval time.Duration
	logger   log.Logger
	callback func() error

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewIntervalRunLoop creates a new IntervalRunLoop.
func NewIntervalRunLoop(interval time.Duration, logger log.Logger) *IntervalRunLoop {
	return &IntervalRunLoop{
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// RegisterCallback registers the callback to be called when a run is due.
func (s *IntervalRunLoop) RegisterCallback(callback func() error) {
	s.callback = callback
}

// RunOnce reports whether the loop executes the callback a single time.
func (s *IntervalRunLoop) RunOnce() bool {
	return s.interval <= 0
}

// Start runs the callback immediately, returning its error. In interval
// mode a successful first run then hands off to a goroutine that repeats
// the callback until Stop or context cancellation.
func (s *IntervalRunLoop) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting run loop")
	}

	s.done = make(chan struct{})
	s.running.Store(true)

	if s.RunOnce() {
		s.logger.Info("Starting run loop in run-once mode")
		return s.callback()
	}

	s.logger.Info("Starting run loop in continuous mode", "interval", s.interval)
	if err := s.callback(); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.runPeriodic(ctx)
	return nil
}

// runPeriodic repeats the callback on the interval. Per-iteration errors
// are logged, not fatal; the loop only exits on Stop or cancellation.
func (s *IntervalRunLoop) runPeriodic(ctx context.Context) {
	defer s.wg.Done()
	s.logger.Debug("Starting periodic run goroutine", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.running.Load() {
				s.logger.Debug("Service stopped, exiting periodic run goroutine")
				return
			}
			s.logger.Info("Running periodic suite")
			if err := s.callback(); err != nil {
				s.logger.Error("Error running periodic suite", "error", err)
			}

		case <-s.done:
			s.logger.Debug("Done signal received, stopping periodic run goroutine")
			return

		case <-ctx.Done():
			s.logger.Debug("Context canceled, stopping periodic run goroutine")
			s.running.Store(false)
			return
		}
	}
}

// Stop stops the run loop.
func (s *IntervalRunLoop) Stop() error {
	// Check if we're already stopped
	if !s.running.Load() {
		s.logger.Debug("Run loop already stopped, nothing to do")
		return nil
	}

	// Update running state first to prevent new runs
	s.running.Store(false)

	// Signal goroutines to exit
	s.logger.Debug("Sending done signal to goroutines")
	close(s.done)

	return nil
}

// Stopped returns true if the run loop is stopped.
func (s *IntervalRunLoop) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
func (s *IntervalRunLoop) WaitForShutdown(ctx context.Context) error {
	s.logger.Debug("Waiting for all goroutines to terminate")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
