package escrow

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/clearhold/clearhold/internal/metrics"
)

// SweeperBatchSize bounds how many due escrows one sweep settles.
const SweeperBatchSize = 100

// Sweeper periodically auto-releases funded escrows whose time lock has
// elapsed. It is a convenience on top of the public auto-release operation,
// not the only path: anyone can still trigger auto-release directly.
type Sweeper struct {
	factory  *Factory
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a sweeper over the factory. Intervals below one second
// are raised to one second.
func NewSweeper(factory *Factory, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval < time.Second {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		factory:  factory,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go s.run()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("auto-release sweeper started", "interval", s.interval)
	for {
		select {
		case <-s.stop:
			s.logger.Info("auto-release sweeper stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Sweep runs one pass immediately and reports how many escrows it released.
func (s *Sweeper) Sweep() int {
	return s.sweep()
}

func (s *Sweeper) sweep() (released int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	due, err := s.factory.store.ListReleasable(ctx, s.factory.now(), SweeperBatchSize)
	if err != nil {
		s.logger.Error("failed to list releasable escrows", "error", err)
		return 0
	}

	for _, esc := range due {
		if _, err := s.factory.AutoRelease(ctx, esc.ID, "sweeper"); err != nil {
			// Lost races are expected; a party may have settled or
			// disputed between the list and the attempt.
			if errors.Is(err, ErrInvalidStatus) || errors.Is(err, ErrTooEarly) {
				continue
			}
			s.logger.Error("auto-release failed",
				"escrow_id", esc.ID, "order_id", esc.OrderID, "error", err)
			continue
		}
		released++
	}

	if released > 0 {
		metrics.SweeperReleasesTotal.Add(float64(released))
		s.logger.Info("sweep released escrows", "count", released, "due", len(due))
	}
	return released
}
