// Package sweep periodically removes expired resource grants.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"qazna.org/access/internal/obs"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 5 * time.Minute

// Target deletes expired grants and reports how many it removed.
type Target interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Sweeper runs Target on a fixed interval.
type Sweeper struct {
	target   Target
	interval time.Duration
	logger   *slog.Logger

	runningMu sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a sweeper. A non-positive interval falls back to DefaultInterval.
func New(target Target, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = obs.Logger()
	}
	return &Sweeper{target: target, interval: interval, logger: logger}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.target.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return n, err
	}
	obs.SweptTotal.Add(float64(n))
	if n > 0 {
		s.logger.Info("expired grants swept", "deleted", n, "duration_ms", time.Since(start).Milliseconds())
	}
	return n, nil
}

// Start launches the sweep loop in the background. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.runningMu.Unlock()
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}
