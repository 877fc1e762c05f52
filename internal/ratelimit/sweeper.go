package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically reclaims dead counters. Lookups already ignore them,
// so the sweep only bounds storage growth.
type Sweeper struct {
	mu       sync.Mutex
	limiter  *Limiter
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSweeper(limiter *Limiter, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		limiter:  limiter,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the sweep loop. It is a no-op while a loop is running.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop stops the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := s.limiter.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep rate limit counters", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("swept rate limit counters", "deleted", n)
	}
}
