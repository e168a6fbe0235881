package flush

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auth-platform/savecache-service/internal/observability"
)

// Flusher drains every kind.
type Flusher interface {
	FlushAll(ctx context.Context) (Summary, error)
}

// Scheduler runs FlushAll on a fixed interval, whatever the cache flag says,
// so entries written just before a disable are still drained.
type Scheduler struct {
	flusher  Flusher
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(flusher Flusher, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = interval
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Scheduler{
		flusher:  flusher,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start launches the ticker goroutine. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.loop(s.stop, s.done)
	s.logger.Info("flush scheduler started", slog.Duration("interval", s.interval))
}

// Stop halts the ticker and runs one final flush with ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.stop)
	done := s.done
	s.running = false
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	summary, err := s.flusher.FlushAll(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("final flush completed", slog.Int("persisted", summary.Persisted()))
	return nil
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-stop:
			return
		}
	}
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.flusher.FlushAll(ctx); err != nil {
		s.logger.Error("scheduled flush failed", slog.String("error", err.Error()))
	}
}
