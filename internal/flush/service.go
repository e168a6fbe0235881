package flush

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auth-platform/savecache-service/internal/observability"
	"github.com/auth-platform/savecache-service/internal/save"
)

// Listener observes completed FlushAll passes.
type Listener func(ctx context.Context, summary Summary)

// Service drains every registered kind.
type Service struct {
	drainers  map[save.Kind]Drainer
	order     []save.Kind
	logger    *slog.Logger
	mu        sync.Mutex
	listeners []Listener
}

// NewService creates a flush service over drainers, keyed by their kind.
func NewService(logger *slog.Logger, drainers ...Drainer) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Service{
		drainers: make(map[save.Kind]Drainer, len(drainers)),
		logger:   logger,
	}
	for _, d := range drainers {
		if _, dup := s.drainers[d.Kind()]; !dup {
			s.order = append(s.order, d.Kind())
		}
		s.drainers[d.Kind()] = d
	}
	return s
}

// OnComplete registers a listener called after every FlushAll.
func (s *Service) OnComplete(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Kinds returns the registered kinds in registration order.
func (s *Service) Kinds() []save.Kind {
	return append([]save.Kind(nil), s.order...)
}

// Flush drains one kind.
func (s *Service) Flush(ctx context.Context, kind save.Kind) (Report, error) {
	d, ok := s.drainers[kind]
	if !ok {
		return Report{Kind: kind}, save.Errorf(save.CodeInvalidArgument, "no drainer for kind %q", kind)
	}
	return d.Drain(ctx)
}

// FlushAll drains every kind concurrently. A kind whose snapshot fails is
// logged and reported with no attempts; other kinds still drain.
func (s *Service) FlushAll(ctx context.Context) (Summary, error) {
	start := time.Now()
	reports := make([]Report, len(s.order))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range s.order {
		d := s.drainers[kind]
		g.Go(func() error {
			r, err := d.Drain(gctx)
			if err != nil {
				s.logger.ErrorContext(gctx, "kind drain aborted",
					slog.String("kind", kind.String()),
					slog.String("error", err.Error()),
				)
			}
			reports[i] = r
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Reports: reports, Duration: time.Since(start)}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	s.logger.InfoContext(ctx, "flush completed",
		slog.Int("persisted", summary.Persisted()),
		slog.Int("failed", summary.Failed()),
		slog.Duration("duration", summary.Duration),
	)

	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(ctx, summary)
	}
	return summary, nil
}

// Pending returns the number of cached entries per kind.
func (s *Service) Pending(ctx context.Context) (map[save.Kind]int, error) {
	out := make(map[save.Kind]int, len(s.order))
	for _, kind := range s.order {
		n, err := s.drainers[kind].Pending(ctx)
		if err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, nil
}
