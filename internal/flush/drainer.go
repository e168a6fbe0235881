// Package flush drains pending cached aggregates to their repositories,
// on a schedule and when the cache is switched off.
package flush

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auth-platform/savecache-service/internal/observability"
	"github.com/auth-platform/savecache-service/internal/save"
	"github.com/auth-platform/savecache-service/internal/service"
	"github.com/auth-platform/savecache-service/internal/store"
)

// Drainer drains the cache of one aggregate kind.
type Drainer interface {
	Kind() save.Kind
	Drain(ctx context.Context) (Report, error)
	Pending(ctx context.Context) (int, error)
}

// KindDrainer persists every cached entry of one kind and evicts the
// entries that were not rewritten meanwhile. Passes of one drainer run one
// at a time; entries shared with other instances are guarded by the store's
// commit lease.
type KindDrainer[T save.Aggregate[T]] struct {
	pass        chan struct{}
	kind        save.Kind
	cache       store.Store[T]
	repo        save.Repository[T]
	command     *service.CommandService[T]
	concurrency int
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
}

// DrainerOption configures a KindDrainer.
type DrainerOption func(*drainerOptions)

type drainerOptions struct {
	concurrency int
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
}

// WithConcurrency bounds concurrent persists of one kind.
func WithConcurrency(n int) DrainerOption {
	return func(o *drainerOptions) { o.concurrency = n }
}

// WithDrainLogger sets the logger.
func WithDrainLogger(l *slog.Logger) DrainerOption {
	return func(o *drainerOptions) { o.logger = l }
}

// WithDrainMetrics sets the metrics sink.
func WithDrainMetrics(m *observability.Metrics) DrainerOption {
	return func(o *drainerOptions) { o.metrics = m }
}

// WithDrainTracer sets the tracer.
func WithDrainTracer(t *observability.Tracer) DrainerOption {
	return func(o *drainerOptions) { o.tracer = t }
}

// NewDrainer creates a drainer. repo is read only to complete partial
// entries before they are persisted.
func NewDrainer[T save.Aggregate[T]](cache store.Store[T], repo save.Repository[T], command *service.CommandService[T], opts ...DrainerOption) *KindDrainer[T] {
	o := drainerOptions{concurrency: 4}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	if o.logger == nil {
		o.logger = observability.NopLogger()
	}
	if o.tracer == nil {
		o.tracer = observability.NewTracer("savecache")
	}
	var zero T
	return &KindDrainer[T]{
		pass:        make(chan struct{}, 1),
		kind:        zero.Kind(),
		cache:       cache,
		repo:        repo,
		command:     command,
		concurrency: o.concurrency,
		logger:      o.logger.With(slog.String("kind", zero.Kind().String())),
		metrics:     o.metrics,
		tracer:      o.tracer,
	}
}

func (d *KindDrainer[T]) Kind() save.Kind {
	return d.kind
}

func (d *KindDrainer[T]) Pending(ctx context.Context) (int, error) {
	return d.cache.Len(ctx)
}

// Drain persists a snapshot of the cache. It waits for a running pass of
// the same kind to finish first. A failed entry is recorded in the report
// and stays cached for the next pass; the returned error is non-nil only
// when the snapshot itself cannot be taken or ctx ends while waiting.
func (d *KindDrainer[T]) Drain(ctx context.Context) (Report, error) {
	report := Report{Kind: d.kind}
	select {
	case d.pass <- struct{}{}:
	case <-ctx.Done():
		return report, ctx.Err()
	}
	defer func() { <-d.pass }()

	start := time.Now()

	ctx, span := d.tracer.StartFlush(ctx, d.kind.String())
	defer span.End()

	snapshot, err := d.cache.GetAll(ctx)
	if err != nil {
		d.logger.ErrorContext(ctx, "flush snapshot failed", slog.String("error", err.Error()))
		observability.RecordError(span, err)
		return report, err
	}
	if len(snapshot) == 0 {
		d.observe(ctx, &report, start)
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for id, entry := range snapshot {
		g.Go(func() error {
			persisted, evicted, err := d.drainOne(gctx, id, entry)
			mu.Lock()
			defer mu.Unlock()
			report.Attempted++
			if err != nil {
				report.fail(id, err)
				return nil
			}
			if persisted {
				report.Persisted++
			}
			if evicted {
				report.Evicted++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.sortFailures()
	d.observe(ctx, &report, start)
	if !report.OK() {
		d.logger.WarnContext(ctx, "flush finished with failures",
			slog.Int("attempted", report.Attempted),
			slog.Int("failed", len(report.Failures)),
		)
	}
	return report, nil
}

func (d *KindDrainer[T]) drainOne(ctx context.Context, saveID string, entry store.Entry[T]) (persisted, evicted bool, err error) {
	res, err := d.cache.Commit(ctx, saveID, entry.Revision, func(ctx context.Context) error {
		value := entry.Value
		if !value.IsComplete() {
			row, err := d.repo.FindByID(ctx, saveID)
			if err != nil {
				return err
			}
			value = row.Merge(value)
		}
		return d.command.Persist(ctx, saveID, value)
	})
	switch {
	case err != nil && !res.Committed:
		d.logger.ErrorContext(ctx, "persist failed",
			slog.String("save_id", saveID),
			slog.String("error", err.Error()),
		)
		return false, d.dropOrphan(ctx, saveID, entry, err), err
	case err != nil:
		// persisted; the entry is written again next pass
		d.logger.WarnContext(ctx, "evict after persist failed",
			slog.String("save_id", saveID),
			slog.String("error", err.Error()),
		)
		return true, false, nil
	case !res.Committed:
		d.logger.DebugContext(ctx, "entry committed elsewhere or rewritten, skipped", slog.String("save_id", saveID))
		return false, false, nil
	case !res.Evicted:
		d.logger.DebugContext(ctx, "entry rewritten during flush, kept", slog.String("save_id", saveID))
	}
	return true, res.Evicted, nil
}

// dropOrphan evicts an entry whose repository row no longer exists.
func (d *KindDrainer[T]) dropOrphan(ctx context.Context, saveID string, entry store.Entry[T], cause error) bool {
	if !save.IsNotFound(cause) {
		return false
	}
	evicted, err := d.cache.Evict(ctx, saveID, entry.Revision)
	if err != nil {
		return false
	}
	if evicted {
		d.logger.WarnContext(ctx, "discarded cached entry of deleted save", slog.String("save_id", saveID))
	}
	return evicted
}

func (d *KindDrainer[T]) observe(ctx context.Context, report *Report, start time.Time) {
	report.Duration = time.Since(start)
	if d.metrics == nil {
		return
	}
	kind := d.kind.String()
	d.metrics.FlushDurationSeconds.WithLabelValues(kind).Observe(report.Duration.Seconds())
	d.metrics.FlushPersistedTotal.WithLabelValues(kind).Add(float64(report.Persisted))
	d.metrics.FlushFailedTotal.WithLabelValues(kind).Add(float64(len(report.Failures)))
	if n, err := d.cache.Len(ctx); err == nil {
		d.metrics.PendingEntries.WithLabelValues(kind).Set(float64(n))
	}
}
