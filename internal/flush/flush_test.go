package flush_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth-platform/savecache-service/internal/cachemanager"
	"github.com/auth-platform/savecache-service/internal/flush"
	"github.com/auth-platform/savecache-service/internal/observability"
	"github.com/auth-platform/savecache-service/internal/save"
	"github.com/auth-platform/savecache-service/internal/service"
	"github.com/auth-platform/savecache-service/internal/store"
	fakes "github.com/auth-platform/savecache-service/internal/testutil"
)

type kindSetup[T save.Aggregate[T]] struct {
	repo    *fakes.Repository[T]
	cache   *store.Memory[T]
	command *service.CommandService[T]
	drainer *flush.KindDrainer[T]
}

func setupKind[T save.Aggregate[T]](flag *cachemanager.Manager, metrics *observability.Metrics) *kindSetup[T] {
	repo := fakes.NewRepository[T]()
	cache := store.NewMemory[T]()
	query := service.NewQueryService[T](repo, cache, flag)
	command := service.NewCommandService[T](repo, cache, query, flag)
	return &kindSetup[T]{
		repo:    repo,
		cache:   cache,
		command: command,
		drainer: flush.NewDrainer[T](cache, repo, command,
			flush.WithConcurrency(3),
			flush.WithDrainMetrics(metrics),
		),
	}
}

func currency(g, d, e, a int64) save.Currency {
	return save.Currency{Gold: save.Int(g), Diamond: save.Int(d), Emerald: save.Int(e), Amethyst: save.Int(a)}
}

func TestDrainPersistsEveryEntryOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("N cached entries yield N persists and an empty cache", prop.ForAll(
		func(n int) bool {
			ctx := context.Background()
			k := setupKind[save.Currency](cachemanager.New(true), nil)
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("s-%d", i)
				k.repo.Seed(id, currency(0, 0, 0, 0))
				if err := k.cache.Set(ctx, id, currency(int64(i), 1, 2, 3)); err != nil {
					return false
				}
			}

			report, err := k.drainer.Drain(ctx)
			if err != nil || !report.OK() {
				return false
			}
			if k.repo.Calls().Update != n || report.Persisted != n || report.Evicted != n {
				return false
			}
			for i := 0; i < n; i++ {
				row, _ := k.repo.Row(fmt.Sprintf("s-%d", i))
				if !row.IsComplete() || *row.Gold != int64(i) {
					return false
				}
			}
			left, _ := k.cache.Len(ctx)
			return left == 0
		},
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

func TestDrainEmptyCacheTouchesNothing(t *testing.T) {
	k := setupKind[save.Stage](cachemanager.New(true), nil)

	report, err := k.drainer.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
	assert.Zero(t, k.repo.Calls().Total())
}

func TestDrainIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	k := setupKind[save.Currency](cachemanager.New(true), metrics)

	for _, id := range []string{"a", "b", "c"} {
		k.repo.Seed(id, currency(0, 0, 0, 0))
		require.NoError(t, k.cache.Set(ctx, id, currency(5, 5, 5, 5)))
	}
	boom := errors.New("deadlock detected")
	k.repo.FailOn("b", boom)

	report, err := k.drainer.Drain(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Persisted)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "b", report.Failures[0].SaveID)
	assert.ErrorIs(t, report.Failures[0].Err, boom)

	_, stillCached, _ := k.cache.Get(ctx, "b")
	assert.True(t, stillCached, "failed entry stays for the next pass")
	n, _ := k.cache.Len(ctx)
	assert.Equal(t, 1, n)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.FlushPersistedTotal.WithLabelValues("currency")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FlushFailedTotal.WithLabelValues("currency")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PendingEntries.WithLabelValues("currency")))
}

func TestDrainKeepsEntryRewrittenDuringPersist(t *testing.T) {
	ctx := context.Background()
	flag := cachemanager.New(true)
	k := setupKind[save.Currency](flag, nil)
	k.repo.Seed("s-1", currency(0, 0, 0, 0))
	require.NoError(t, k.command.UpdateCache(ctx, "s-1", save.Currency{Gold: save.Int(1)}))

	var once sync.Once
	k.repo.OnUpdate(func(saveID string) {
		once.Do(func() {
			assert.NoError(t, k.command.UpdateCache(ctx, saveID, save.Currency{Gold: save.Int(2)}))
		})
	})

	report, err := k.drainer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Persisted)
	assert.Zero(t, report.Evicted)

	cached, found, _ := k.cache.Get(ctx, "s-1")
	require.True(t, found, "write made during the pass must survive")
	assert.Equal(t, int64(2), *cached.Gold)

	report, err = k.drainer.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evicted)
	row, _ := k.repo.Row("s-1")
	assert.Equal(t, int64(2), *row.Gold)
}

// blockFirstUpdate parks the first repository write of k until release is
// closed and returns a channel closed once that write has started.
func blockFirstUpdate[T save.Aggregate[T]](k *kindSetup[T], release <-chan struct{}) <-chan struct{} {
	entered := make(chan struct{})
	var once sync.Once
	k.repo.OnUpdate(func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	return entered
}

func TestOverlappingDrainsKeepNewestWrite(t *testing.T) {
	ctx := context.Background()
	k := setupKind[save.Currency](cachemanager.New(true), nil)
	k.repo.Seed("s-1", currency(0, 0, 0, 0))
	require.NoError(t, k.command.UpdateCache(ctx, "s-1", save.Currency{Gold: save.Int(1)}))

	release := make(chan struct{})
	entered := blockFirstUpdate(k, release)

	first := make(chan error, 1)
	go func() {
		_, err := k.drainer.Drain(ctx)
		first <- err
	}()
	<-entered

	require.NoError(t, k.command.UpdateCache(ctx, "s-1", save.Currency{Gold: save.Int(2)}))

	second := make(chan error, 1)
	go func() {
		_, err := k.drainer.Drain(ctx)
		second <- err
	}()
	select {
	case <-second:
		t.Fatal("second pass finished while the first was still persisting")
	case <-time.After(50 * time.Millisecond):
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := k.drainer.Drain(canceled)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	row, _ := k.repo.Row("s-1")
	assert.Equal(t, int64(2), *row.Gold)
	n, _ := k.cache.Len(ctx)
	assert.Zero(t, n)
}

func TestDrainersSharingStoreSkipEntryBeingCommitted(t *testing.T) {
	ctx := context.Background()
	k := setupKind[save.Currency](cachemanager.New(true), nil)
	other := flush.NewDrainer[save.Currency](k.cache, k.repo, k.command)
	k.repo.Seed("s-1", currency(0, 0, 0, 0))
	require.NoError(t, k.command.UpdateCache(ctx, "s-1", save.Currency{Gold: save.Int(1)}))

	release := make(chan struct{})
	entered := blockFirstUpdate(k, release)

	first := make(chan error, 1)
	go func() {
		_, err := k.drainer.Drain(ctx)
		first <- err
	}()
	<-entered

	require.NoError(t, k.command.UpdateCache(ctx, "s-1", save.Currency{Gold: save.Int(2)}))

	report, err := other.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Zero(t, report.Persisted, "entry under commit elsewhere is skipped")

	close(release)
	require.NoError(t, <-first)

	cached, found, _ := k.cache.Get(ctx, "s-1")
	require.True(t, found, "newer write stays pending")
	assert.Equal(t, int64(2), *cached.Gold)

	report, err = other.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evicted)
	row, _ := k.repo.Row("s-1")
	assert.Equal(t, int64(2), *row.Gold)
}

func TestDrainCompletesPartialEntries(t *testing.T) {
	ctx := context.Background()
	k := setupKind[save.Currency](cachemanager.New(true), nil)
	k.repo.Seed("s-1", currency(1, 2, 3, 4))
	require.NoError(t, k.cache.Set(ctx, "s-1", save.Currency{Emerald: save.Int(30)}))

	_, err := k.drainer.Drain(ctx)
	require.NoError(t, err)

	row, _ := k.repo.Row("s-1")
	assert.Equal(t, currency(1, 2, 30, 4), row)
}

func TestDrainDiscardsOrphans(t *testing.T) {
	ctx := context.Background()
	k := setupKind[save.Currency](cachemanager.New(true), nil)
	require.NoError(t, k.cache.Set(ctx, "gone", currency(1, 1, 1, 1)))

	report, err := k.drainer.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.True(t, save.IsNotFound(report.Failures[0].Err))

	n, _ := k.cache.Len(ctx)
	assert.Zero(t, n)
}

func newService(flag *cachemanager.Manager) (*flush.Service, *kindSetup[save.Currency], *kindSetup[save.Stage]) {
	cu := setupKind[save.Currency](flag, nil)
	st := setupKind[save.Stage](flag, nil)
	return flush.NewService(observability.NopLogger(), cu.drainer, st.drainer), cu, st
}

func TestFlushAllDrainsEveryKind(t *testing.T) {
	ctx := context.Background()
	svc, cu, st := newService(cachemanager.New(true))
	cu.repo.Seed("s-1", currency(0, 0, 0, 0))
	st.repo.Seed("s-1", save.Stage{}.Complete())
	require.NoError(t, cu.cache.Set(ctx, "s-1", currency(1, 1, 1, 1)))
	require.NoError(t, st.cache.Set(ctx, "s-1", save.Stage{Wave: save.Int(4)}.Complete()))

	var seen atomic.Int32
	svc.OnComplete(func(_ context.Context, s flush.Summary) { seen.Store(int32(s.Persisted())) })

	summary, err := svc.FlushAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Persisted())
	assert.True(t, summary.OK())
	assert.Equal(t, int32(2), seen.Load())

	r, ok := summary.Report(save.KindStage)
	require.True(t, ok)
	assert.Equal(t, 1, r.Persisted)

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[save.Kind]int{save.KindCurrency: 0, save.KindStage: 0}, pending)
	assert.Equal(t, []save.Kind{save.KindCurrency, save.KindStage}, svc.Kinds())
}

func TestFlushUnknownKind(t *testing.T) {
	svc, _, _ := newService(cachemanager.New(true))
	_, err := svc.Flush(context.Background(), save.KindMetadata)
	assert.True(t, save.IsInvalidArgument(err))
}

func TestControllerDisableDrainsSynchronously(t *testing.T) {
	ctx := context.Background()
	flag := cachemanager.New(true)
	svc, cu, _ := newService(flag)
	cu.repo.Seed("s-1", currency(0, 0, 0, 0))
	require.NoError(t, cu.command.UpdateCache(ctx, "s-1", save.Currency{Gold: save.Int(9)}))

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	ctrl := flush.NewController(flag, svc, metrics, observability.NopLogger())
	var toggles []flush.Toggle
	ctrl.OnToggle(func(_ context.Context, t flush.Toggle) { toggles = append(toggles, t) })

	toggle, err := ctrl.SetEnabled(ctx, false)
	require.NoError(t, err)

	assert.True(t, toggle.Previous)
	assert.False(t, toggle.Enabled)
	require.NotNil(t, toggle.Flush)
	assert.Equal(t, 1, toggle.Flush.Persisted())
	assert.False(t, flag.IsEnabled())
	row, _ := cu.repo.Row("s-1")
	assert.Equal(t, int64(9), *row.Gold)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.CacheEnabled))
	assert.Len(t, toggles, 1)

	// updates after the flip are dropped
	require.NoError(t, cu.command.UpdateCache(ctx, "s-1", save.Currency{Gold: save.Int(100)}))
	n, _ := cu.cache.Len(ctx)
	assert.Zero(t, n)
}

func TestControllerEnableDoesNotFlush(t *testing.T) {
	ctx := context.Background()
	flag := cachemanager.New(false)
	svc, cu, _ := newService(flag)
	ctrl := flush.NewController(flag, svc, nil, nil)

	toggle, err := ctrl.ApplyRemote(ctx, true)
	require.NoError(t, err)
	assert.Nil(t, toggle.Flush)
	assert.True(t, ctrl.IsEnabled())
	assert.Zero(t, cu.repo.Calls().Total())

	toggle, err = ctrl.SetEnabled(ctx, true)
	require.NoError(t, err)
	assert.True(t, toggle.Previous)
	assert.Nil(t, toggle.Flush)
}

type countingFlusher struct {
	calls atomic.Int32
}

func (c *countingFlusher) FlushAll(context.Context) (flush.Summary, error) {
	c.calls.Add(1)
	return flush.Summary{}, nil
}

func TestSchedulerTicksAndFinalFlush(t *testing.T) {
	f := &countingFlusher{}
	s := flush.NewScheduler(f, 10*time.Millisecond, time.Second, observability.NopLogger())
	s.Start()
	s.Start()

	assert.Eventually(t, func() bool { return f.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	before := f.calls.Load()
	require.NoError(t, s.Stop(ctx))
	assert.GreaterOrEqual(t, f.calls.Load(), before+1)

	require.NoError(t, s.Stop(ctx))
}
