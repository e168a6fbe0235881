package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/auth-platform/savecache-service/internal/cachemanager"
	"github.com/auth-platform/savecache-service/internal/observability"
	"github.com/auth-platform/savecache-service/internal/save"
	"github.com/auth-platform/savecache-service/internal/service"
	"github.com/auth-platform/savecache-service/internal/store"
	fakes "github.com/auth-platform/savecache-service/internal/testutil"
)

type harness[T save.Aggregate[T]] struct {
	repo    *fakes.Repository[T]
	cache   *store.Memory[T]
	flag    *cachemanager.Manager
	query   *service.QueryService[T]
	command *service.CommandService[T]
	metrics *observability.Metrics
}

func newHarness[T save.Aggregate[T]](enabled bool) *harness[T] {
	h := &harness[T]{
		repo:    fakes.NewRepository[T](),
		cache:   store.NewMemory[T](),
		flag:    cachemanager.New(enabled),
		metrics: observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	opts := []service.Option{service.WithMetrics(h.metrics), service.WithLogger(observability.NopLogger())}
	h.query = service.NewQueryService[T](h.repo, h.cache, h.flag, opts...)
	h.command = service.NewCommandService[T](h.repo, h.cache, h.query, h.flag, opts...)
	return h
}

func fullCharacteristics(a, cc, cd, hp, res int64) save.Characteristics {
	return save.Characteristics{
		Attack: save.Int(a), CritChance: save.Int(cc), CritDamage: save.Int(cd),
		Health: save.Int(hp), Resistance: save.Int(res),
	}
}

func fullCurrency(g, d, e, a int64) save.Currency {
	return save.Currency{Gold: save.Int(g), Diamond: save.Int(d), Emerald: save.Int(e), Amethyst: save.Int(a)}
}

func TestUpdateCacheRejectsEmptyCommand(t *testing.T) {
	ctx := context.Background()

	for _, enabled := range []bool{true, false} {
		ch := newHarness[save.Characteristics](enabled)
		err := ch.command.UpdateCache(ctx, "s-1", save.Characteristics{})
		assert.True(t, save.IsInvalidArgument(err))
		assert.ErrorIs(t, err, save.ErrEmptyUpdate)
		assert.Zero(t, ch.repo.Calls().Total())

		cu := newHarness[save.Currency](enabled)
		assert.ErrorIs(t, cu.command.UpdateCache(ctx, "s-1", save.Currency{}), save.ErrEmptyUpdate)

		st := newHarness[save.Stage](enabled)
		assert.ErrorIs(t, st.command.UpdateCache(ctx, "s-1", save.Stage{}), save.ErrEmptyUpdate)

		md := newHarness[save.Metadata](enabled)
		assert.ErrorIs(t, md.command.UpdateCache(ctx, "s-1", save.Metadata{Owner: ""}), save.ErrEmptyUpdate)
	}
}

func TestUpdateCacheRejectsBlankID(t *testing.T) {
	h := newHarness[save.Currency](true)
	err := h.command.UpdateCache(context.Background(), "", save.Currency{Gold: save.Int(1)})
	assert.ErrorIs(t, err, save.ErrEmptySaveID)

	_, err = h.query.Retrieve(context.Background(), " ")
	assert.ErrorIs(t, err, save.ErrEmptySaveID)
}

func TestUpdateCacheMergesOntoCachedValue(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Characteristics](true)
	h.repo.Seed("s-1", fullCharacteristics(0, 0, 0, 0, 0))
	require.NoError(t, h.cache.Set(ctx, "s-1", fullCharacteristics(1, 2, 3, 4, 5)))

	err := h.command.UpdateCache(ctx, "s-1", save.Characteristics{Attack: save.Int(10), CritChance: save.Int(25)})
	require.NoError(t, err)

	got, found, err := h.cache.Get(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fullCharacteristics(10, 25, 3, 4, 5), got)
	assert.Zero(t, h.repo.Calls().Total(), "a cache hit must not touch the repository")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CacheWriteTotal.WithLabelValues("characteristics")))
}

func TestUpdateCacheMissPullsRepositoryBaseline(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Currency](true)
	h.repo.Seed("s-1", fullCurrency(100, 50, 25, 10))

	require.NoError(t, h.command.UpdateCache(ctx, "s-1", save.Currency{Gold: save.Int(10)}))

	got, found, err := h.cache.Get(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fullCurrency(10, 50, 25, 10), got)
	assert.True(t, got.IsComplete())

	row, _ := h.repo.Row("s-1")
	assert.Equal(t, fullCurrency(100, 50, 25, 10), row, "update must not write through")
	assert.Zero(t, h.repo.Calls().Update)
}

// flipFlag reports enabled once and disabled on every later read.
type flipFlag struct {
	reads atomic.Int32
}

func (f *flipFlag) IsEnabled() bool {
	return f.reads.Add(1) == 1
}

func TestUpdateCacheReadsFlagOnce(t *testing.T) {
	ctx := context.Background()
	repo := fakes.NewRepository[save.Currency]()
	repo.Seed("s-1", fullCurrency(100, 50, 25, 10))
	cache := store.NewMemory[save.Currency]()
	flag := &flipFlag{}
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	query := service.NewQueryService[save.Currency](repo, cache, flag, service.WithMetrics(metrics))
	command := service.NewCommandService[save.Currency](repo, cache, query, flag, service.WithMetrics(metrics))

	require.NoError(t, command.UpdateCache(ctx, "s-1", save.Currency{Gold: save.Int(10)}))

	assert.Equal(t, int32(1), flag.reads.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMissTotal.WithLabelValues("currency")),
		"baseline read takes the enabled path")
	got, found, _ := cache.Get(ctx, "s-1")
	require.True(t, found)
	assert.Equal(t, fullCurrency(10, 50, 25, 10), got)
}

func TestUpdateCacheMissForUnknownSave(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Stage](true)

	err := h.command.UpdateCache(ctx, "ghost", save.Stage{Wave: save.Int(3)})
	assert.True(t, save.IsNotFound(err))

	n, _ := h.cache.Len(ctx)
	assert.Zero(t, n)
}

func TestUpdateCacheDisabledIsNoop(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		h := newHarness[save.Currency](false)
		h.repo.Seed("s-1", fullCurrency(1, 2, 3, 4))

		cmd := save.Currency{
			Gold:    rapid.Ptr(rapid.Int64Range(0, 1000), true).Draw(t, "gold"),
			Diamond: rapid.Ptr(rapid.Int64Range(0, 1000), true).Draw(t, "diamond"),
			Emerald: save.Int(rapid.Int64Range(0, 1000).Draw(t, "emerald")),
		}

		if err := h.command.UpdateCache(ctx, "s-1", cmd); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n, _ := h.cache.Len(ctx); n != 0 {
			t.Fatalf("cache written while disabled: %d entries", n)
		}
		if calls := h.repo.Calls(); calls.Total() != 0 {
			t.Fatalf("repository touched while disabled: %+v", calls)
		}
	})
}

func TestRetrieveOverlaysFullCachedValue(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Currency](true)
	h.repo.Seed("s-1", fullCurrency(1, 2, 3, 4))
	require.NoError(t, h.cache.Set(ctx, "s-1", fullCurrency(2, 4, 6, 8)))

	got, err := h.query.Retrieve(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, fullCurrency(2, 4, 6, 8), got)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CacheHitTotal.WithLabelValues("currency")))
}

func TestRetrieveOverlaysPartialCachedValue(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Currency](true)
	h.repo.Seed("s-1", fullCurrency(1, 2, 3, 4))
	require.NoError(t, h.cache.Set(ctx, "s-1", save.Currency{Emerald: save.Int(30)}))

	got, err := h.query.Retrieve(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, fullCurrency(1, 2, 30, 4), got)
}

func TestRetrieveFallsBackOnMiss(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Stage](true)
	row := save.Stage{CurrentStage: save.Int(2), MaxStage: save.Int(5), Wave: save.Int(1)}
	h.repo.Seed("s-1", row)

	got, err := h.query.Retrieve(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, row, got)

	n, _ := h.cache.Len(ctx)
	assert.Zero(t, n, "a read must not populate the cache")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CacheMissTotal.WithLabelValues("stage")))
}

func TestRetrieveDisabledIgnoresCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Currency](false)
	h.repo.Seed("s-1", fullCurrency(1, 2, 3, 4))
	require.NoError(t, h.cache.Set(ctx, "s-1", fullCurrency(9, 9, 9, 9)))

	got, err := h.query.Retrieve(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, fullCurrency(1, 2, 3, 4), got)
}

func TestRetrieveNotFoundEvenWithCachedEntry(t *testing.T) {
	ctx := context.Background()
	for _, enabled := range []bool{true, false} {
		h := newHarness[save.Currency](enabled)
		require.NoError(t, h.cache.Set(ctx, "s-1", fullCurrency(9, 9, 9, 9)))

		_, err := h.query.Retrieve(ctx, "s-1")
		assert.True(t, save.IsNotFound(err))
	}
}

func TestRetrievePropagatesRepositoryError(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Currency](true)
	boom := errors.New("db down")
	h.repo.FailOn("s-1", boom)

	_, err := h.query.Retrieve(ctx, "s-1")
	assert.ErrorIs(t, err, boom)
}

func TestInitializeDefaultThenRetrieve(t *testing.T) {
	ctx := context.Background()

	ch := newHarness[save.Characteristics](false)
	_, err := ch.command.InitializeDefault(ctx, "s-1")
	require.NoError(t, err)
	got, err := ch.query.Retrieve(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, fullCharacteristics(0, 0, 0, 0, 0), got)

	cu := newHarness[save.Currency](false)
	_, err = cu.command.InitializeDefault(ctx, "s-1")
	require.NoError(t, err)
	gotCu, err := cu.query.Retrieve(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, fullCurrency(0, 0, 0, 0), gotCu)

	st := newHarness[save.Stage](false)
	_, err = st.command.InitializeDefault(ctx, "s-1")
	require.NoError(t, err)
	gotSt, err := st.query.Retrieve(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, save.Stage{CurrentStage: save.Int(0), MaxStage: save.Int(0), Wave: save.Int(0)}, gotSt)
}

func TestInitializeCoercesUnsetFields(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Currency](true)

	created, err := h.command.Initialize(ctx, "s-1", save.Currency{Gold: save.Int(500)})
	require.NoError(t, err)
	assert.Equal(t, fullCurrency(500, 0, 0, 0), created)

	_, err = h.command.Initialize(ctx, "s-1", save.Currency{})
	assert.True(t, save.IsAlreadyExists(err))

	_, err = h.command.Initialize(ctx, "s-2", save.Currency{Gold: save.Int(-5)})
	assert.True(t, save.IsInvalidArgument(err))
}

func TestPersistBypassesCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Currency](true)
	h.repo.Seed("s-1", fullCurrency(1, 1, 1, 1))
	require.NoError(t, h.cache.Set(ctx, "s-1", save.Currency{Gold: save.Int(7)}))

	require.NoError(t, h.command.Persist(ctx, "s-1", fullCurrency(5, 5, 5, 5)))

	row, _ := h.repo.Row("s-1")
	assert.Equal(t, fullCurrency(5, 5, 5, 5), row)
	cached, _, _ := h.cache.Get(ctx, "s-1")
	assert.Equal(t, save.Currency{Gold: save.Int(7)}, cached)

	err := h.command.Persist(ctx, "missing", fullCurrency(0, 0, 0, 0))
	assert.True(t, save.IsNotFound(err))
}

func TestDiscardDropsPendingValue(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Stage](true)
	require.NoError(t, h.cache.Set(ctx, "s-1", save.Stage{Wave: save.Int(1)}))

	require.NoError(t, h.command.Discard(ctx, "s-1"))

	_, found, _ := h.cache.Get(ctx, "s-1")
	assert.False(t, found)
}

func TestMetadataUpdateKeepsOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness[save.Metadata](true)
	base := save.Metadata{SaveID: "s-1", Owner: "alice@example.com", Nickname: save.String("old")}.Complete()
	h.repo.Seed("s-1", base)

	require.NoError(t, h.command.UpdateCache(ctx, "s-1", save.Metadata{Nickname: save.String("new")}))

	got, err := h.query.Retrieve(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Owner)
	assert.Equal(t, "new", *got.Nickname)
	assert.Equal(t, *base.CreatedAt, *got.CreatedAt)
}
