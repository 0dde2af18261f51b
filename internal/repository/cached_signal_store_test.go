package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalRelay/internal/domain/models"
	"SignalRelay/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*MemorySignalStore
	queries atomic.Int32
}

func (c *countingStore) Query(ctx context.Context, f models.SignalFilter) ([]*models.Signal, error) {
	c.queries.Add(1)
	return c.MemorySignalStore.Query(ctx, f)
}

func newCachedStore(t *testing.T) (*CachedSignalStore, *countingStore) {
	t.Helper()
	inner := &countingStore{MemorySignalStore: NewMemorySignalStore()}
	mc := cache.NewMemoryCache()
	s := NewCachedSignalStore(inner, mc, time.Minute, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s, inner
}

func TestCachedStoreServesRepeatedQueries(t *testing.T) {
	s, inner := newCachedStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, &models.Signal{Type: models.SignalLong})
	require.NoError(t, err)

	first, err := s.Query(ctx, models.SignalFilter{Limit: 10})
	require.NoError(t, err)
	second, err := s.Query(ctx, models.SignalFilter{Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, int32(1), inner.queries.Load())
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	// different filter, different key
	_, err = s.Query(ctx, models.SignalFilter{Type: models.SignalShort})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.queries.Load())
}

func TestCachedStoreInvalidatesOnWrites(t *testing.T) {
	s, inner := newCachedStore(t)
	ctx := context.Background()

	a, err := s.Save(ctx, &models.Signal{Type: models.SignalLong})
	require.NoError(t, err)
	list, err := s.Query(ctx, models.SignalFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.Save(ctx, &models.Signal{Type: models.SignalShort})
	require.NoError(t, err)
	list, err = s.Query(ctx, models.SignalFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = s.UpdateStatus(ctx, a.ID, models.StatusActive, time.Now())
	require.NoError(t, err)
	list, err = s.Query(ctx, models.SignalFilter{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, list[1].Status)

	n, err := s.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	list, err = s.Query(ctx, models.SignalFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.Equal(t, int32(4), inner.queries.Load())
}

func TestQueryKeyNormalizesFilter(t *testing.T) {
	a := queryKey(models.SignalFilter{Type: "long"}.Normalize())
	b := queryKey(models.SignalFilter{Type: "LONG", Limit: 50}.Normalize())
	assert.Equal(t, a, b)
	assert.Equal(t, "signals:query:long:-:-:50", a)
}

// gatedStore parks the first Query until released.
type gatedStore struct {
	*MemorySignalStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Query(ctx context.Context, f models.SignalFilter) ([]*models.Signal, error) {
	out, err := g.MemorySignalStore.Query(ctx, f)
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return out, err
}

func TestCachedStoreDropsResultReadBeforeConcurrentWrite(t *testing.T) {
	inner := &gatedStore{
		MemorySignalStore: NewMemorySignalStore(),
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	s := NewCachedSignalStore(inner, cache.NewMemoryCache(), time.Minute, nil)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	done := make(chan []*models.Signal, 1)
	go func() {
		list, _ := s.Query(ctx, models.SignalFilter{})
		done <- list
	}()
	<-inner.entered

	_, err := s.Save(ctx, &models.Signal{Type: models.SignalLong})
	require.NoError(t, err)
	close(inner.release)
	assert.Empty(t, <-done)

	list, err := s.Query(ctx, models.SignalFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
