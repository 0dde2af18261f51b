package repository

import (
	"context"
	"sync"
	"time"

	"SignalRelay/internal/domain/models"
	domrepo "SignalRelay/internal/domain/repository"
	"SignalRelay/pkg/cache"
	applogger "SignalRelay/pkg/logger"
)

const signalCachePrefix = "signals"

// CachedSignalStore caches query results in front of another store. Every write clears
// all cached queries and bumps a generation; a query result read under an older
// generation is returned but never cached.
type CachedSignalStore struct {
	next  domrepo.SignalStore
	cache cache.Service
	ttl   time.Duration
	l     *applogger.Logger

	genMu sync.Mutex
	gen   uint64
}

func NewCachedSignalStore(next domrepo.SignalStore, c cache.Service, ttl time.Duration, l *applogger.Logger) *CachedSignalStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &CachedSignalStore{next: next, cache: c, ttl: ttl, l: l}
}

var _ domrepo.SignalStore = (*CachedSignalStore)(nil)

func (s *CachedSignalStore) Init(ctx context.Context) error {
	if err := s.next.Init(ctx); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedSignalStore) Save(ctx context.Context, in *models.Signal) (*models.Signal, error) {
	out, err := s.next.Save(ctx, in)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return out, nil
}

func (s *CachedSignalStore) Query(ctx context.Context, f models.SignalFilter) ([]*models.Signal, error) {
	f = f.Normalize()
	key := queryKey(f)

	var cached []*models.Signal
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	s.genMu.Lock()
	gen := s.gen
	s.genMu.Unlock()

	out, err := s.next.Query(ctx, f)
	if err != nil {
		return nil, err
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gen != gen {
		return out, nil
	}
	if err := s.cache.Set(ctx, key, out, s.ttl); err != nil {
		s.l.Warn("signal query cache set failed", applogger.String("key", key), applogger.Error(err))
	}
	return out, nil
}

func (s *CachedSignalStore) Delete(ctx context.Context, id int64) (int64, error) {
	n, err := s.next.Delete(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx)
	}
	return n, nil
}

func (s *CachedSignalStore) UpdateStatus(ctx context.Context, id int64, status models.Status, at time.Time) (*models.Signal, error) {
	out, err := s.next.UpdateStatus(ctx, id, status, at)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return out, nil
}

func (s *CachedSignalStore) Health(ctx context.Context) error {
	return s.next.Health(ctx)
}

func (s *CachedSignalStore) Close() error {
	cerr := s.cache.Close()
	if err := s.next.Close(); err != nil {
		return err
	}
	return cerr
}

func (s *CachedSignalStore) invalidate(ctx context.Context) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gen++
	if err := s.cache.DeleteByPattern(ctx, cache.BuildPattern(signalCachePrefix+":")); err != nil {
		s.l.Warn("signal cache invalidation failed", applogger.Error(err))
	}
}

func queryKey(f models.SignalFilter) string {
	return cache.GenerateKeyWithParams(signalCachePrefix+":query", f.Type, f.Session, f.Symbol, f.Limit)
}
