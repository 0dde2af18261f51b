package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalRelay/internal/domain/models"
	domrepo "SignalRelay/internal/domain/repository"

	"github.com/jonboulle/clockwork"
)

// MemorySignalStore keeps signals in process memory. It backs tests and single-node runs.
type MemorySignalStore struct {
	mu      sync.RWMutex
	signals map[int64]*models.Signal
	nextID  int64
	clock   clockwork.Clock
}

// NewMemorySignalStore creates an empty store using the real clock.
func NewMemorySignalStore() *MemorySignalStore {
	return NewMemorySignalStoreWithClock(clockwork.NewRealClock())
}

func NewMemorySignalStoreWithClock(c clockwork.Clock) *MemorySignalStore {
	return &MemorySignalStore{
		signals: make(map[int64]*models.Signal),
		clock:   c,
	}
}

var _ domrepo.SignalStore = (*MemorySignalStore)(nil)

func (s *MemorySignalStore) Init(ctx context.Context) error {
	return nil
}

func (s *MemorySignalStore) Save(ctx context.Context, in *models.Signal) (*models.Signal, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil signal", models.ErrStorage)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	rec := in.Clone()
	rec.ApplyDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == 0 {
		s.nextID++
		rec.ID = s.nextID
	} else {
		if _, exists := s.signals[rec.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate id %d", models.ErrStorage, rec.ID)
		}
		if rec.ID > s.nextID {
			s.nextID = rec.ID
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	s.signals[rec.ID] = rec
	return rec.Clone(), nil
}

func (s *MemorySignalStore) Query(ctx context.Context, f models.SignalFilter) ([]*models.Signal, error) {
	f = f.Normalize()

	s.mu.RLock()
	out := make([]*models.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		if f.Matches(sig) {
			out = append(out, sig.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemorySignalStore) Delete(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.signals[id]; !ok {
		return 0, nil
	}
	delete(s.signals, id)
	return 1, nil
}

func (s *MemorySignalStore) UpdateStatus(ctx context.Context, id int64, status models.Status, at time.Time) (*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signals[id]
	if !ok {
		return nil, fmt.Errorf("signal %d: %w", id, models.ErrNotFound)
	}
	sig.Status = status
	sig.UpdatedAt = at
	return sig.Clone(), nil
}

// Len is the number of stored signals.
func (s *MemorySignalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signals)
}

func (s *MemorySignalStore) Health(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemorySignalStore) Close() error {
	return nil
}

// sortNewestFirst orders by CreatedAt descending, ID descending on ties.
func sortNewestFirst(list []*models.Signal) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
