package repository

import (
	"context"
	"time"

	"SignalRelay/internal/domain/models"
)

// SignalStore persists signals. Save assigns ID and CreatedAt when absent and either fully
// succeeds or fails with an error wrapping models.ErrStorage.
type SignalStore interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, s *models.Signal) (*models.Signal, error)
	// Query returns matches ordered by CreatedAt descending (ID descending on ties).
	Query(ctx context.Context, f models.SignalFilter) ([]*models.Signal, error)
	// Delete returns the number of removed records, 0 or 1.
	Delete(ctx context.Context, id int64) (int64, error)
	// UpdateStatus changes status and UpdatedAt only. Unknown ids yield models.ErrNotFound.
	UpdateStatus(ctx context.Context, id int64, status models.Status, at time.Time) (*models.Signal, error)
	Health(ctx context.Context) error
	Close() error
}

// Broadcaster fans a persisted signal out to live subscribers and reports deliveries.
type Broadcaster interface {
	Broadcast(ctx context.Context, s *models.Signal) int
}

// EventPublisher forwards store mutations to downstream systems.
type EventPublisher interface {
	Publish(ctx context.Context, ev *models.SignalEvent) error
	Close() error
}

type Metrics interface {
	RecordSignalIngested(signalType, session string)
	RecordBroadcast(delivered, failed int)
	RecordConnections(n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

// Relay shares persisted signals with other instances.
type Relay interface {
	Publish(ctx context.Context, s *models.Signal) error
}
