package usecase

import (
	"context"
	"errors"
	"fmt"

	"SignalRelay/internal/domain/models"
	domrepo "SignalRelay/internal/domain/repository"
	"SignalRelay/internal/domain/service"
	applogger "SignalRelay/pkg/logger"

	"github.com/jonboulle/clockwork"
)

const statsWindow = 1000

// SignalIngestor validates incoming alerts and drives store, classifier and hub.
// A signal is broadcast only after it has been persisted.
type SignalIngestor struct {
	store    domrepo.SignalStore
	hub      domrepo.Broadcaster
	metrics  domrepo.Metrics
	events   domrepo.EventPublisher
	relay    domrepo.Relay
	classify service.SessionClassifier
	clock    clockwork.Clock
	l        *applogger.Logger
}

type IngestorOption func(*SignalIngestor)

func WithIngestClock(c clockwork.Clock) IngestorOption {
	return func(i *SignalIngestor) { i.clock = c }
}

func WithClassifier(fn service.SessionClassifier) IngestorOption {
	return func(i *SignalIngestor) {
		if fn != nil {
			i.classify = fn
		}
	}
}

// WithEventPublisher forwards created/deleted/status events downstream.
func WithEventPublisher(p domrepo.EventPublisher) IngestorOption {
	return func(i *SignalIngestor) { i.events = p }
}

// WithRelay shares persisted signals with other instances.
func WithRelay(r domrepo.Relay) IngestorOption {
	return func(i *SignalIngestor) { i.relay = r }
}

func WithIngestLogger(l *applogger.Logger) IngestorOption {
	return func(i *SignalIngestor) {
		if l != nil {
			i.l = l
		}
	}
}

func NewSignalIngestor(store domrepo.SignalStore, hub domrepo.Broadcaster, metrics domrepo.Metrics, opts ...IngestorOption) *SignalIngestor {
	i := &SignalIngestor{
		store:    store,
		hub:      hub,
		metrics:  metrics,
		classify: service.ClassifySession,
		clock:    clockwork.NewRealClock(),
		l:        applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest persists one alert, classifies it by its creation time and broadcasts it.
// Any session supplied by the caller is ignored.
func (i *SignalIngestor) Ingest(ctx context.Context, req *models.CreateSignalRequest) (*models.IngestResult, error) {
	start := i.clock.Now()
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", models.ErrValidation)
	}
	typ, err := models.ParseSignalType(req.Type)
	if err != nil {
		i.metrics.RecordError("validation")
		return nil, err
	}

	now := i.clock.Now()
	sig := &models.Signal{
		Type:         typ,
		Symbol:       req.Symbol,
		Price:        req.Price,
		Session:      i.classify(now),
		Confidence:   req.Confidence,
		SignalNumber: req.SignalNumber,
		Status:       models.StatusNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sig.ApplyDefaults()

	saved, err := i.store.Save(ctx, sig)
	if err != nil {
		i.metrics.RecordError("storage")
		i.l.Error("save signal failed",
			applogger.String("type", string(typ)),
			applogger.String("symbol", sig.Symbol),
			applogger.Error(err))
		if !errors.Is(err, models.ErrStorage) {
			err = fmt.Errorf("%w: %v", models.ErrStorage, err)
		}
		return nil, err
	}
	i.metrics.RecordSignalIngested(string(saved.Type), string(saved.Session))

	// delivery must not be cut short by the caller going away once the record is durable
	bctx := context.WithoutCancel(ctx)
	notified := i.hub.Broadcast(bctx, saved)

	if i.relay != nil {
		if err := i.relay.Publish(bctx, saved); err != nil {
			i.metrics.RecordError("relay")
			i.l.Warn("relay publish failed", applogger.Int64("signal_id", saved.ID), applogger.Error(err))
		}
	}
	i.publish(bctx, models.EventSignalCreated, saved.ID, saved)

	i.metrics.RecordLatency("ingest", i.clock.Since(start).Seconds())
	i.l.Info("signal ingested",
		applogger.Int64("signal_id", saved.ID),
		applogger.String("type", string(saved.Type)),
		applogger.String("symbol", saved.Symbol),
		applogger.String("session", string(saved.Session)),
		applogger.Int("clients_notified", notified))

	return &models.IngestResult{Signal: saved, ClientsNotified: notified}, nil
}

// Query lists stored signals newest first.
func (i *SignalIngestor) Query(ctx context.Context, f models.SignalFilter) ([]*models.Signal, error) {
	f = f.Normalize()
	if f.Type != "" {
		if _, err := models.ParseSignalType(string(f.Type)); err != nil {
			return nil, err
		}
	}
	out, err := i.store.Query(ctx, f)
	if err != nil {
		i.metrics.RecordError("storage")
		return nil, err
	}
	return out, nil
}

// Delete removes id. Unknown ids yield models.ErrNotFound.
func (i *SignalIngestor) Delete(ctx context.Context, id int64) error {
	n, err := i.store.Delete(ctx, id)
	if err != nil {
		i.metrics.RecordError("storage")
		return err
	}
	if n == 0 {
		return fmt.Errorf("signal %d: %w", id, models.ErrNotFound)
	}
	i.publish(context.WithoutCancel(ctx), models.EventSignalDeleted, id, nil)
	i.l.Info("signal deleted", applogger.Int64("signal_id", id))
	return nil
}

// UpdateStatus changes the status of id and stamps UpdatedAt.
func (i *SignalIngestor) UpdateStatus(ctx context.Context, id int64, status string) (*models.Signal, error) {
	st, err := models.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	out, err := i.store.UpdateStatus(ctx, id, st, i.clock.Now())
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			i.metrics.RecordError("storage")
		}
		return nil, err
	}
	i.publish(context.WithoutCancel(ctx), models.EventSignalStatus, id, out)
	return out, nil
}

// Stats summarizes the most recent signals.
func (i *SignalIngestor) Stats(ctx context.Context) (*models.SignalStats, error) {
	recent, err := i.store.Query(ctx, models.SignalFilter{Limit: statsWindow})
	if err != nil {
		i.metrics.RecordError("storage")
		return nil, err
	}

	st := &models.SignalStats{Total: len(recent)}
	for _, s := range recent {
		switch s.Type {
		case models.SignalLong:
			st.Long++
		case models.SignalShort:
			st.Short++
		}
		switch s.Session {
		case models.SessionLondon:
			st.Sessions.London++
		case models.SessionNewYork:
			st.Sessions.NewYork++
		case models.SessionAsian:
			st.Sessions.Asian++
		}
	}
	if len(recent) > 0 {
		st.LastSignal = recent[0]
	}
	return st, nil
}

// Health checks the backing store.
func (i *SignalIngestor) Health(ctx context.Context) error {
	return i.store.Health(ctx)
}

func (i *SignalIngestor) publish(ctx context.Context, kind string, id int64, s *models.Signal) {
	if i.events == nil {
		return
	}
	ev := &models.SignalEvent{Event: kind, Signal: s, SignalID: id, OccurredAt: i.clock.Now()}
	if err := i.events.Publish(ctx, ev); err != nil {
		i.metrics.RecordError("event_publish")
		i.l.Warn("signal event publish failed",
			applogger.String("event", kind),
			applogger.Int64("signal_id", id),
			applogger.Error(err))
	}
}

