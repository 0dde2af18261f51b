package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SignalRelay/internal/domain/models"
	"SignalRelay/internal/repository"
	"SignalRelay/mocks"
	"SignalRelay/pkg/metrics"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type stubHub struct {
	mu       sync.Mutex
	clients  int
	received []*models.Signal
}

func (h *stubHub) Broadcast(_ context.Context, s *models.Signal) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, s)
	return h.clients
}

type stubEvents struct {
	events []*models.SignalEvent
	err    error
}

func (p *stubEvents) Publish(_ context.Context, ev *models.SignalEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

func (p *stubEvents) Close() error { return nil }

var noon = time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

func newIngestor(hub *stubHub, opts ...IngestorOption) (*SignalIngestor, *repository.MemorySignalStore) {
	clock := clockwork.NewFakeClockAt(noon)
	store := repository.NewMemorySignalStoreWithClock(clock)
	opts = append([]IngestorOption{WithIngestClock(clock)}, opts...)
	return NewSignalIngestor(store, hub, metrics.Nop{}, opts...), store
}

func TestIngestNormalizesClassifiesAndBroadcasts(t *testing.T) {
	hub := &stubHub{clients: 3}
	ing, store := newIngestor(hub)

	res, err := ing.Ingest(context.Background(), &models.CreateSignalRequest{
		Type:         "LONG",
		Symbol:       "EURUSD",
		Price:        1.0950,
		Confidence:   80,
		SignalNumber: 1,
		Session:      "London",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SignalLong, res.Signal.Type)
	assert.Equal(t, models.SessionNewYork, res.Signal.Session)
	assert.Equal(t, 80, res.Signal.Confidence)
	assert.Equal(t, noon, res.Signal.CreatedAt)
	assert.Equal(t, models.StatusNew, res.Signal.Status)
	assert.Equal(t, 3, res.ClientsNotified)
	assert.Equal(t, 1, store.Len())

	require.Len(t, hub.received, 1)
	assert.Equal(t, res.Signal.ID, hub.received[0].ID)
}

func TestIngestRejectsInvalidType(t *testing.T) {
	for _, typ := range []string{"", "buy", "longish"} {
		t.Run(typ, func(t *testing.T) {
			hub := &stubHub{clients: 1}
			ing, store := newIngestor(hub)

			_, err := ing.Ingest(context.Background(), &models.CreateSignalRequest{Type: typ})
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Equal(t, 0, store.Len())
			assert.Empty(t, hub.received)
		})
	}
}

func TestIngestClampsConfidenceAndFillsDefaults(t *testing.T) {
	ing, _ := newIngestor(&stubHub{})

	res, err := ing.Ingest(context.Background(), &models.CreateSignalRequest{Type: "short", Confidence: 250})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Signal.Confidence)
	assert.Equal(t, "UNKNOWN", res.Signal.Symbol)
	assert.Equal(t, "TradingView", res.Signal.Source)
	assert.Equal(t, 1, res.Signal.SignalNumber)
}

func TestIngestStorageFailureNeverBroadcasts(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSignalStore(ctrl)
	hub := mocks.NewMockBroadcaster(ctrl)
	events := mocks.NewMockEventPublisher(ctrl)

	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil, errors.New("disk full"))
	hub.EXPECT().Broadcast(gomock.Any(), gomock.Any()).Times(0)
	events.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	ing := NewSignalIngestor(store, hub, metrics.Nop{}, WithEventPublisher(events))
	_, err := ing.Ingest(context.Background(), &models.CreateSignalRequest{Type: "long"})

	assert.ErrorIs(t, err, models.ErrStorage)
}

func TestIngestBroadcastSurvivesCanceledRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSignalStore(ctrl)
	hub := mocks.NewMockBroadcaster(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	saved := &models.Signal{ID: 1, Type: models.SignalLong}
	store.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, *models.Signal) (*models.Signal, error) {
			cancel()
			return saved, nil
		})
	hub.EXPECT().Broadcast(gomock.Any(), saved).DoAndReturn(
		func(bctx context.Context, _ *models.Signal) int {
			assert.NoError(t, bctx.Err())
			return 2
		})

	ing := NewSignalIngestor(store, hub, metrics.Nop{})
	res, err := ing.Ingest(ctx, &models.CreateSignalRequest{Type: "long"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ClientsNotified)
}

func TestIngestPublishesEventsAndToleratesFailures(t *testing.T) {
	events := &stubEvents{err: errors.New("broker down")}
	ing, _ := newIngestor(&stubHub{}, WithEventPublisher(events))

	res, err := ing.Ingest(context.Background(), &models.CreateSignalRequest{Type: "long"})
	require.NoError(t, err)

	_, err = ing.UpdateStatus(context.Background(), res.Signal.ID, "ACTIVE")
	require.NoError(t, err)
	require.NoError(t, ing.Delete(context.Background(), res.Signal.ID))

	require.Len(t, events.events, 3)
	assert.Equal(t, models.EventSignalCreated, events.events[0].Event)
	assert.Equal(t, models.EventSignalStatus, events.events[1].Event)
	assert.Equal(t, models.EventSignalDeleted, events.events[2].Event)
	assert.Equal(t, res.Signal.ID, events.events[2].SignalID)
}

func TestDeleteUnknownIsNotFound(t *testing.T) {
	ing, store := newIngestor(&stubHub{})
	_, err := ing.Ingest(context.Background(), &models.CreateSignalRequest{Type: "long"})
	require.NoError(t, err)

	err = ing.Delete(context.Background(), 404)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 1, store.Len())
}

func TestUpdateStatus(t *testing.T) {
	ing, _ := newIngestor(&stubHub{})
	res, err := ing.Ingest(context.Background(), &models.CreateSignalRequest{Type: "long"})
	require.NoError(t, err)

	_, err = ing.UpdateStatus(context.Background(), res.Signal.ID, "open")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = ing.UpdateStatus(context.Background(), 99, "closed")
	assert.ErrorIs(t, err, models.ErrNotFound)

	out, err := ing.UpdateStatus(context.Background(), res.Signal.ID, "closed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, out.Status)
	assert.Equal(t, res.Signal.CreatedAt, out.CreatedAt)
}

func TestQueryRejectsUnknownType(t *testing.T) {
	ing, _ := newIngestor(&stubHub{})
	_, err := ing.Query(context.Background(), models.SignalFilter{Type: "sideways"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestStats(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC))
	store := repository.NewMemorySignalStoreWithClock(clock)
	ing := NewSignalIngestor(store, &stubHub{}, metrics.Nop{}, WithIngestClock(clock))
	ctx := context.Background()

	// 08:00 UTC is London, 13:00 NewYork, 20:00 Asian
	for _, step := range []struct {
		typ     string
		advance time.Duration
	}{
		{"long", 0},
		{"short", 5 * time.Hour},
		{"long", 0},
		{"short", 7 * time.Hour},
	} {
		clock.Advance(step.advance)
		_, err := ing.Ingest(ctx, &models.CreateSignalRequest{Type: step.typ})
		require.NoError(t, err)
	}

	st, err := ing.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.Long)
	assert.Equal(t, 2, st.Short)
	assert.Equal(t, models.SessionCounts{London: 1, NewYork: 2, Asian: 1}, st.Sessions)
	require.NotNil(t, st.LastSignal)
	assert.Equal(t, int64(4), st.LastSignal.ID)
}
