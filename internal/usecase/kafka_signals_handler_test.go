package usecase

import (
	"context"
	"errors"
	"testing"

	"SignalRelay/internal/domain/models"
	"SignalRelay/mocks"
	"SignalRelay/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestKafkaHandlerIngestsAlert(t *testing.T) {
	hub := &stubHub{clients: 1}
	ing, store := newIngestor(hub)
	h := NewKafkaSignalsHandler("signals.ingest", ing, metrics.Nop{}, nil)

	require.NoError(t, h.Handle(context.Background(), []byte(`{"type":"Short","symbol":"XAUUSD"}`)))

	list, err := store.Query(context.Background(), models.SignalFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.SignalShort, list[0].Type)
	assert.Equal(t, 75, list[0].Confidence)
	assert.Len(t, hub.received, 1)
	assert.Equal(t, "signals.ingest", h.Topic())
}

func TestKafkaHandlerDefaultsMatchHTTP(t *testing.T) {
	hub := &stubHub{}
	ing, store := newIngestor(hub)
	h := NewKafkaSignalsHandler("t", ing, metrics.Nop{}, nil)

	require.NoError(t, h.Handle(context.Background(), []byte(`{"type":"Long","symbol":"","confidence":0,"signalNumber":0}`)))

	list, err := store.Query(context.Background(), models.SignalFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 75, list[0].Confidence)
	assert.Equal(t, "UNKNOWN", list[0].Symbol)
	assert.Equal(t, 1, list[0].SignalNumber)
}

func TestKafkaHandlerDropsBadInput(t *testing.T) {
	hub := &stubHub{}
	ing, store := newIngestor(hub)
	h := NewKafkaSignalsHandler("t", ing, metrics.Nop{}, nil)

	assert.NoError(t, h.Handle(context.Background(), []byte(`{not json`)))
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"type":"hold"}`)))
	assert.Equal(t, 0, store.Len())
}

func TestKafkaHandlerReturnsStorageErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSignalStore(ctrl)
	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))

	ing := NewSignalIngestor(store, &stubHub{}, metrics.Nop{})
	h := NewKafkaSignalsHandler("t", ing, metrics.Nop{}, nil)

	err := h.Handle(context.Background(), []byte(`{"type":"long"}`))
	assert.ErrorIs(t, err, models.ErrStorage)
}
