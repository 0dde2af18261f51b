package repository

import (
	"context"
	"encoding/json"
	"testing"

	"SignalRelay/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHub struct {
	got []*models.Signal
}

func (h *recordingHub) Broadcast(_ context.Context, s *models.Signal) int {
	h.got = append(h.got, s)
	return 3
}

func TestRelayBroadcastsForeignSignals(t *testing.T) {
	hub := &recordingHub{}
	r := NewRedisRelay(nil, "", hub, nil)

	foreign, err := json.Marshal(relayEnvelope{Origin: "other", Signal: &models.Signal{ID: 7}})
	require.NoError(t, err)
	own, err := json.Marshal(relayEnvelope{Origin: r.Origin(), Signal: &models.Signal{ID: 8}})
	require.NoError(t, err)

	assert.Equal(t, 3, r.handle(context.Background(), foreign))
	assert.Equal(t, 0, r.handle(context.Background(), own))
	assert.Equal(t, 0, r.handle(context.Background(), []byte("garbage")))

	require.Len(t, hub.got, 1)
	assert.Equal(t, int64(7), hub.got[0].ID)
}
