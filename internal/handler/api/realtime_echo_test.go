package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SignalRelay/internal/domain/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFrame(t *testing.T, ws *websocket.Conn) models.InboundMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var m models.InboundMessage
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestWebSocketSubscriberLifecycle(t *testing.T) {
	f := newFixture(t, SignalsRoutes{})
	srv := httptest.NewServer(f.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	ack := readFrame(t, ws)
	assert.Equal(t, models.MessageConnection, ack.Type)
	assert.NotEmpty(t, ack.Message)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	pong := readFrame(t, ws)
	assert.Equal(t, models.MessagePong, pong.Type)
	assert.False(t, pong.Timestamp.IsZero())

	assert.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/signals", "application/json", strings.NewReader(`{"type":"short","symbol":"GBPUSD"}`))
	require.NoError(t, err)
	var ingest models.IngestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ingest))
	resp.Body.Close()
	assert.Equal(t, 1, ingest.ClientsNotified)

	frame := readFrame(t, ws)
	require.Equal(t, models.MessageSignal, frame.Type)
	var sig models.Signal
	require.NoError(t, json.Unmarshal(frame.Data, &sig))
	assert.Equal(t, ingest.Signal.ID, sig.ID)
	assert.Equal(t, "GBPUSD", sig.Symbol)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return f.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
