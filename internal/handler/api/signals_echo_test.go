package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"SignalRelay/internal/domain/models"
	"SignalRelay/internal/realtime"
	"SignalRelay/internal/repository"
	"SignalRelay/internal/service/ratelimit"
	"SignalRelay/internal/usecase"
	"SignalRelay/mocks"
	xhttp "SignalRelay/pkg/http"
	"SignalRelay/pkg/logger"
	"SignalRelay/pkg/metrics"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type memTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (t *memTransport) WriteMessage(data []byte, _ time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, append([]byte(nil), data...))
	return nil
}

func (t *memTransport) ReadMessage() ([]byte, error) { return nil, realtime.ErrClosed }
func (t *memTransport) Close() error                 { return nil }

func (t *memTransport) signalFrames() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, f := range t.frames {
		var m models.InboundMessage
		if json.Unmarshal(f, &m) == nil && m.Type == models.MessageSignal {
			n++
		}
	}
	return n
}

type apiFixture struct {
	e     *echo.Echo
	store *repository.MemorySignalStore
	hub   *realtime.Hub
}

func newFixture(t *testing.T, routes SignalsRoutes) *apiFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC))
	store := repository.NewMemorySignalStoreWithClock(clock)
	hub := realtime.NewHub(logger.NewNop())
	ing := usecase.NewSignalIngestor(store, hub, metrics.Nop{}, usecase.WithIngestClock(clock))

	h := NewSignalsEchoHandler(logger.NewNop(), ing, hub, ratelimit.New(), routes)
	srv := xhttp.NewServer(xhttp.Handlers{h, NewRealtimeEchoHandler(logger.NewNop(), hub, 0)})
	return &apiFixture{e: srv.Echo(), store: store, hub: hub}
}

func (f *apiFixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) subscriber(t *testing.T) (*realtime.Connection, *memTransport) {
	t.Helper()
	tr := &memTransport{}
	c := realtime.NewConnection(tr, "test", time.Now())
	require.NoError(t, f.hub.Register(c))
	return c, tr
}

func TestCreateSignalClassifiesAndNotifies(t *testing.T) {
	f := newFixture(t, SignalsRoutes{})
	_, a := f.subscriber(t)
	_, b := f.subscriber(t)

	rec := f.do(http.MethodPost, "/api/signals", `{"type":"LONG","symbol":"EURUSD","price":1.0950,"confidence":80}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, models.SignalLong, resp.Signal.Type)
	assert.Equal(t, models.SessionNewYork, resp.Signal.Session)
	assert.Equal(t, 80, resp.Signal.Confidence)
	assert.InDelta(t, 1.0950, resp.Signal.Price, 1e-9)
	assert.Equal(t, 2, resp.ClientsNotified)
	assert.Equal(t, 1, a.signalFrames())
	assert.Equal(t, 1, b.signalFrames())
}

func TestWebhookAlias(t *testing.T) {
	f := newFixture(t, SignalsRoutes{})
	rec := f.do(http.MethodPost, "/api/signal", `{"type":"short"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.store.Len())
}

func TestCreateSignalRejectsMissingType(t *testing.T) {
	f := newFixture(t, SignalsRoutes{})
	_, sub := f.subscriber(t)

	for _, body := range []string{`{}`, `{"type":"buy"}`} {
		rec := f.do(http.MethodPost, "/api/signals", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)

		var resp xhttp.APIResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, http.StatusBadRequest, resp.Status)
	}
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, sub.signalFrames())
}

func TestDeleteUnknownSignal(t *testing.T) {
	f := newFixture(t, SignalsRoutes{})
	f.do(http.MethodPost, "/api/signals", `{"type":"long"}`)

	rec := f.do(http.MethodDelete, "/api/signals/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, f.store.Len())

	rec = f.do(http.MethodDelete, "/api/signals/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteSignal(t *testing.T) {
	f := newFixture(t, SignalsRoutes{})
	f.do(http.MethodPost, "/api/signals", `{"type":"long"}`)

	rec := f.do(http.MethodDelete, "/api/signals/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.DeleteSignalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Removed)
	assert.Equal(t, 0, f.store.Len())
}

func TestUnregisteredSubscriberIsNotNotified(t *testing.T) {
	f := newFixture(t, SignalsRoutes{})
	gone, goneT := f.subscriber(t)
	_, stayT := f.subscriber(t)
	f.hub.Unregister(gone)

	rec := f.do(http.MethodPost, "/api/signals", `{"type":"long"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.ClientsNotified)
	assert.Equal(t, 0, goneT.signalFrames())
	assert.Equal(t, 1, stayT.signalFrames())
}

func TestListSignals(t *testing.T) {
	f := newFixture(t, SignalsRoutes{})
	f.do(http.MethodPost, "/api/signals", `{"type":"long","symbol":"EURUSD"}`)
	f.do(http.MethodPost, "/api/signals", `{"type":"short","symbol":"EURUSD"}`)
	f.do(http.MethodPost, "/api/signals", `{"type":"long","symbol":"BTCUSD"}`)

	rec := f.do(http.MethodGet, "/api/signals?type=long", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.SignalListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, int64(3), resp.Signals[0].ID)

	rec = f.do(http.MethodGet, "/api/signals?symbol=EURUSD&limit=1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	rec = f.do(http.MethodGet, "/api/signals?type=flat", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/signals?session=Asian", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Signals)
}

func TestSignalStatsEndpoint(t *testing.T) {
	f := newFixture(t, SignalsRoutes{})
	f.do(http.MethodPost, "/api/signals", `{"type":"long"}`)
	f.do(http.MethodPost, "/api/signals", `{"type":"short"}`)

	rec := f.do(http.MethodGet, "/api/signals/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.SignalStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Long)
	assert.Equal(t, 2, st.Sessions.NewYork)
}

func TestUpdateStatusEndpoint(t *testing.T) {
	f := newFixture(t, SignalsRoutes{})
	f.do(http.MethodPost, "/api/signals", `{"type":"long"}`)

	rec := f.do(http.MethodPatch, "/api/signals/1/status", `{"status":"Active"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var out models.Signal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, models.StatusActive, out.Status)

	rec = f.do(http.MethodPatch, "/api/signals/1/status", `{"status":"archived"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPatch, "/api/signals/7/status", `{"status":"closed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, SignalsRoutes{})
	f.subscriber(t)

	rec := f.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, 1, resp.ConnectedClients)
	assert.Equal(t, "ok", resp.Store)
}

func TestHealthReportsStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSignalStore(ctrl)
	store.EXPECT().Health(gomock.Any()).Return(errors.New("connection refused"))

	hub := realtime.NewHub(logger.NewNop())
	ing := usecase.NewSignalIngestor(store, hub, metrics.Nop{})
	h := NewSignalsEchoHandler(logger.NewNop(), ing, hub, nil, SignalsRoutes{})
	e := xhttp.NewServer(h).Echo()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Store)
}

func TestRateLimitedGroup(t *testing.T) {
	f := newFixture(t, SignalsRoutes{RateLimit: true, RateRequests: 2, RateWindow: time.Hour})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/signals", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/signals", "").Code)
	rec := f.do(http.MethodGet, "/api/signals", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestStorageFailureReturns500(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSignalStore(ctrl)
	hub := mocks.NewMockBroadcaster(ctrl)
	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil, models.ErrStorage)

	ing := usecase.NewSignalIngestor(store, hub, metrics.Nop{})
	h := NewSignalsEchoHandler(logger.NewNop(), ing, realtime.NewHub(nil), nil, SignalsRoutes{})
	e := xhttp.NewServer(h).Echo()

	req := httptest.NewRequest(http.MethodPost, "/api/signals", strings.NewReader(`{"type":"long"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req.WithContext(context.Background()))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
