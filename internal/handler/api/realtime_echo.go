package api

import (
	"net/http"

	"SignalRelay/internal/realtime"
	xlogger "SignalRelay/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
)

// RealtimeEchoHandler upgrades subscribers to WebSocket and hands them to the hub.
type RealtimeEchoHandler struct {
	logger    *xlogger.Logger
	hub       *realtime.Hub
	upgrader  websocket.Upgrader
	readLimit int64
	clock     clockwork.Clock
}

func NewRealtimeEchoHandler(logger *xlogger.Logger, hub *realtime.Hub, readLimit int64) *RealtimeEchoHandler {
	return &RealtimeEchoHandler{
		logger: logger,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origins are enforced by the CORS layer
			CheckOrigin: func(*http.Request) bool { return true },
		},
		readLimit: readLimit,
		clock:     clockwork.NewRealClock(),
	}
}

func (h *RealtimeEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.Subscribe)
}

// Subscribe blocks for the lifetime of the subscriber connection.
func (h *RealtimeEchoHandler) Subscribe(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		h.logger.Warn("websocket upgrade failed", xlogger.String("remote", c.RealIP()), xlogger.Error(err))
		return nil
	}

	conn := realtime.NewConnection(realtime.NewWebSocketTransport(ws, h.readLimit), c.RealIP(), h.clock.Now())
	h.hub.Handle(conn, realtime.OpenEvent())
	if err := h.hub.Register(conn); err != nil {
		h.logger.Warn("subscriber rejected", xlogger.String("remote", c.RealIP()), xlogger.Error(err))
		return nil
	}
	h.hub.Serve(conn)
	return nil
}
