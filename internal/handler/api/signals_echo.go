package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"SignalRelay/internal/domain/models"
	"SignalRelay/internal/realtime"
	"SignalRelay/internal/service/metrics"
	"SignalRelay/internal/service/ratelimit"
	"SignalRelay/internal/usecase"
	xhttp "SignalRelay/pkg/http"
	xlogger "SignalRelay/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var registerValidationOnce sync.Once

func registerSignalValidation() {
	registerValidationOnce.Do(func() {
		_ = xhttp.RegisterValidation("signal_type", func(fl validator.FieldLevel) bool {
			_, err := models.ParseSignalType(fl.Field().String())
			return err == nil
		})
	})
}

// HubStats reports live subscriber counts for health checks.
type HubStats interface {
	Stats() realtime.Stats
}

// SignalsRoutes configures where and how the signal API is mounted.
type SignalsRoutes struct {
	BasePath     string
	RateLimit    bool
	RateRequests int
	RateWindow   time.Duration
}

// SignalsEchoHandler serves the signal ingestion and query API.
type SignalsEchoHandler struct {
	logger  *xlogger.Logger
	ing     *usecase.SignalIngestor
	hub     HubStats
	limiter *ratelimit.Limiter
	routes  SignalsRoutes
}

func NewSignalsEchoHandler(logger *xlogger.Logger, ing *usecase.SignalIngestor, hub HubStats, limiter *ratelimit.Limiter, routes SignalsRoutes) *SignalsEchoHandler {
	registerSignalValidation()
	metrics.Register()
	if routes.BasePath == "" {
		routes.BasePath = "/api"
	}
	if routes.RateRequests <= 0 {
		routes.RateRequests = 100
	}
	if routes.RateWindow <= 0 {
		routes.RateWindow = 15 * time.Minute
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	return &SignalsEchoHandler{logger: logger, ing: ing, hub: hub, limiter: limiter, routes: routes}
}

func (h *SignalsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group(h.routes.BasePath)
	if h.routes.RateLimit {
		g.Use(ratelimit.Middleware(h.limiter, h.routes.RateRequests, h.routes.RateWindow))
	}
	g.POST("/signals", h.Create)
	g.POST("/signal", h.Create)
	g.GET("/signals", h.List)
	g.GET("/signals/stats", h.Stats)
	g.DELETE("/signals/:id", h.Delete)
	g.PATCH("/signals/:id/status", h.UpdateStatus)
	g.GET("/health", h.Health)
}

// Create accepts one alert, persists it and broadcasts it to live subscribers.
func (h *SignalsEchoHandler) Create(c echo.Context) error {
	defer observe("create", time.Now())

	req := &models.CreateSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		metrics.APIErrors.WithLabelValues("create", "validation").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.ing.Ingest(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "create", err)
	}
	return xhttp.JSONResponse(c, http.StatusOK, models.IngestResponse{
		Status:          "success",
		Message:         "Signal received and broadcasted",
		Signal:          res.Signal,
		ClientsNotified: res.ClientsNotified,
	})
}

func (h *SignalsEchoHandler) List(c echo.Context) error {
	defer observe("list", time.Now())

	req := &models.QuerySignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		metrics.APIErrors.WithLabelValues("list", "validation").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}

	list, err := h.ing.Query(c.Request().Context(), req.Filter())
	if err != nil {
		return h.fail(c, "list", err)
	}
	if list == nil {
		list = []*models.Signal{}
	}
	return xhttp.JSONResponse(c, http.StatusOK, models.SignalListResponse{
		Success: true,
		Count:   len(list),
		Signals: list,
	})
}

func (h *SignalsEchoHandler) Stats(c echo.Context) error {
	defer observe("stats", time.Now())

	st, err := h.ing.Stats(c.Request().Context())
	if err != nil {
		return h.fail(c, "stats", err)
	}
	return xhttp.JSONResponse(c, http.StatusOK, st)
}

func (h *SignalsEchoHandler) Delete(c echo.Context) error {
	defer observe("delete", time.Now())

	req := &models.SignalIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		metrics.APIErrors.WithLabelValues("delete", "validation").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.ing.Delete(c.Request().Context(), req.ID); err != nil {
		return h.fail(c, "delete", err)
	}
	return xhttp.JSONResponse(c, http.StatusOK, models.DeleteSignalResponse{
		Success: true,
		Removed: true,
		Message: "Signal deleted",
	})
}

func (h *SignalsEchoHandler) UpdateStatus(c echo.Context) error {
	defer observe("update_status", time.Now())

	req := &models.UpdateStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		metrics.APIErrors.WithLabelValues("update_status", "validation").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}

	out, err := h.ing.UpdateStatus(c.Request().Context(), req.ID, req.Status)
	if err != nil {
		return h.fail(c, "update_status", err)
	}
	return xhttp.JSONResponse(c, http.StatusOK, out)
}

func (h *SignalsEchoHandler) Health(c echo.Context) error {
	st := h.hub.Stats()
	resp := models.HealthResponse{
		Status:           "OK",
		Message:          "Signal relay is running",
		ConnectedClients: st.ConnectedClients,
		Uptime:           st.Uptime.Seconds(),
		Store:            "ok",
	}
	if err := h.ing.Health(c.Request().Context()); err != nil {
		h.logger.Warn("store health check failed", xlogger.Error(err))
		resp.Status = "DEGRADED"
		resp.Store = "error"
		return xhttp.JSONResponse(c, http.StatusServiceUnavailable, resp)
	}
	return xhttp.JSONResponse(c, http.StatusOK, resp)
}

// fail maps domain error kinds onto HTTP errors.
func (h *SignalsEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	switch {
	case errors.Is(err, models.ErrValidation):
		metrics.APIErrors.WithLabelValues(endpoint, "validation").Inc()
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
	case errors.Is(err, models.ErrNotFound):
		metrics.APIErrors.WithLabelValues(endpoint, "not_found").Inc()
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("Signal not found").WithError(err))
	default:
		metrics.APIErrors.WithLabelValues(endpoint, "internal").Inc()
		h.logger.Error("signal api error", xlogger.String("endpoint", endpoint), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("Failed to process signal request").WithError(err))
	}
}

func observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
