package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	mid "SignalRelay/internal/middleware"
	"SignalRelay/internal/realtime"
	"SignalRelay/pkg/config"
	xhttp "SignalRelay/pkg/http"
	pkgkafka "SignalRelay/pkg/kafka"
	applogger "SignalRelay/pkg/logger"
)

// Runner is a background loop bound to the application context, e.g. the cross-instance relay.
type Runner interface {
	Run(ctx context.Context) error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	hub        *realtime.Hub
	httpServer *xhttp.Server

	consumer *pkgkafka.Consumer
	kh       pkgkafka.MessageHandler
	pipeline *mid.EventPipeline
	runners  []Runner
	closers  []io.Closer

	wg sync.WaitGroup
}

type AppOption func(*App)

// WithConsumer attaches a Kafka consumer and the handler it dispatches to.
func WithConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) AppOption {
	return func(a *App) {
		if c != nil && h != nil {
			a.consumer = c
			a.kh = h
		}
	}
}

func WithEventPipeline(p *mid.EventPipeline) AppOption {
	return func(a *App) { a.pipeline = p }
}

func WithRunner(r Runner) AppOption {
	return func(a *App) {
		if r != nil {
			a.runners = append(a.runners, r)
		}
	}
}

// WithCloser registers a resource released last during shutdown, in registration order.
func WithCloser(c io.Closer) AppOption {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, c)
		}
	}
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, hub *realtime.Hub, srv *xhttp.Server, opts ...AppOption) *App {
	a := &App{
		cfg:        cfg,
		logger:     l,
		hub:        hub,
		httpServer: srv,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = applogger.NewNop()
	}
	return a
}

// Start launches background workers and the HTTP listener without blocking.
func (a *App) Start(ctx context.Context) error {
	if a.pipeline != nil {
		a.pipeline.Start(ctx)
	}

	for _, r := range a.runners {
		r := r
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("background runner stopped", applogger.Error(err))
			}
		}()
	}

	if a.consumer != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.logger.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.logger.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}
	a.logger.Info("signal relay started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("backend", a.cfg.Backend.Type),
		applogger.Int("port", a.cfg.Server.Port))
	return nil
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		cancel()
		_ = a.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	cancel()
	return a.Shutdown(context.Background())
}

// Shutdown stops intake first, then drains outbound work and releases clients.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}

	if err := a.hub.Close(); err != nil {
		a.logger.Warn("hub close error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	a.wg.Wait()

	if a.pipeline != nil {
		if err := a.pipeline.Close(); err != nil {
			a.logger.Warn("event pipeline close error", applogger.Error(err))
		}
	}

	a.logger.RemoveCollector()
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
