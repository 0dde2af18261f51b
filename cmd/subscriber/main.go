package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SignalRelay/internal/domain/models"
	"SignalRelay/internal/subscriber"
	"SignalRelay/pkg/config"
	xhttp "SignalRelay/pkg/http"
	applogger "SignalRelay/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	l, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: "console", Output: "stdout"})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	sc := cfg.Subscriber
	client := subscriber.NewClient(
		subscriber.Config{
			URL:            sc.URL,
			CatchUpLimit:   sc.CatchUpLimit,
			BackoffMin:     sc.BackoffMin,
			BackoffMax:     sc.BackoffMax,
			BackoffFactor:  sc.BackoffFactor,
			PingInterval:   sc.PingInterval,
			PongTimeout:    sc.PongTimeout,
			ForceReconnect: sc.ForceReconnect,
			DedupeTTL:      sc.DedupeTTL,
		},
		subscriber.NewWSDialer(10*time.Second),
		subscriber.NewHTTPQuerier(xhttp.NewClient(xhttp.WithTimeout(10*time.Second)), sc.APIURL),
		subscriber.WithLogger(l),
		subscriber.OnSignal(func(s *models.Signal) {
			l.Info("signal",
				applogger.Int64("id", s.ID),
				applogger.String("type", string(s.Type)),
				applogger.String("symbol", s.Symbol),
				applogger.Float64("price", s.Price),
				applogger.String("session", string(s.Session)),
				applogger.Int("confidence", s.Confidence),
				applogger.String("freshness", string(s.Freshness(time.Now()))))
		}),
		subscriber.OnStateChange(func(st subscriber.State) {
			l.Info("connection state", applogger.String("state", st.String()))
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l.Info("subscriber starting", applogger.String("url", sc.URL), applogger.String("api", sc.APIURL))
	if err := client.Run(ctx); err != nil {
		l.Error("subscriber stopped", applogger.Error(err))
		os.Exit(1)
	}
	_ = client.Close()
}
