package di

import (
	"context"
	"fmt"
	"time"

	"SignalRelay/internal/domain/repository"
	"SignalRelay/internal/handler/api"
	mid "SignalRelay/internal/middleware"
	"SignalRelay/internal/realtime"
	internalrepo "SignalRelay/internal/repository"
	"SignalRelay/internal/service/ratelimit"
	"SignalRelay/internal/usecase"
	"SignalRelay/pkg/cache"
	pkgch "SignalRelay/pkg/clickhouse"
	"SignalRelay/pkg/config"
	xhttp "SignalRelay/pkg/http"
	pkgkafka "SignalRelay/pkg/kafka"
	applogger "SignalRelay/pkg/logger"
	"SignalRelay/pkg/metrics"
	"SignalRelay/pkg/queue"
	"SignalRelay/pkg/server"
)

const initTimeout = 10 * time.Second

// ProvideLogger creates the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder, or a no-op one when metrics are off.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideRedisCache connects to Redis when any component needs it. Nil means Redis is unused.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	needed := cfg.Redis.Enabled ||
		(cfg.Cache.Enabled && (cfg.Cache.Mode == "redis" || cfg.Cache.Mode == "layered"))
	if !needed {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideQueryCache picks the query cache for the configured mode. Nil disables caching.
func ProvideQueryCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if !cfg.Cache.Enabled {
		return nil
	}
	switch cfg.Cache.Mode {
	case "redis":
		return rc
	case "layered":
		return cache.NewLayeredCache(rc,
			cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
			cache.WithLayeredMemoryTTL(cfg.Cache.TTL),
		)
	default:
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize))
	}
}

// ProvideSignalStore opens the configured backend, prepares its schema and optionally
// fronts it with the query cache.
func ProvideSignalStore(cfg *config.Config, l *applogger.Logger, qc cache.Service) (repository.SignalStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	var store repository.SignalStore
	switch cfg.Backend.Type {
	case "clickhouse":
		ch, err := pkgch.NewClient(ctx,
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		if err := ch.InitSchema(ctx, []string{
			"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
		}); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		store = internalrepo.NewCHSignalStore(ch, cfg.ClickHouse.Table, l)
	case "mongo":
		client, err := internalrepo.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Timeout)
		if err != nil {
			return nil, err
		}
		store = internalrepo.NewMongoSignalStore(client, cfg.Mongo.Database, cfg.Mongo.Collection, l)
	default:
		store = internalrepo.NewMemorySignalStore()
	}

	if qc != nil {
		store = internalrepo.NewCachedSignalStore(store, qc, cfg.Cache.TTL, l)
	}

	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%s store init: %w", cfg.Backend.Type, err)
	}
	l.Info("signal store ready",
		applogger.String("backend", cfg.Backend.Type),
		applogger.Bool("cached", qc != nil))
	return store, nil
}

// ProvideHub creates the subscriber hub.
func ProvideHub(cfg *config.Config, l *applogger.Logger, m repository.Metrics) *realtime.Hub {
	return realtime.NewHub(l,
		realtime.WithSendTimeout(cfg.Hub.SendTimeout),
		realtime.WithMaxParallelSends(cfg.Hub.MaxParallelSends),
		realtime.WithWelcomeMessage(cfg.Hub.WelcomeMessage),
		realtime.WithMetrics(m),
	)
}

// ProvideEventPipeline publishes store mutations to Kafka. Nil when Kafka is disabled.
func ProvideEventPipeline(cfg *config.Config, l *applogger.Logger, m repository.Metrics) (*mid.EventPipeline, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	pub := internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic)
	return mid.NewEventPipeline(pub, m,
		mid.WithBufferSize(cfg.Events.BufferSize),
		mid.WithRetryBackoff(cfg.Events.RetryMin, cfg.Events.RetryMax),
		mid.WithLogger(l),
	), nil
}

// ProvideRelay shares signals with other instances over Redis. Nil when Redis is disabled.
func ProvideRelay(cfg *config.Config, rc *cache.RedisCache, hub *realtime.Hub, l *applogger.Logger) *internalrepo.RedisRelay {
	if !cfg.Redis.Enabled || rc == nil {
		return nil
	}
	return internalrepo.NewRedisRelay(rc.Client(), cfg.Redis.RelayChannel, hub, l)
}

// ProvideSignalIngestor creates the ingestion use case.
func ProvideSignalIngestor(
	store repository.SignalStore,
	hub *realtime.Hub,
	m repository.Metrics,
	pipeline *mid.EventPipeline,
	relay *internalrepo.RedisRelay,
	l *applogger.Logger,
) *usecase.SignalIngestor {
	opts := []usecase.IngestorOption{usecase.WithIngestLogger(l)}
	if pipeline != nil {
		opts = append(opts, usecase.WithEventPublisher(pipeline))
	}
	if relay != nil {
		opts = append(opts, usecase.WithRelay(relay))
	}
	return usecase.NewSignalIngestor(store, hub, m, opts...)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML. Nil when disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook{})
	return consumer, nil
}

// ProvideKafkaSignalsHandler handles alerts on the ingest topic.
func ProvideKafkaSignalsHandler(cfg *config.Config, ing *usecase.SignalIngestor, m repository.Metrics, l *applogger.Logger) *usecase.KafkaSignalsHandler {
	return usecase.NewKafkaSignalsHandler(cfg.Kafka.IngestTopic, ing, m, l)
}

// ProvideHTTPServer mounts the signal API and the subscriber endpoint.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, ing *usecase.SignalIngestor, hub *realtime.Hub) *xhttp.Server {
	signals := api.NewSignalsEchoHandler(l, ing, hub, ratelimit.New(), api.SignalsRoutes{
		BasePath:     cfg.Server.BasePath,
		RateLimit:    cfg.RateLimit.Enabled,
		RateRequests: cfg.RateLimit.Requests,
		RateWindow:   cfg.RateLimit.Window,
	})
	ws := api.NewRealtimeEchoHandler(l, hub, cfg.Hub.ReadLimit)

	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, cfg.Server.SlowRequest))
	}
	return xhttp.NewServer(xhttp.Handlers{signals, ws}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	hub *realtime.Hub,
	srv *xhttp.Server,
	store repository.SignalStore,
	rc *cache.RedisCache,
	pipeline *mid.EventPipeline,
	relay *internalrepo.RedisRelay,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaSignalsHandler,
) *server.App {
	opts := []server.AppOption{server.WithCloser(store)}
	if pipeline != nil {
		opts = append(opts, server.WithEventPipeline(pipeline))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, kh))
	}
	if relay != nil {
		opts = append(opts, server.WithRunner(relay))
	}
	if rc != nil {
		if cfg.Log.Collector.Enabled {
			l.AddCollector(&applogger.CollectionConfig{
				TimeInterval:   cfg.Log.Collector.Interval,
				CountThreshold: cfg.Log.Collector.Threshold,
				Topic:          cfg.Log.Collector.Topic,
				Publisher:      queue.NewRedisPublisher(l, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue")),
			})
		}
		// the cached store owns rc when it backs the query cache
		if !cfg.Cache.Enabled || cfg.Cache.Mode == "memory" {
			opts = append(opts, server.WithCloser(rc))
		}
	}
	return server.New(cfg, l, hub, srv, opts...)
}
