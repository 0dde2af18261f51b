package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"SignalRelay/pkg/util"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		BasePath        string        `yaml:"base_path"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		SlowRequest     time.Duration `yaml:"slow_request"`
	} `yaml:"server"`
	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Output    string `yaml:"output"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval"`
			Threshold int           `yaml:"threshold"`
			Topic     string        `yaml:"topic"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Hub struct {
		SendTimeout      time.Duration `yaml:"send_timeout"`
		MaxParallelSends int           `yaml:"max_parallel_sends"`
		WelcomeMessage   string        `yaml:"welcome_message"`
		ReadLimit        int64         `yaml:"read_limit"`
	} `yaml:"hub"`
	RateLimit struct {
		Enabled  bool          `yaml:"enabled"`
		Requests int           `yaml:"requests"`
		Window   time.Duration `yaml:"window"`
	} `yaml:"ratelimit"`
	Backend struct {
		Type string `yaml:"type"` // memory, clickhouse or mongo
	} `yaml:"backend"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		Table            string        `yaml:"table"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Mongo struct {
		URI        string        `yaml:"uri"`
		Database   string        `yaml:"database"`
		Collection string        `yaml:"collection"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"mongo"`
	Redis struct {
		Enabled      bool   `yaml:"enabled"`
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		Password     string `yaml:"password"`
		DB           int    `yaml:"db"`
		Prefix       string `yaml:"prefix"`
		RelayChannel string `yaml:"relay_channel"`
	} `yaml:"redis"`
	Cache struct {
		Enabled       bool          `yaml:"enabled"`
		Mode          string        `yaml:"mode"` // memory, redis or layered
		TTL           time.Duration `yaml:"ttl"`
		MemoryMaxSize int           `yaml:"memory_max_size"`
	} `yaml:"cache"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		IngestTopic  string   `yaml:"ingest_topic"`
		EventsTopic  string   `yaml:"events_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Events struct {
		BufferSize int           `yaml:"buffer_size"`
		RetryMin   time.Duration `yaml:"retry_min"`
		RetryMax   time.Duration `yaml:"retry_max"`
	} `yaml:"events"`
	Subscriber struct {
		URL            string        `yaml:"url"`
		APIURL         string        `yaml:"api_url"`
		CatchUpLimit   int           `yaml:"catch_up_limit"`
		BackoffMin     time.Duration `yaml:"backoff_min"`
		BackoffMax     time.Duration `yaml:"backoff_max"`
		BackoffFactor  float64       `yaml:"backoff_factor"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		ForceReconnect bool          `yaml:"force_reconnect"`
		DedupeTTL      time.Duration `yaml:"dedupe_ttl"`
	} `yaml:"subscriber"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.ApplyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	c.applyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	c.Server.Port = util.ParseIntDefault(getenv("PORT"), c.Server.Port)
	if v := getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			c.Redis.Port = util.ParseIntDefault(port, c.Redis.Port)
		}
	}
	if v := getenv("MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("SUBSCRIBER_URL"); v != "" {
		c.Subscriber.URL = v
	}
	if v := getenv("SUBSCRIBER_API_URL"); v != "" {
		c.Subscriber.APIURL = v
	}
}

// ApplyDefaults fills every zero setting with its default.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Log.Collector.Topic == "" {
		c.Log.Collector.Topic = "logs.errors"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Hub.SendTimeout == 0 {
		c.Hub.SendTimeout = 5 * time.Second
	}
	if c.Hub.MaxParallelSends == 0 {
		c.Hub.MaxParallelSends = 64
	}
	if c.Hub.WelcomeMessage == "" {
		c.Hub.WelcomeMessage = "Connected to signal relay"
	}
	if c.Hub.ReadLimit == 0 {
		c.Hub.ReadLimit = 4096
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 100
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 15 * time.Minute
	}
	if c.Backend.Type == "" {
		c.Backend.Type = "memory"
	}
	if c.ClickHouse.Port == 0 {
		c.ClickHouse.Port = 9000
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "signalrelay"
	}
	if c.ClickHouse.Table == "" {
		c.ClickHouse.Table = "signals"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "signalrelay"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "signals"
	}
	if c.Mongo.Timeout == 0 {
		c.Mongo.Timeout = 10 * time.Second
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "signalrelay"
	}
	if c.Cache.Mode == "" {
		c.Cache.Mode = "memory"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 30 * time.Second
	}
	if c.Cache.MemoryMaxSize == 0 {
		c.Cache.MemoryMaxSize = 1000
	}
	if c.Kafka.IngestTopic == "" {
		c.Kafka.IngestTopic = "signals.ingest"
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = "signals.events"
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "signalrelay"
	}
	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = 1000
	}
	if c.Events.RetryMin == 0 {
		c.Events.RetryMin = 50 * time.Millisecond
	}
	if c.Events.RetryMax == 0 {
		c.Events.RetryMax = 2 * time.Second
	}
	if c.Subscriber.URL == "" {
		c.Subscriber.URL = "ws://localhost:8080/ws"
	}
	if c.Subscriber.APIURL == "" {
		c.Subscriber.APIURL = "http://localhost:8080/api"
	}
	if c.Subscriber.CatchUpLimit == 0 {
		c.Subscriber.CatchUpLimit = 50
	}
	if c.Subscriber.BackoffMin == 0 {
		c.Subscriber.BackoffMin = time.Second
	}
	if c.Subscriber.BackoffMax == 0 {
		c.Subscriber.BackoffMax = 30 * time.Second
	}
	if c.Subscriber.BackoffFactor == 0 {
		c.Subscriber.BackoffFactor = 2
	}
	if c.Subscriber.PingInterval == 0 {
		c.Subscriber.PingInterval = 25 * time.Second
	}
	if c.Subscriber.PongTimeout == 0 {
		c.Subscriber.PongTimeout = 10 * time.Second
	}
	if c.Subscriber.DedupeTTL == 0 {
		c.Subscriber.DedupeTTL = time.Hour
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case "memory":
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for the clickhouse backend")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("backend.type must be 'memory', 'clickhouse' or 'mongo', got '%s'", c.Backend.Type)
	}

	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with '/', got '%s'", c.Server.BasePath)
	}
	if c.Hub.SendTimeout < 0 {
		return fmt.Errorf("hub.send_timeout must be positive")
	}
	if c.Hub.MaxParallelSends < 1 {
		return fmt.Errorf("hub.max_parallel_sends must be at least 1")
	}

	if c.Cache.Enabled {
		switch c.Cache.Mode {
		case "memory":
		case "redis", "layered":
			if !c.Redis.Enabled {
				return fmt.Errorf("cache.mode '%s' requires redis.enabled", c.Cache.Mode)
			}
		default:
			return fmt.Errorf("cache.mode must be 'memory', 'redis' or 'layered', got '%s'", c.Cache.Mode)
		}
	}
	if c.Redis.RelayChannel != "" && !c.Redis.Enabled {
		return fmt.Errorf("redis.relay_channel requires redis.enabled")
	}
	if c.Log.Collector.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("log.collector requires redis.enabled")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Kafka.Consumer.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("kafka.consumer requires kafka.enabled")
	}

	if c.Subscriber.BackoffMax < c.Subscriber.BackoffMin {
		return fmt.Errorf("subscriber.backoff_max must not be below backoff_min")
	}
	return nil
}
