package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "memory", c.Backend.Type)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "/api", c.Server.BasePath)
	assert.Equal(t, 5*time.Second, c.Hub.SendTimeout)
	assert.Equal(t, 100, c.RateLimit.Requests)
	assert.Equal(t, 15*time.Minute, c.RateLimit.Window)
	assert.Equal(t, 50, c.Subscriber.CatchUpLimit)
}

func TestParseDurations(t *testing.T) {
	c, err := Parse([]byte(`
hub:
  send_timeout: 750ms
subscriber:
  backoff_min: 2s
  backoff_max: 1m
`))
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, c.Hub.SendTimeout)
	assert.Equal(t, 2*time.Second, c.Subscriber.BackoffMin)
	assert.Equal(t, time.Minute, c.Subscriber.BackoffMax)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		ok   bool
	}{
		{"unknown backend", "backend:\n  type: sqlite\n", false},
		{"mongo without uri", "backend:\n  type: mongo\n", false},
		{"mongo with uri", "backend:\n  type: mongo\nmongo:\n  uri: mongodb://localhost:27017\n", true},
		{"clickhouse without host", "backend:\n  type: clickhouse\n", false},
		{"redis cache without redis", "cache:\n  enabled: true\n  mode: redis\n", false},
		{"kafka without brokers", "kafka:\n  enabled: true\n", false},
		{"consumer without kafka", "kafka:\n  consumer:\n    enabled: true\n", false},
		{"relative base path", "server:\n  base_path: api\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	env := map[string]string{
		"PORT":          "9090",
		"BACKEND":       "mongo",
		"MONGO_URI":     "mongodb://db:27017",
		"REDIS_ADDR":    "cache:6380",
		"KAFKA_BROKERS": "k1:9092,k2:9092",
	}
	c.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "mongo", c.Backend.Type)
	assert.Equal(t, "mongodb://db:27017", c.Mongo.URI)
	assert.Equal(t, "cache", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.NoError(t, c.Validate())
}
