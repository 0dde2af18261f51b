package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerConfigZeroOptionsKeepDefaults(t *testing.T) {
	cfg := defaultProducerConfig()
	for _, opt := range []ProducerOption{
		WithBrokers([]string{"localhost:9092"}),
		WithCompression(""),
		WithBatchSize(0),
		WithBatchBytes(0),
		WithBatchTimeout(0),
		WithTimeouts(0, 3*time.Second),
		WithHashByKey(true),
	} {
		opt(cfg)
	}

	require.NoError(t, cfg.validate())
	assert.Equal(t, "gzip", cfg.Compression)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1<<20, cfg.BatchBytes)
	assert.Equal(t, time.Second, cfg.BatchTimeout)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.True(t, cfg.HashByKey)
}

func TestProducerConfigValidate(t *testing.T) {
	cfg := defaultProducerConfig()
	assert.Error(t, cfg.validate())

	cfg.Brokers = []string{"b:9092"}
	cfg.RequiredAcks = 2
	assert.Error(t, cfg.validate())

	cfg.RequiredAcks = 1
	cfg.MaxAttempts = 0
	require.NoError(t, cfg.validate())
	assert.Equal(t, 1, cfg.MaxAttempts)
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.ErrorContains(t, err, "brokers are required")
}
