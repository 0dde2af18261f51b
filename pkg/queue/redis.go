package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SignalRelay/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher pushes messages onto a capped Redis list, one list per message type.
// Consumers pop from the right.
type RedisPublisher struct {
	logger    *logger.Logger
	client    redis.Cmdable
	keyPrefix string
	maxLen    int64
}

// RedisPublisherOption configures RedisPublisher.
type RedisPublisherOption func(*RedisPublisher)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisPublisherOption {
	return func(r *RedisPublisher) {
		r.keyPrefix = prefix
	}
}

// WithMaxLen caps each list; older entries are trimmed. Zero keeps everything.
func WithMaxLen(n int64) RedisPublisherOption {
	return func(r *RedisPublisher) {
		r.maxLen = n
	}
}

// NewRedisPublisher creates a publisher over an existing client.
func NewRedisPublisher(lgr *logger.Logger, client redis.Cmdable, opts ...RedisPublisherOption) *RedisPublisher {
	p := &RedisPublisher{
		logger:    lgr,
		client:    client,
		keyPrefix: "signalrelay:queue",
		maxLen:    10000,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.NewNop()
	}
	return p
}

// Enqueue wraps payload in a Message and pushes it.
func (r *RedisPublisher) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msgData, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := r.QueueKey(msgType)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, msgData)
	if r.maxLen > 0 {
		pipe.LTrim(ctx, key, 0, r.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}

	r.logger.Debug("queue message published",
		logger.String("type", msgType),
		logger.Int("bytes", len(msgData)))
	return nil
}

// PublishMessage publishes a message (implements QueueService and logger.Publisher).
func (r *RedisPublisher) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

// QueueKey is the list a message type lands in.
func (r *RedisPublisher) QueueKey(msgType string) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, msgType)
}
