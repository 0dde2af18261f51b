package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"SignalRelay/internal/domain/models"
	domrepo "SignalRelay/internal/domain/repository"
	applogger "SignalRelay/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type relayEnvelope struct {
	Origin string         `json:"origin"`
	Signal *models.Signal `json:"signal"`
}

// RedisRelay shares persisted signals between instances over Redis pub/sub. Each
// instance broadcasts what the others publish to its own hub and skips its own messages.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	hub     domrepo.Broadcaster
	l       *applogger.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewRedisRelay(client *redis.Client, channel string, hub domrepo.Broadcaster, l *applogger.Logger) *RedisRelay {
	if channel == "" {
		channel = "signalrelay:signals"
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		hub:     hub,
		l:       l,
	}
}

// Origin identifies this instance on the channel.
func (r *RedisRelay) Origin() string {
	return r.origin
}

// Publish announces s to the other instances.
func (r *RedisRelay) Publish(ctx context.Context, s *models.Signal) error {
	b, err := json.Marshal(relayEnvelope{Origin: r.origin, Signal: s})
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Run subscribes to the channel and broadcasts foreign signals until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.mu.Lock()
	r.pubsub = ps
	r.mu.Unlock()

	r.l.Info("relay subscribed", applogger.String("channel", r.channel), applogger.String("origin", r.origin))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return r.Close()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, []byte(msg.Payload))
		}
	}
}

// handle reports how many local subscribers received the relayed signal.
func (r *RedisRelay) handle(ctx context.Context, payload []byte) int {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.l.Warn("relay message malformed", applogger.Error(err))
		return 0
	}
	if env.Origin == r.origin || env.Signal == nil {
		return 0
	}
	n := r.hub.Broadcast(ctx, env.Signal)
	r.l.Debug("relayed signal broadcast",
		applogger.Int64("signal_id", env.Signal.ID),
		applogger.String("from", env.Origin),
		applogger.Int("delivered", n))
	return n
}

func (r *RedisRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub == nil {
		return nil
	}
	err := r.pubsub.Close()
	r.pubsub = nil
	return err
}
