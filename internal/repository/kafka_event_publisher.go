package repository

import (
	"context"
	"strconv"

	"SignalRelay/internal/domain/models"
	domrepo "SignalRelay/internal/domain/repository"
	pkgkafka "SignalRelay/pkg/kafka"
)

// KafkaEventPublisher writes signal events to a topic keyed by signal id, so all events of
// one signal land on the same partition.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev *models.SignalEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(strconv.FormatInt(ev.SignalID, 10)), ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
