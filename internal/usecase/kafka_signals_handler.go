package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"SignalRelay/internal/domain/models"
	domrepo "SignalRelay/internal/domain/repository"
	pkgkafka "SignalRelay/pkg/kafka"
	applogger "SignalRelay/pkg/logger"

	"github.com/creasty/defaults"
)

// KafkaSignalsHandler feeds alerts consumed from Kafka into the ingestor.
// Malformed or invalid alerts are dropped; storage failures are returned so the consumer
// retries and eventually dead-letters the message.
type KafkaSignalsHandler struct {
	topic    string
	ingestor *SignalIngestor
	metrics  domrepo.Metrics
	l        *applogger.Logger
}

func NewKafkaSignalsHandler(topic string, ingestor *SignalIngestor, metrics domrepo.Metrics, l *applogger.Logger) *KafkaSignalsHandler {
	if l == nil {
		l = applogger.NewNop()
	}
	return &KafkaSignalsHandler{topic: topic, ingestor: ingestor, metrics: metrics, l: l}
}

func (h *KafkaSignalsHandler) Topic() string { return h.topic }

// incoming message schema matches the POST /signals body
func (h *KafkaSignalsHandler) Handle(ctx context.Context, b []byte) error {
	var req models.CreateSignalRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		h.l.Warn("dropping malformed alert",
			applogger.String("trace_id", pkgkafka.TraceID(ctx)),
			applogger.Error(err))
		return nil
	}
	// same order as the HTTP binder: zero values, explicit or omitted, take the defaults
	if err := defaults.Set(&req); err != nil {
		return err
	}

	res, err := h.ingestor.Ingest(ctx, &req)
	if errors.Is(err, models.ErrValidation) {
		h.l.Warn("dropping invalid alert",
			applogger.String("trace_id", pkgkafka.TraceID(ctx)),
			applogger.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	h.l.Debug("alert consumed",
		applogger.String("trace_id", pkgkafka.TraceID(ctx)),
		applogger.Int64("signal_id", res.Signal.ID))
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaSignalsHandler)(nil)
