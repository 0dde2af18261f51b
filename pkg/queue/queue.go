package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Message is the envelope pushed onto the list.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// ParsePayload decodes a message payload into T.
func ParsePayload[T any](msg *Message) (*T, error) {
	var result T
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal payload of %s: %w", msg.Type, err)
	}
	return &result, nil
}
