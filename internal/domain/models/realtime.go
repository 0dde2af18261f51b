package models

import (
	"encoding/json"
	"time"
)

// Realtime message types exchanged over the subscriber channel.
const (
	MessageConnection = "connection"
	MessageSignal     = "signal"
	MessagePing       = "ping"
	MessagePong       = "pong"
)

type ConnectionMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type PongMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type PingMessage struct {
	Type string `json:"type"`
}

type SignalMessage struct {
	Type string  `json:"type"`
	Data *Signal `json:"data"`
}

// InboundMessage is the loose shape used to peek at a frame's type before decoding it.
type InboundMessage struct {
	Type      string          `json:"type"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func NewConnectionMessage(msg string, now time.Time) ConnectionMessage {
	return ConnectionMessage{Type: MessageConnection, Message: msg, Timestamp: now}
}

func NewPongMessage(now time.Time) PongMessage {
	return PongMessage{Type: MessagePong, Timestamp: now}
}

func NewSignalMessage(s *Signal) SignalMessage {
	return SignalMessage{Type: MessageSignal, Data: s}
}

// SignalEvent is published to downstream systems after a store mutation.
type SignalEvent struct {
	Event      string    `json:"event"`
	Signal     *Signal   `json:"signal,omitempty"`
	SignalID   int64     `json:"signalId"`
	OccurredAt time.Time `json:"occurredAt"`
}

const (
	EventSignalCreated = "signal.created"
	EventSignalDeleted = "signal.deleted"
	EventSignalStatus  = "signal.status"
)
