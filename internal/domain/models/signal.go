package models

import (
	"fmt"
	"strings"
	"time"
)

type SignalType string

const (
	SignalLong  SignalType = "long"
	SignalShort SignalType = "short"
)

type Status string

const (
	StatusNew    Status = "new"
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

type Session string

const (
	SessionLondon  Session = "London"
	SessionNewYork Session = "NewYork"
	SessionAsian   Session = "Asian"
	SessionUnknown Session = "Unknown"
)

// Field defaults applied when an alert omits them.
const (
	DefaultSymbol       = "UNKNOWN"
	DefaultConfidence   = 75
	DefaultSignalNumber = 1
	DefaultSource       = "TradingView"
	DefaultQueryLimit   = 50
	MaxQueryLimit       = 1000
)

// Signal is one persisted directional alert.
type Signal struct {
	ID           int64      `json:"id" bson:"_id"`
	Type         SignalType `json:"type" bson:"type"`
	Symbol       string     `json:"symbol" bson:"symbol"`
	Price        float64    `json:"price" bson:"price"`
	Session      Session    `json:"session" bson:"session"`
	Confidence   int        `json:"confidence" bson:"confidence"`
	SignalNumber int        `json:"signalNumber" bson:"signalNumber"`
	Source       string     `json:"source" bson:"source"`
	Status       Status     `json:"status" bson:"status"`
	CreatedAt    time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// ApplyDefaults fills zero fields and clamps confidence to [0,100].
// It never touches ID or timestamps.
func (s *Signal) ApplyDefaults() {
	if s.Symbol == "" {
		s.Symbol = DefaultSymbol
	}
	if s.Session == "" {
		s.Session = SessionUnknown
	}
	if s.SignalNumber == 0 {
		s.SignalNumber = DefaultSignalNumber
	}
	if s.Source == "" {
		s.Source = DefaultSource
	}
	if s.Status == "" {
		s.Status = StatusNew
	}
	s.Confidence = ClampConfidence(s.Confidence)
}

// Clone returns a copy safe to hand out of a store.
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// ClampConfidence bounds v to [0,100].
func ClampConfidence(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// ParseSignalType accepts long/short in any case.
func ParseSignalType(s string) (SignalType, error) {
	switch SignalType(strings.ToLower(strings.TrimSpace(s))) {
	case SignalLong:
		return SignalLong, nil
	case SignalShort:
		return SignalShort, nil
	}
	if s == "" {
		return "", fmt.Errorf("%w: type is required", ErrValidation)
	}
	return "", fmt.Errorf("%w: invalid signal type %q", ErrValidation, s)
}

// ParseStatus accepts new/active/closed in any case.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusNew:
		return StatusNew, nil
	case StatusActive:
		return StatusActive, nil
	case StatusClosed:
		return StatusClosed, nil
	}
	return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
}

// Freshness labels a signal for display: "new" while at most 15 minutes old, "active" after.
func (s *Signal) Freshness(now time.Time) Status {
	if now.Sub(s.CreatedAt) <= 15*time.Minute {
		return StatusNew
	}
	return StatusActive
}

// SignalFilter narrows a store query. Empty fields match everything.
type SignalFilter struct {
	Type    SignalType
	Session Session
	Symbol  string
	Limit   int
}

// Normalize lowers the type and bounds the limit.
func (f SignalFilter) Normalize() SignalFilter {
	f.Type = SignalType(strings.ToLower(string(f.Type)))
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	return f
}

// Matches reports whether s passes the filter's equality predicates.
func (f SignalFilter) Matches(s *Signal) bool {
	if f.Type != "" && s.Type != f.Type {
		return false
	}
	if f.Session != "" && s.Session != f.Session {
		return false
	}
	if f.Symbol != "" && s.Symbol != f.Symbol {
		return false
	}
	return true
}

// SignalStats summarizes recent signals.
type SignalStats struct {
	Total      int           `json:"total"`
	Long       int           `json:"long"`
	Short      int           `json:"short"`
	Sessions   SessionCounts `json:"sessions"`
	LastSignal *Signal       `json:"lastSignal"`
}

type SessionCounts struct {
	London  int `json:"london"`
	NewYork int `json:"newYork"`
	Asian   int `json:"asian"`
}

// IngestResult is what the gateway returns for one accepted alert.
type IngestResult struct {
	Signal          *Signal
	ClientsNotified int
}
