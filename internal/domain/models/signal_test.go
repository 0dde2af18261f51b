package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignalType(t *testing.T) {
	for _, in := range []string{"long", "LONG", " Long "} {
		got, err := ParseSignalType(in)
		require.NoError(t, err)
		assert.Equal(t, SignalLong, got)
	}

	got, err := ParseSignalType("Short")
	require.NoError(t, err)
	assert.Equal(t, SignalShort, got)

	for _, in := range []string{"", "buy", "longer"} {
		_, err := ParseSignalType(in)
		assert.True(t, errors.Is(err, ErrValidation), "input %q", in)
	}
}

func TestApplyDefaults(t *testing.T) {
	s := &Signal{Type: SignalShort, Confidence: 140}
	s.ApplyDefaults()

	assert.Equal(t, DefaultSymbol, s.Symbol)
	assert.Equal(t, SessionUnknown, s.Session)
	assert.Equal(t, DefaultSignalNumber, s.SignalNumber)
	assert.Equal(t, DefaultSource, s.Source)
	assert.Equal(t, StatusNew, s.Status)
	assert.Equal(t, 100, s.Confidence)

	s = &Signal{Confidence: -3}
	s.ApplyDefaults()
	assert.Equal(t, 0, s.Confidence)
}

func TestSignalFilterNormalize(t *testing.T) {
	f := SignalFilter{Type: "LONG"}.Normalize()
	assert.Equal(t, SignalLong, f.Type)
	assert.Equal(t, DefaultQueryLimit, f.Limit)

	f = SignalFilter{Limit: 5000}.Normalize()
	assert.Equal(t, MaxQueryLimit, f.Limit)
}

func TestFreshness(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Signal{CreatedAt: now.Add(-15 * time.Minute)}
	assert.Equal(t, StatusNew, s.Freshness(now))

	s.CreatedAt = now.Add(-16 * time.Minute)
	assert.Equal(t, StatusActive, s.Freshness(now))
}
