package service

import (
	"testing"
	"time"

	"SignalRelay/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

func TestClassifySession(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		utcHour int
		want    models.Session
	}{
		{0, models.SessionAsian},
		{6, models.SessionAsian},
		{7, models.SessionLondon},  // 10 local
		{11, models.SessionLondon}, // 14 local
		{12, models.SessionNewYork},
		{18, models.SessionNewYork}, // 21 local
		{19, models.SessionAsian},   // 22 local
		{21, models.SessionAsian},   // wraps to 0
		{23, models.SessionAsian},
	}

	for _, tt := range tests {
		got := ClassifySession(day.Add(time.Duration(tt.utcHour) * time.Hour))
		assert.Equal(t, tt.want, got, "utc hour %d", tt.utcHour)
	}
}

func TestClassifySessionDependsOnlyOnHour(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for h := 0; h < 24; h++ {
		want := ClassifySession(base.Add(time.Duration(h) * time.Hour))
		for _, shift := range []time.Duration{
			17 * time.Minute,
			59*time.Minute + 59*time.Second,
			24 * time.Hour * 45,
			24 * time.Hour * 200,
		} {
			ts := base.Add(time.Duration(h)*time.Hour + shift)
			assert.Equal(t, want, ClassifySession(ts), "hour %d shift %s", h, shift)
		}
	}
}

func TestClassifySessionIgnoresZone(t *testing.T) {
	utc := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tokyo := utc.In(time.FixedZone("JST", 9*3600))

	assert.Equal(t, models.SessionNewYork, ClassifySession(utc))
	assert.Equal(t, ClassifySession(utc), ClassifySession(tokyo))
}
