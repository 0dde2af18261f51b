package service

import (
	"time"

	"SignalRelay/internal/domain/models"
)

// sessionOffset is the fixed shift applied to the UTC hour before bucketing.
// It is not DST aware.
const sessionOffset = 3

// SessionClassifier maps a timestamp to a trading session.
type SessionClassifier func(ts time.Time) models.Session

// ClassifySession buckets ts by (UTC hour + 3) mod 24:
// [10,15) London, [15,22) NewYork, otherwise Asian.
func ClassifySession(ts time.Time) models.Session {
	hour := (ts.UTC().Hour() + sessionOffset) % 24
	switch {
	case hour >= 10 && hour < 15:
		return models.SessionLondon
	case hour >= 15 && hour < 22:
		return models.SessionNewYork
	default:
		return models.SessionAsian
	}
}
