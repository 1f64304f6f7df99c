package fileflow

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// ValidID reports whether id is a well-formed UUID. Malformed ids are
// rejected before any query reaches a store.
func ValidID(id string) bool {
	return uuid.Validate(id) == nil
}

// Timestamp normalizes t to the millisecond UTC resolution every store keeps.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// advance returns the next modification time after prev. It never goes
// backward and never repeats prev, even under a frozen clock.
func advance(prev, now time.Time) time.Time {
	now = Timestamp(now)
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}
