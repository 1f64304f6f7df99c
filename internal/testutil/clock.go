package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StubClock is a manually driven fileflow.Clock. Stores persist Unix
// milliseconds, so every instant it hands out is already millisecond
// aligned and round-trips through any store unchanged.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock starts a clock at t, truncated to the millisecond in UTC.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t.UTC().Truncate(time.Millisecond)}
}

// FixedClock starts at 2024-03-02 08:15:42.250 UTC. The non-zero
// millisecond part catches code that drops sub-second precision.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 3, 2, 8, 15, 42, 250*int(time.Millisecond), time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance steps the clock by d. Sub-millisecond remainders are dropped.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d).Truncate(time.Millisecond)
	c.mu.Unlock()
}

// StubIDGenerator hands out StubID(1), StubID(2), ... in call order.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	g.next++
	n := g.next
	g.mu.Unlock()
	return StubID(n)
}

// StubID is the nth id of a StubIDGenerator, a valid UUID with n in the
// last group.
func StubID(n int) string {
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
}
