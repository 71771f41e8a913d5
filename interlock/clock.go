package interlock

import "time"

// SystemClock counts milliseconds since it was created. The value is
// truncated to 32 bits and wraps after ~49.7 days of uptime.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) NowMs() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// elapsedMs is wraparound-safe for any interval shorter than 2^32 ms
func elapsedMs(now, then uint32) uint32 {
	return now - then
}

// FakeClock is a manually driven Clock for tests and replay
type FakeClock struct {
	now uint32
}

func NewFakeClock(start uint32) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) NowMs() uint32 {
	return c.now
}

func (c *FakeClock) Set(ms uint32) {
	c.now = ms
}

// Advance moves the clock forward, wrapping at 2^32
func (c *FakeClock) Advance(ms uint32) uint32 {
	c.now += ms
	return c.now
}
