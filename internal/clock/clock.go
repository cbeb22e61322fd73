// Package clock supplies the monotonic millisecond counter and the
// wall-clock instant the rest of the runtime builds timestamps from (spec
// section 2.1, 3). The wall-clock may be unsynchronized until the CSMS
// supplies a reference time (e.g. via BootNotification/Heartbeat response);
// the monotonic tick never rewinds and is used for offline-sensitive
// timeouts and clock-aligned metering.
package clock

import "time"

// Timestamp is a wall-clock instant with millisecond resolution. A
// Timestamp with Valid == false is the "not yet synchronized" sentinel from
// spec section 3 — callers that need a wire-format value before sync must
// fall back to a monotonic offset, per Connector.StatusNotification
// emission (spec section 4.5.2).
type Timestamp struct {
	t     time.Time
	valid bool
}

// Zero is the not-yet-synchronized sentinel.
var Zero = Timestamp{}

// NewTimestamp wraps a concrete wall-clock instant as synchronized.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC(), valid: true}
}

// Valid reports whether the timestamp has been synchronized to a CSMS-
// provided wall clock.
func (ts Timestamp) Valid() bool { return ts.valid }

// Time returns the underlying time.Time; callers must check Valid first.
func (ts Timestamp) Time() time.Time { return ts.t }

// Format renders the timestamp per spec section 6.2: ISO 8601 UTC with a
// trailing Z and millisecond precision.
func (ts Timestamp) Format() string {
	if !ts.valid {
		return ""
	}
	return ts.t.Format("2006-01-02T15:04:05.000Z")
}

// Clock is the monotonic tick plus wall-clock source threaded through the
// Context loop (spec section 2.1, 5). It is not goroutine-safe by design:
// the core runs on a single execution thread per spec section 5.
type Clock struct {
	startMono time.Time
	nowFn     func() time.Time
	synced    bool
	wallAtTick time.Time // wall clock value observed at the tick it was synced
	tickAtSync uint64
}

// New creates a Clock using the real wall clock. Tests may swap nowFn via
// NewWithSource to control time deterministically.
func New() *Clock {
	return NewWithSource(time.Now)
}

// NewWithSource creates a Clock driven by an injected time source, letting
// tests advance monotonic time without sleeping.
func NewWithSource(nowFn func() time.Time) *Clock {
	return &Clock{startMono: nowFn(), nowFn: nowFn}
}

// TickMs returns the monotonic millisecond counter since the Clock was
// created. It never rewinds, independent of wall-clock synchronization.
func (c *Clock) TickMs() uint64 {
	return uint64(c.nowFn().Sub(c.startMono) / time.Millisecond)
}

// Sync records a CSMS-provided wall-clock instant as authoritative,
// anchored to the current monotonic tick so future calls to Now() stay
// consistent even if the local wall clock drifts.
func (c *Clock) Sync(wall time.Time) {
	c.wallAtTick = wall.UTC()
	c.tickAtSync = c.TickMs()
	c.synced = true
}

// Synced reports whether Sync has been called since process start.
func (c *Clock) Synced() bool { return c.synced }

// Now returns the current wall-clock Timestamp. Before the first Sync, it
// returns the Zero sentinel (spec section 3) rather than an unsynchronized
// guess — callers needing a value regardless of sync must use
// MonotonicOffset instead.
func (c *Clock) Now() Timestamp {
	if !c.synced {
		return Zero
	}
	elapsed := time.Duration(c.TickMs()-c.tickAtSync) * time.Millisecond
	return NewTimestamp(c.wallAtTick.Add(elapsed))
}

// MonotonicOffset returns the current tick as a duration since process
// start, for use when wall time is not yet known (spec section 4.5.2: "the
// monotonic offset — to be adjusted at boot once the clock is set").
func (c *Clock) MonotonicOffset() time.Duration {
	return time.Duration(c.TickMs()) * time.Millisecond
}
