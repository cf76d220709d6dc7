// Package queue provides the bounded, statically sized primitives shared by
// every layer of the stack: generic circular queues and millisecond
// timers with optional auto-repeat. Both are built for a single-threaded,
// cooperatively scheduled caller — neither type does any locking.
package queue

// Clock returns the current tick count in milliseconds. Production code
// wires in a monotonic source; tests supply a deterministic one so that
// timer expiry is reproducible.
type Clock func() int64

// Timer is a monotonic, millisecond-resolution alarm. The zero value is
// stopped. Ticks are caller-supplied (via Clock) rather than wall-clock so
// that a whole stack instance can be driven from one Service() loop without
// touching the real clock more than once per tick.
//
// Mirrors LonTimer from the original lcs_timer interface: Expired() returns
// true exactly once per arming, and RepeatMS > 0 rearms it carrying forward
// any overrun instead of losing it.
type Timer struct {
	expiration int64 // tick at which the timer fires; 0 means stopped
	repeatMS   int64
}

// Set arms the timer to fire after ms milliseconds from now. A value of 0
// stops the timer. Collisions with an expiration that computes to exactly 0
// (meaning "stopped") are nudged to 1, matching the original's guard against
// a live timer being mistaken for a stopped one.
func (t *Timer) Set(now int64, ms int64) {
	t.repeatMS = 0
	if ms <= 0 {
		t.expiration = 0
		return
	}
	t.expiration = now + ms
	if t.expiration == 0 {
		t.expiration = 1
	}
}

// SetRepeating arms the timer like Set, and rearms it every ms milliseconds
// thereafter until Set(now, 0) stops it.
func (t *Timer) SetRepeating(now int64, ms int64) {
	t.Set(now, ms)
	if ms > 0 {
		t.repeatMS = ms
	}
}

// Stop disarms the timer.
func (t *Timer) Stop() {
	t.expiration = 0
	t.repeatMS = 0
}

// Running reports whether the timer is armed and has not yet expired. Unlike
// Expired, it does not consume the expiration and can be polled repeatedly.
func (t *Timer) Running(now int64) bool {
	return t.expiration != 0 && t.expiration-now > 0
}

// Expired reports, exactly once per arming, whether the timer has fired. A
// repeating timer is immediately rearmed for the next period, carrying
// forward any overrun delta so that a caller which services the timer late
// does not accumulate drift — though the next fire is never scheduled behind
// the current tick.
//
// The delta is computed as a signed 64-bit difference. The original C
// implementation took this difference into a declared-but-misspelled
// "IIzotBits32nt32" type; on this stack's 64-bit tick counter the
// corresponding hazard (32-bit wraparound of the tick count) cannot occur
// within any realistic uptime, so a plain signed subtraction resolves it.
func (t *Timer) Expired(now int64) bool {
	if t.expiration == 0 {
		return false
	}
	delta := t.expiration - now
	if delta > 0 {
		return false
	}

	t.expiration = 0
	if t.repeatMS > 0 {
		next := t.repeatMS + delta
		if next < 0 {
			next = 0
		}
		repeat := t.repeatMS
		t.Set(now, next)
		t.repeatMS = repeat
	}
	return true
}

// Remaining returns the number of milliseconds left before expiry, or 0 if
// the timer is stopped or already expired.
func (t *Timer) Remaining(now int64) int64 {
	if t.expiration == 0 {
		return 0
	}
	d := t.expiration - now
	if d < 0 {
		return 0
	}
	return d
}
