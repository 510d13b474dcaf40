package executor

import "time"

// TimePoint is a monotonic instant, expressed as an offset from an
// arbitrary epoch fixed by whoever constructs the Executor (never wall
// clock — spec.md section 3 requires only a monotonic clock).
type TimePoint time.Duration

// Duration is a signed offset between two TimePoints.
type Duration time.Duration

// minTimePoint is the sentinel meaning "earlier than any real time".
const minTimePoint TimePoint = TimePoint(-1 << 63)

// Min returns the sentinel TimePoint that compares earlier than any value
// produced by a real clock reading.
func Min() TimePoint {
	return minTimePoint
}

// IsMin reports whether t is the Min() sentinel.
func (t TimePoint) IsMin() bool {
	return t == minTimePoint
}

// Add returns t+d, saturating instead of wrapping on overflow.
func (t TimePoint) Add(d Duration) TimePoint {
	if t.IsMin() {
		return t
	}
	sum := int64(t) + int64(d)
	if d > 0 && sum < int64(t) {
		return TimePoint(1<<63 - 1)
	}
	if d < 0 && sum > int64(t) {
		return minTimePoint + 1
	}
	return TimePoint(sum)
}

// Sub returns the signed duration t-u.
func (t TimePoint) Sub(u TimePoint) Duration {
	return Duration(int64(t) - int64(u))
}

// Before reports whether t occurs before u.
func (t TimePoint) Before(u TimePoint) bool {
	return t < u
}

// After reports whether t occurs after u.
func (t TimePoint) After(u TimePoint) bool {
	return t > u
}

// AsTimeDuration exposes the underlying offset as a time.Duration, useful
// for sleeping: time.Sleep(time.Duration(next.Sub(now))).
func (d Duration) AsTimeDuration() time.Duration {
	return time.Duration(d)
}

// Since returns the TimePoint d after the epoch, a convenience for tests
// and embedders wiring a real monotonic clock (time.Since(start)).
func Since(d time.Duration) TimePoint {
	return TimePoint(d)
}

// WallClock renders t as a time.Time for interop with APIs that require
// one (types.Transfer.Timestamp among them), anchored at the zero time
// rather than sampled from the process's wall clock. Calling time.Now()
// instead would mix a second, unrelated clock source into a stack spec.md
// requires run off exactly one monotonic clock.
func (t TimePoint) WallClock() time.Time {
	return time.Time{}.Add(time.Duration(t))
}
