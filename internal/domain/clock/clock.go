// Package clock provides the logical clock that drives temporal rule evaluation.
//
// Logical time is decoupled from the wall clock. It only moves when a caller
// advances it, which keeps every time-window check reproducible.
package clock

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

var (
	// ErrNegativeAdvance is returned when a caller tries to move time backwards.
	ErrNegativeAdvance = errors.New("clock cannot advance by a negative duration")
	// ErrOverflow is returned when a time would not fit in a Time.
	ErrOverflow = errors.New("logical time out of range")
)

// Time is a point in logical time, counted in nanoseconds since the engine epoch.
type Time int64

const (
	// Epoch is the logical time a fresh clock starts at.
	Epoch Time = 0
	// Max is the latest representable logical time.
	Max Time = math.MaxInt64
	// MaxMilliseconds is the largest epoch offset FromMilliseconds accepts.
	MaxMilliseconds = math.MaxInt64 / int64(time.Millisecond)
)

// Add returns t shifted by d.
func (t Time) Add(d time.Duration) Time { return t + Time(d) }

// CheckedAdd returns t shifted by d and false when the result would overflow.
func (t Time) CheckedAdd(d time.Duration) (Time, bool) {
	if d > 0 && t > Max-Time(d) {
		return t, false
	}
	if d < 0 && t < math.MinInt64-Time(d) {
		return t, false
	}
	return t + Time(d), true
}

// Sub returns the duration t-u.
func (t Time) Sub(u Time) time.Duration { return time.Duration(t - u) }

// Before reports whether t is strictly before u.
func (t Time) Before(u Time) bool { return t < u }

// After reports whether t is strictly after u.
func (t Time) After(u Time) bool { return t > u }

// Duration returns the offset of t from the epoch.
func (t Time) Duration() time.Duration { return time.Duration(t) }

// Milliseconds returns the offset of t from the epoch in whole milliseconds.
func (t Time) Milliseconds() int64 { return time.Duration(t).Milliseconds() }

// FromMilliseconds builds a Time from an epoch offset in milliseconds.
func FromMilliseconds(ms int64) Time { return Time(time.Duration(ms) * time.Millisecond) }

// String renders t as an epoch offset, e.g. "T+1h0m5s".
func (t Time) String() string {
	return "T+" + time.Duration(t).String()
}

// MarshalText encodes t as its epoch offset in nanoseconds.
func (t Time) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(t), 10)), nil
}

// UnmarshalText decodes a nanosecond epoch offset.
func (t *Time) UnmarshalText(b []byte) error {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("parse logical time %q: %w", string(b), err)
	}
	*t = Time(v)
	return nil
}

// Clock is a monotonic logical clock.
//
// Reads are safe from any goroutine; advancing is expected to happen from the
// single goroutine that drives evaluation.
type Clock struct {
	now atomic.Int64
}

// New creates a clock at the epoch.
func New() *Clock {
	return &Clock{}
}

// NewAt creates a clock starting at t. Used when replaying a journal.
func NewAt(t Time) *Clock {
	c := &Clock{}
	c.now.Store(int64(t))
	return c
}

// Now returns the current logical time.
func (c *Clock) Now() Time {
	return Time(c.now.Load())
}

// Advance moves the clock forward by exactly d and returns the new time.
func (c *Clock) Advance(d time.Duration) (Time, error) {
	if d < 0 {
		return c.Now(), fmt.Errorf("advance %s: %w", d, ErrNegativeAdvance)
	}
	for {
		cur := Time(c.now.Load())
		next, ok := cur.CheckedAdd(d)
		if !ok {
			return cur, fmt.Errorf("advance %s from %s: %w", d, cur, ErrOverflow)
		}
		if c.now.CompareAndSwap(int64(cur), int64(next)) {
			return next, nil
		}
	}
}

// AdvanceTo moves the clock forward to t. It never moves backwards and
// reports whether the clock moved.
func (c *Clock) AdvanceTo(t Time) bool {
	for {
		cur := c.now.Load()
		if int64(t) <= cur {
			return false
		}
		if c.now.CompareAndSwap(cur, int64(t)) {
			return true
		}
	}
}
