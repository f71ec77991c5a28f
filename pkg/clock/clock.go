// Package clock provides the wall-clock capability used for observation
// dating and relative-time rendering. Injecting a Clock keeps every
// date-dependent code path deterministic under test.
package clock

import "time"

// Clock supplies the current instant and the current calendar date.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time
	// Today returns the current date truncated to midnight UTC.
	Today() time.Time
}

// System returns a Clock backed by the OS clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func (systemClock) Today() time.Time {
	return Midnight(time.Now().UTC())
}

// Fixed returns a Clock pinned to t. Used in tests and replay.
func Fixed(t time.Time) Clock {
	return fixedClock{t: t.UTC()}
}

type fixedClock struct {
	t time.Time
}

func (f fixedClock) Now() time.Time {
	return f.t
}

func (f fixedClock) Today() time.Time {
	return Midnight(f.t)
}

// Midnight truncates t to midnight UTC.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
