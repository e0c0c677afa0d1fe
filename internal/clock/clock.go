package clock

import "time"

// Clock abstracts wall-clock time so deadline logic is testable
type Clock interface {
	Now() time.Time
}

// Real reads the system clock in UTC
type Real struct{}

// Now returns the current UTC time
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a settable clock for tests
type Fixed struct {
	Time time.Time
}

// Now returns the fixed time
func (f *Fixed) Now() time.Time {
	return f.Time
}

// Advance moves the fixed clock forward
func (f *Fixed) Advance(d time.Duration) {
	f.Time = f.Time.Add(d)
}
