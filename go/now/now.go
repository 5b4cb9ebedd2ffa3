// Package now provides an injectable wall-clock seam so that schedule
// evaluation, chunking, and the job controller's tick loop can be tested
// without sleeping or depending on the real time of day.
package now

import "time"

// Func returns the current time. Production code uses Real; tests
// substitute a fixed or advancing function.
type Func func() time.Time

// Real is the Func backed by the system clock.
func Real() time.Time {
	return time.Now()
}

// TimeTicker is the subset of time.Ticker's surface the controller needs.
type TimeTicker interface {
	C() <-chan time.Time
	Stop()
}

// NewTimeTickerFunc constructs a TimeTicker for a given period. Production
// code uses NewTimeTicker; tests substitute one that ticks under test
// control (see go/now/mocks).
type NewTimeTickerFunc func(d time.Duration) TimeTicker

// NewTimeTicker is the NewTimeTickerFunc backed by time.NewTicker.
func NewTimeTicker(d time.Duration) TimeTicker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time {
	return r.t.C
}

func (r *realTicker) Stop() {
	r.t.Stop()
}
