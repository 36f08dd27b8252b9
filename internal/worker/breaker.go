package worker

import "sync/atomic"

// skipTripper implements the specification's timeout-skip threshold
// (§4.E) as a plain atomic counter and flag, kept independent from the
// eviction threshold tracked by consecutiveTimeouts: tripping is soft and
// reversible (a later successful call, or a successful reconnect, force-
// closes it again), unlike process_failure eviction which is terminal for
// the handle.
//
// A time-based circuit breaker (e.g. sony/gobreaker) is the wrong tool
// here: its half-open cooldown only releases a trial request after a
// fixed Timeout elapses, so an application-driven reset from a real
// success or a reconnect can never force it closed early — which is
// exactly the soft/reversible behavior §4.E and §9 require. Matching the
// atomic-counter idiom this package already uses for consecutiveFailures
// and consecutiveTimeouts keeps resets entirely under the caller's
// control.
type skipTripper struct {
	threshold int32
	count     atomic.Int32
	tripped   atomic.Bool
}

func newSkipTripper(threshold int) *skipTripper {
	return &skipTripper{threshold: int32(threshold)}
}

// TickTimeout records a consecutive-timeout observation, tripping skip
// state once threshold is reached.
func (s *skipTripper) TickTimeout() {
	if s.threshold <= 0 {
		return
	}
	if s.count.Add(1) >= s.threshold {
		s.tripped.Store(true)
	}
}

// TickSuccess records a real successful call or reconnect, force-closing
// skip state unconditionally.
func (s *skipTripper) TickSuccess() {
	s.count.Store(0)
	s.tripped.Store(false)
}

// ShouldSkip reports whether the handle is currently in skip state.
func (s *skipTripper) ShouldSkip() bool {
	return s.tripped.Load()
}
