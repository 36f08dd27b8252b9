// Package fanout implements specification component E: the concurrent
// fan-out executor. call(method_name, args, per_call_timeout) dispatches a
// named RPC to every currently-live, non-skipped worker in parallel,
// classifies each outcome, and drives the eviction/reconnect policy through
// the cluster membership manager.
package fanout

import (
	"time"

	"github.com/crunchdao/model-runner-orchestrator/internal/workerrpc"
)

// Status is the classified outcome of one handle's invocation.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// InvocationResult is one handle's outcome from a single fan-out call.
type InvocationResult struct {
	Status   Status
	Result   workerrpc.Variant
	Err      error
	ExecTime time.Duration
}

// Thresholds carries the eviction configuration the executor enforces,
// independent of the worker package's Config. The skip threshold is not
// here; it is worker.Config.SkipThreshold.
type Thresholds struct {
	MaxConsecutiveFailures int
	MaxConsecutiveTimeouts int
}

// DefaultThresholds returns the specification's §4.E defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxConsecutiveFailures: 3, MaxConsecutiveTimeouts: 3}
}
