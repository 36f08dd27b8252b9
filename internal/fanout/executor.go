package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crunchdao/model-runner-orchestrator/internal/clog"
	"github.com/crunchdao/model-runner-orchestrator/internal/cluster"
	"github.com/crunchdao/model-runner-orchestrator/internal/control"
	"github.com/crunchdao/model-runner-orchestrator/internal/worker"
	"github.com/crunchdao/model-runner-orchestrator/internal/workerrpc"
)

const (
	probeTimeout      = 10 * time.Second
	reconnectTimeout  = 2 * time.Minute
)

// Manager is the subset of *cluster.Manager the executor needs to evict
// and reconnect handles; narrowed to an interface so executor tests can
// supply a fake.
type Manager interface {
	ProcessFailure(h *worker.Handle, code control.FailureCode, reason string)
	ReconnectWorker(ctx context.Context, h *worker.Handle) error
}

var _ Manager = (*cluster.Manager)(nil)

// Executor runs fan-out calls over a live ClusterState.
type Executor struct {
	state      *cluster.State
	manager    Manager
	thresholds Thresholds
	log        *clog.CLogger
}

// NewExecutor builds a fan-out executor over state, driving eviction and
// reconnection decisions through manager.
func NewExecutor(state *cluster.State, manager Manager, thresholds Thresholds) *Executor {
	return &Executor{
		state:      state,
		manager:    manager,
		thresholds: thresholds,
		log:        clog.New("fanout.executor"),
	}
}

// Call dispatches methodName to every handle in the current live-set
// snapshot, per the specification §4.E pre-call filter and dispatch
// algorithm. Every handle that was live at dispatch time — including
// skipped ones — appears in the returned mapping, so callers can always
// answer "what happened to worker X" for this fan-out.
func (e *Executor) Call(ctx context.Context, methodName string, args []workerrpc.Argument, kwargs []workerrpc.KwArgument, perCallTimeout time.Duration) map[*worker.Handle]InvocationResult {
	snapshot := e.state.Snapshot()

	results := make(map[*worker.Handle]InvocationResult, len(snapshot))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, h := range snapshot {
		h := h

		if h.ShouldSkip() {
			e.triggerProbe(h)
			mu.Lock()
			results[h] = InvocationResult{Status: StatusTimeout}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.invoke(ctx, h, methodName, args, kwargs, perCallTimeout)
			mu.Lock()
			results[h] = res
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

// invoke runs one handle's call with its own timeout, classifies the
// outcome, applies the counter update, and checks the post-call eviction
// thresholds — all strictly local to this handle so siblings are
// unaffected (specification §8 non-poisoning property).
func (e *Executor) invoke(ctx context.Context, h *worker.Handle, methodName string, args []workerrpc.Argument, kwargs []workerrpc.KwArgument, timeout time.Duration) InvocationResult {
	rpc := h.RPC()
	if rpc == nil {
		h.RegisterTimeout()
		e.checkTimeoutThreshold(h)
		return InvocationResult{Status: StatusTimeout}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := rpc.Call(callCtx, workerrpc.CallRequest{MethodName: methodName, Args: args, Kwargs: kwargs})
	elapsed := time.Since(start)

	if err != nil {
		switch classifyTransportErr(err) {
		case transportTimeout:
			h.RegisterTimeout()
			e.checkTimeoutThreshold(h)
			return InvocationResult{Status: StatusTimeout, Err: err, ExecTime: elapsed}
		case transportUnavailable:
			h.RegisterFailure()
			e.triggerProbe(h)
			e.checkFailureThreshold(h)
			return InvocationResult{Status: StatusFailed, Err: err, ExecTime: elapsed}
		default:
			h.RegisterFailure()
			e.checkFailureThreshold(h)
			return InvocationResult{Status: StatusFailed, Err: err, ExecTime: elapsed}
		}
	}

	switch resp.Status {
	case workerrpc.StatusOK:
		h.ResetCounters()
		return InvocationResult{Status: StatusSuccess, Result: resp.Result, ExecTime: elapsed}

	case workerrpc.StatusBadImplementation:
		reason := resp.Reason
		e.manager.ProcessFailure(h, control.FailureBadImplementation, reason)
		return InvocationResult{Status: StatusFailed, Err: fmt.Errorf("bad implementation: %s", reason), ExecTime: elapsed}

	default:
		h.RegisterFailure()
		e.checkFailureThreshold(h)
		return InvocationResult{Status: StatusFailed, Err: fmt.Errorf("worker status %s: %s", resp.Status, resp.Reason), ExecTime: elapsed}
	}
}

// checkFailureThreshold implements the inclusive eviction rule: the call
// that pushes consecutive_failures past the threshold is the one whose
// completion triggers process_failure, exactly once.
func (e *Executor) checkFailureThreshold(h *worker.Handle) {
	if h.ConsecutiveFailures() > e.thresholds.MaxConsecutiveFailures {
		e.manager.ProcessFailure(h, control.FailureMultipleFailed, "exceeded consecutive failure threshold")
	}
}

func (e *Executor) checkTimeoutThreshold(h *worker.Handle) {
	if h.ConsecutiveTimeouts() > e.thresholds.MaxConsecutiveTimeouts {
		e.manager.ProcessFailure(h, control.FailureMultipleTimeout, "exceeded consecutive timeout threshold")
	}
}

// triggerProbe launches at most one concurrent health probe per handle; an
// unavailable result asks the membership manager to reconnect. The probe's
// success does not reset counters — only a real successful call does.
func (e *Executor) triggerProbe(h *worker.Handle) {
	if !h.TryBeginProbe() {
		return
	}
	go func() {
		defer h.EndProbe()

		pctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		_, unavailable := h.Probe(pctx)
		cancel()

		if !unavailable {
			return
		}

		rctx, rcancel := context.WithTimeout(context.Background(), reconnectTimeout)
		defer rcancel()
		if err := e.manager.ReconnectWorker(rctx, h); err != nil {
			e.log.Errorf("reconnect after unavailable probe failed for %s: %v", h.WorkerID, err)
		}
	}()
}
