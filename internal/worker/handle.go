// Package worker implements specification components B and C: the
// per-worker handle (address, metadata, RPC channel, failure/timeout
// counters, lifecycle latch) and the connect-with-retry / health-probe /
// close lifecycle controller that runs inside it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/crunchdao/model-runner-orchestrator/internal/clog"
	"github.com/crunchdao/model-runner-orchestrator/internal/workerrpc"
)

// Config carries the per-handle connect policy of specification §3,
// shared by every handle in a cluster.
type Config struct {
	RetryAttempts         int
	RetryBackoffBase      time.Duration
	MinRetryInterval      time.Duration
	SkipThreshold         int // max_consecutive_timeouts_for_skip
	TransportCredentials  credentials.TransportCredentials
	ExtraDialOptions      []grpc.DialOption
}

// DefaultConfig returns the specification's §3 defaults.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:    5,
		RetryBackoffBase: 2 * time.Second,
		MinRetryInterval: 2 * time.Second,
		SkipThreshold:    3,
	}
}

// Handle is a single worker's orchestrator-side state: identity, address,
// metadata, RPC channel, and lifecycle counters. All its methods are safe
// for concurrent use. At most one Init can be in flight at a time — a
// concurrent Close observed mid-retry causes the next retry iteration to
// return ErrAborted (the closed latch and the connect loop share the
// initMu critical section just enough to make this race-free).
type Handle struct {
	WorkerID string
	Host     string
	Port     int

	variant Variant
	spec    DynamicSubclassSpec
	cfg     Config

	infosMu sync.RWMutex
	infos   map[string]string

	initMu sync.Mutex
	conn   *grpc.ClientConn
	rpc    *workerrpc.Client

	closed atomic.Bool

	consecutiveFailures atomic.Int32
	consecutiveTimeouts atomic.Int32

	breaker *skipTripper
	probing atomic.Bool

	log *clog.CLogger
}

// New creates a not-yet-connected handle. Call Init to connect and run
// variant setup before the handle is usable for Call/Health.
func New(workerID, host string, port int, infos map[string]string, variant Variant, spec DynamicSubclassSpec, cfg Config) *Handle {
	if infos == nil {
		infos = map[string]string{}
	}
	return &Handle{
		WorkerID: workerID,
		Host:     host,
		Port:     port,
		variant:  variant,
		spec:     spec,
		cfg:      cfg,
		infos:    infos,
		breaker:  newSkipTripper(cfg.SkipThreshold),
		log:      clog.New("worker.handle", "worker_id", workerID),
	}
}

// Infos returns a snapshot of the handle's descriptive metadata.
func (h *Handle) Infos() map[string]string {
	h.infosMu.RLock()
	defer h.infosMu.RUnlock()
	out := make(map[string]string, len(h.infos))
	for k, v := range h.infos {
		out[k] = v
	}
	return out
}

// SetInfos overwrites the handle's metadata in place, keeping its channel,
// counters, and identity untouched — the behavior update events require.
func (h *Handle) SetInfos(infos map[string]string) {
	h.infosMu.Lock()
	h.infos = infos
	h.infosMu.Unlock()
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool { return h.closed.Load() }

// Init connects to the worker and runs its variant-specific setup,
// retrying with bounded exponential backoff per specification §4.B/C:
//
//	for attempt in 1..retry_attempts:
//	    if closed: return ABORTED
//	    open channel; setup(channel)
//	    if ok: return success
//	    if BAD_IMPLEMENTATION: return terminal, no retry
//	    if transport/timeout error: sleep(backoff); continue
//	return CONNECTION_FAILED
func (h *Handle) Init(ctx context.Context) error {
	h.initMu.Lock()
	defer h.initMu.Unlock()

	if h.closed.Load() {
		return &InitError{Kind: ErrKindAborted, Err: ErrAborted}
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(newFloorBackoff(h.cfg.RetryBackoffBase, h.cfg.MinRetryInterval), uint64(maxInt(h.cfg.RetryAttempts-1, 0))),
		ctx,
	)

	var terminal *InitError

	op := func() error {
		if h.closed.Load() {
			terminal = &InitError{Kind: ErrKindAborted, Err: ErrAborted}
			return backoff.Permanent(terminal.Err)
		}

		conn, rpc, err := h.dial()
		if err != nil {
			h.log.Printf("dial attempt failed: %v", err)
			return err // retryable transport failure
		}

		setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		resp, err := runSetup(setupCtx, rpc, h.variant, h.spec)
		cancel()

		if errors.Is(err, ErrInvalidUsage) {
			conn.Close()
			terminal = &InitError{Kind: ErrKindFailed, Err: err}
			return backoff.Permanent(err)
		}
		if err != nil {
			conn.Close()
			h.log.Printf("setup attempt failed: %v", err)
			return err // retryable
		}
		if resp.Status == workerrpc.StatusBadImplementation {
			conn.Close()
			terminal = &InitError{Kind: ErrKindBadImplementation, Err: fmt.Errorf("setup rejected: %s", resp.Reason)}
			return backoff.Permanent(terminal.Err)
		}
		if resp.Status != workerrpc.StatusOK {
			conn.Close()
			return fmt.Errorf("setup status %s: %s", resp.Status, resp.Reason) // retryable
		}

		h.conn = conn
		h.rpc = rpc
		return nil
	}

	err := backoff.Retry(op, bo)
	if err == nil {
		h.log.Printf("worker ready")
		return nil
	}
	if terminal != nil {
		return terminal
	}
	return &InitError{Kind: ErrKindConnectionFailed, Err: err}
}

func (h *Handle) dial() (*grpc.ClientConn, *workerrpc.Client, error) {
	creds := h.cfg.TransportCredentials
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, h.cfg.ExtraDialOptions...)

	conn, err := grpc.NewClient(fmt.Sprintf("%s:%d", h.Host, h.Port), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s:%d: %w", h.Host, h.Port, err)
	}
	return conn, workerrpc.NewClient(conn), nil
}

// Close sets the closed latch and releases the RPC channel if present. It
// is idempotent and safe to call concurrently with an in-flight Init: the
// next retry iteration will observe the latch and return ErrAborted.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.initMu.Lock()
	conn := h.conn
	h.conn = nil
	h.rpc = nil
	h.initMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// RPC returns the worker's RPC client, or nil if the handle is not
// currently connected.
func (h *Handle) RPC() *workerrpc.Client {
	h.initMu.Lock()
	defer h.initMu.Unlock()
	return h.rpc
}

// --- counters -----------------------------------------------------------

func (h *Handle) ConsecutiveFailures() int { return int(h.consecutiveFailures.Load()) }
func (h *Handle) ConsecutiveTimeouts() int { return int(h.consecutiveTimeouts.Load()) }

func (h *Handle) RegisterFailure() { h.consecutiveFailures.Add(1) }

func (h *Handle) RegisterTimeout() {
	h.consecutiveTimeouts.Add(1)
	h.breaker.TickTimeout()
}

// ResetCounters clears both counters and closes the skip breaker; called
// on every successful fan-out invocation against this handle.
func (h *Handle) ResetCounters() {
	h.consecutiveFailures.Store(0)
	h.consecutiveTimeouts.Store(0)
	h.breaker.TickSuccess()
}

// ShouldSkip reports whether the fan-out executor's pre-call filter should
// suppress dispatch to this handle (the skip threshold has tripped and no
// successful call or reconnect has cleared it since).
func (h *Handle) ShouldSkip() bool { return h.breaker.ShouldSkip() }

// Probe runs the standard gRPC health check against the worker, returning
// (reachable, unavailable). unavailable is true only when the worker
// explicitly reports itself as NOT_SERVING, the probe fails with a
// transport-unavailable error, or the handle has no open channel: the
// signal the executor uses to trigger reconnection.
func (h *Handle) Probe(ctx context.Context) (reachable bool, unavailable bool) {
	rpc := h.RPC()
	if rpc == nil {
		return false, true
	}
	status, err := rpc.Health(ctx)
	if err != nil {
		return false, grpcstatus.Code(err) == codes.Unavailable
	}
	if status == healthpb.HealthCheckResponse_NOT_SERVING {
		return true, true
	}
	return true, false
}

// TryBeginProbe marks a health probe as in flight for this handle,
// returning false if one is already running. The fan-out executor uses
// this to guarantee at most one outstanding probe per handle.
func (h *Handle) TryBeginProbe() bool { return h.probing.CompareAndSwap(false, true) }

// EndProbe releases the in-flight probe marker.
func (h *Handle) EndProbe() { h.probing.Store(false) }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
