package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/crunchdao/model-runner-orchestrator/internal/clog"
	"github.com/crunchdao/model-runner-orchestrator/internal/control"
	"github.com/crunchdao/model-runner-orchestrator/internal/worker"
)

// initTimeout bounds how long a single worker's connect-and-setup is
// allowed to run when applying a membership record; the handle's own
// retry policy runs inside this budget.
const initTimeout = 2 * time.Minute

// VariantFactory resolves the handle variant and any extra setup spec a
// membership record requires. A nil factory yields VariantBasic handles
// for every record.
type VariantFactory func(rec control.Record) (worker.Variant, worker.DynamicSubclassSpec)

// Sender is the subset of the control client the manager needs to emit
// report_failure events; satisfied by *control.Client.
type Sender interface {
	Send(ev control.OutboundEvent) error
}

// Manager applies init/update membership events onto a State, and runs the
// process_failure / reconnect_model_runner operations the fan-out executor
// triggers on terminal and transient outcomes (specification §4.D).
type Manager struct {
	state   *State
	cfg     worker.Config
	variant VariantFactory

	control        Sender
	reportsEnabled bool
	reportCache    *expirable.LRU[string, struct{}]

	log *clog.CLogger
}

// NewManager builds a membership manager over state. control may be nil,
// in which case report_failure emission is a no-op regardless of
// reportsEnabled (useful for tests that only exercise State transitions).
func NewManager(state *State, control Sender, cfg worker.Config, reportsEnabled bool, variant VariantFactory) *Manager {
	return &Manager{
		state:          state,
		cfg:            cfg,
		variant:        variant,
		control:        control,
		reportsEnabled: reportsEnabled,
		reportCache:    newReportCache(),
		log:            clog.New("cluster.manager"),
	}
}

// HandleEvent applies a decoded init or update event. init additionally
// evicts any live handle absent from the snapshot, since init is always
// the authoritative full membership set.
func (m *Manager) HandleEvent(event string, records []control.Record) {
	switch event {
	case control.EventInit:
		m.applyRecords(records)
		m.evictAbsent(records)
	case control.EventUpdate:
		m.applyRecords(records)
	default:
		m.log.Warnf("ignoring unknown membership event %q", event)
	}
}

func (m *Manager) applyRecords(records []control.Record) {
	var wg sync.WaitGroup
	wg.Add(len(records))
	for _, rec := range records {
		rec := rec
		go func() {
			defer wg.Done()
			m.applyRecord(rec)
		}()
	}
	wg.Wait()
}

// applyRecord implements the per-record decision table of specification
// §4.D: absent+RUNNING connects a new handle, absent+STOPPED is a no-op,
// present+RUNNING overwrites metadata only, present+STOPPED closes and
// removes the handle, and any other combination is logged and ignored.
func (m *Manager) applyRecord(rec control.Record) {
	existing, present := m.state.Get(rec.ModelID)

	switch {
	case !present && rec.State == control.StateRunning:
		m.addWorker(rec)
	case !present && rec.State == control.StateStopped:
		// Already gone; nothing to do.
	case present && rec.State == control.StateRunning:
		existing.SetInfos(rec.Infos)
	case present && rec.State == control.StateStopped:
		m.removeWorker(rec.ModelID, existing)
	default:
		m.log.Warnf("unhandled membership record state %q for %s", rec.State, rec.ModelID)
	}
}

func (m *Manager) addWorker(rec control.Record) {
	variant, spec := worker.VariantBasic, worker.DynamicSubclassSpec{}
	if m.variant != nil {
		variant, spec = m.variant(rec)
	}

	h := worker.New(rec.ModelID, rec.IP, rec.Port, rec.Infos, variant, spec, m.cfg)

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	err := h.Init(ctx)
	if err == nil {
		m.state.Put(h)
		return
	}

	var ie *worker.InitError
	if !errors.As(err, &ie) {
		m.log.Errorf("worker %s: unclassified init failure: %v", rec.ModelID, err)
		return
	}

	switch ie.Kind {
	case worker.ErrKindBadImplementation:
		m.reportFailure(rec.ModelID, rec.IP, control.FailureBadImplementation, ie.Error())
	case worker.ErrKindConnectionFailed:
		m.reportFailure(rec.ModelID, rec.IP, control.FailureConnectionFailed, ie.Error())
	case worker.ErrKindAborted:
		// Manager was torn down mid-connect; nothing to report.
	default:
		m.log.Errorf("worker %s: init failed: %v", rec.ModelID, err)
	}
}

func (m *Manager) removeWorker(id string, h *worker.Handle) {
	m.state.Delete(id)
	if err := h.Close(); err != nil {
		m.log.Errorf("closing worker %s: %v", id, err)
	}
}

func (m *Manager) evictAbsent(snapshot []control.Record) {
	present := make(map[string]struct{}, len(snapshot))
	for _, r := range snapshot {
		present[r.ModelID] = struct{}{}
	}
	for _, h := range m.state.Snapshot() {
		if _, ok := present[h.WorkerID]; !ok {
			m.removeWorker(h.WorkerID, h)
		}
	}
}

// ProcessFailure implements process_failure: emit a report_failure event
// then evict the handle. Called by the fan-out executor whenever a call
// outcome crosses a terminal threshold (BAD_IMPLEMENTATION, or the
// consecutive failure/timeout limits).
func (m *Manager) ProcessFailure(h *worker.Handle, code control.FailureCode, reason string) {
	m.reportFailure(h.WorkerID, h.Host, code, reason)
	m.removeWorker(h.WorkerID, h)
}

func (m *Manager) reportFailure(id, ip string, code control.FailureCode, reason string) {
	if !m.reportsEnabled || m.control == nil {
		return
	}

	key := id + "|" + string(code)
	if _, ok := m.reportCache.Get(key); ok {
		return
	}
	m.reportCache.Add(key, struct{}{})

	rep := control.FailureReport{
		ReportID:      uuid.NewString(),
		ModelID:       id,
		FailureCode:   code,
		FailureReason: reason,
		IP:            ip,
	}
	ev := control.OutboundEvent{Event: control.EventReportFailure, Data: []control.FailureReport{rep}}
	if err := m.control.Send(ev); err != nil {
		m.log.Errorf("sending report_failure for %s: %v", id, err)
	}
}

// ReconnectWorker implements reconnect_model_runner: close the existing
// channel and re-run Init on the same handle, resetting its counters only
// if the reconnect succeeds. The handle keeps its place in State throughout
// — callers observe a transient gap in Probe-ability, not an eviction.
func (m *Manager) ReconnectWorker(ctx context.Context, h *worker.Handle) error {
	if err := h.Reconnect(ctx); err != nil {
		m.log.Errorf("reconnecting worker %s: %v", h.WorkerID, err)
		return err
	}
	return nil
}
