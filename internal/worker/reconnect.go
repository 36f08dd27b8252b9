package worker

import "context"

// Reconnect implements the transient half of the lifecycle controller used
// by reconnect_model_runner (§4.D): it closes the current RPC channel
// without tripping the terminal closed latch, then re-runs Init. Counters
// are reset only when the reconnect attempt itself succeeds, per §4.D.
//
// This is distinct from Close, which is the terminal, one-way latch used
// by eviction: a handle that has been Close'd never reconnects, while a
// handle that has been Reconnect'd keeps its identity and may reconnect
// any number of times.
func (h *Handle) Reconnect(ctx context.Context) error {
	h.initMu.Lock()
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
		h.rpc = nil
	}
	h.initMu.Unlock()

	if err := h.Init(ctx); err != nil {
		return err
	}
	h.ResetCounters()
	return nil
}
