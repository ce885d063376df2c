// Package request coordinates cancellable backend calls. Each logical
// query channel ("slot") carries at most one in-flight operation: starting
// a new operation on a slot cancels and supersedes the previous one, and a
// superseded or cancelled operation degrades to a neutral result instead
// of surfacing an error.
package request

import (
	"context"
	"sync"

	"github.com/velichkin/wavefm/client"
)

type slotState struct {
	cancel context.CancelFunc
	gen    uint64
}

// Runner tracks in-flight operations per slot and remembers the last real
// (non-cancellation) error for diagnostics.
type Runner struct {
	mu      sync.Mutex
	slots   map[string]*slotState
	lastErr error
	logger  client.Logger
}

// NewRunner creates a Runner. logger may be nil.
func NewRunner(logger client.Logger) *Runner {
	return &Runner{
		slots:  make(map[string]*slotState),
		logger: logger,
	}
}

// begin cancels the current occupant of slot, registers a fresh context
// derived from parent, and returns it with its generation number.
func (r *Runner) begin(parent context.Context, slot string) (context.Context, uint64) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	defer r.mu.Unlock()

	state := &slotState{cancel: cancel}
	if prev, ok := r.slots[slot]; ok {
		prev.cancel()
		state.gen = prev.gen + 1
	}
	r.slots[slot] = state
	return ctx, state.gen
}

// finish clears the slot handle if this run still owns it.
func (r *Runner) finish(slot string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.slots[slot]
	if !ok || state.gen != gen {
		return
	}
	state.cancel()
	delete(r.slots, slot)
}

// current reports whether the given generation still owns the slot.
func (r *Runner) current(slot string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.slots[slot]
	return ok && state.gen == gen
}

// Cancel aborts the in-flight operation on slot, if any. Safe to call when
// nothing is pending, and safe to call repeatedly.
func (r *Runner) Cancel(slot string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.slots[slot]; ok {
		state.cancel()
		delete(r.slots, slot)
	}
}

// CancelAll aborts every in-flight operation.
func (r *Runner) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for slot, state := range r.slots {
		state.cancel()
		delete(r.slots, slot)
	}
}

// LastError returns the most recent non-cancellation error seen by Do.
func (r *Runner) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Runner) recordError(slot string, err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Error("request failed", "slot", slot, "error", err)
	}
}

// Do runs op under slot ownership. The previous occupant of the slot is
// cancelled first. The returned bool reports whether the result may be
// applied to shared state: it is false when the run was cancelled,
// superseded, or failed, in which case neutral is returned in place of a
// result. Real errors are recorded on the Runner, never returned.
func Do[T any](r *Runner, ctx context.Context, slot string, neutral T, op func(context.Context) (T, error)) (T, bool) {
	runCtx, gen := r.begin(ctx, slot)
	defer r.finish(slot, gen)

	result, err := op(runCtx)
	if err != nil {
		if !client.IsCancelled(err) {
			r.recordError(slot, err)
		}
		return neutral, false
	}
	if runCtx.Err() != nil || !r.current(slot, gen) {
		// Superseded while in flight; the effect must be discarded.
		return neutral, false
	}
	return result, true
}
