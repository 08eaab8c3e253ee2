// Package disposer implements the Disposer Registry (§4.E): every opaque
// buffer a plugin hands back to the engine is tracked against its owning
// context until explicitly disposed, guaranteeing no leak even if the
// engine forgets to free a returned item before closing the context.
package disposer

import (
	"sync"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/logger"
)

// DisposeFunc is the plugin-supplied free function for one buffer. It
// receives the owning context and either the original value or, when the
// handle was registered with IsSelf, the Handle itself — for wrapper
// objects that must destroy themselves rather than just their byte buffer
// (see SPEC_FULL.md §12, TDB_Api_Str/TDB_Api_Blk).
type DisposeFunc func(owner dbapi.ContextID, value interface{})

// Handle is a registered, not-yet-disposed buffer. Close runs the disposer
// exactly once and is safe to call multiple times or from a deferred
// statement, mirroring the RAII wrapping the original TDB_Api_Str/Blk types
// provided around the raw disposer callback (SPEC_FULL.md §12).
type Handle struct {
	owner    dbapi.ContextID
	value    interface{}
	dispose  DisposeFunc
	isSelf   bool
	registry *Registry
	id       uint64
}

// Close disposes the handle if it has not already been disposed. Per §4.E,
// disposing a null/empty value is a no-op and simply removes the entry.
func (h *Handle) Close() {
	if h == nil || h.registry == nil {
		return
	}
	h.registry.dispose(h)
}

// Registry is the per-context table of outstanding handles (§4.E). A
// Registry is single-owner (one context, one goroutine drives it at a
// time per §5's ordering guarantees) but still guards its map with a mutex
// because disposal can be triggered re-entrantly from within a plugin
// callback on the same goroutine, and because Sweep (used at context
// teardown) iterates while Close may run concurrently from a deferred
// statement elsewhere.
type Registry struct {
	mu      sync.Mutex
	handles map[uint64]*Handle
	nextID  uint64
	owner   dbapi.ContextID
}

// NewRegistry creates an empty registry for the given owning context.
func NewRegistry(owner dbapi.ContextID) *Registry {
	return &Registry{handles: make(map[uint64]*Handle), owner: owner}
}

// Register records a buffer returned by the plugin. A nil/empty value is
// still assigned a Handle (so callers have a uniform Close to call) but is
// never actually stored, since disposing an empty value is specified as a
// no-op that just clears the entry.
func (r *Registry) Register(value interface{}, dispose DisposeFunc, isSelf bool) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	h := &Handle{
		owner:    r.owner,
		value:    value,
		dispose:  dispose,
		isSelf:   isSelf,
		registry: r,
		id:       r.nextID,
	}
	if !isEmpty(value) {
		r.handles[h.id] = h
	}
	return h
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []byte:
		return len(t) == 0
	default:
		return false
	}
}

// dispose removes h from the registry BEFORE invoking the disposer
// function, per §4.E ("Remove-from-registry happens BEFORE the disposer
// runs, to make the operation idempotent under re-entry"), then calls the
// disposer at most once.
func (r *Registry) dispose(h *Handle) {
	r.mu.Lock()
	stored, present := r.handles[h.id]
	if present {
		delete(r.handles, h.id)
	}
	r.mu.Unlock()

	if !present || stored == nil {
		// Already disposed, or was never stored (an empty value): no-op.
		return
	}

	if h.dispose == nil {
		return
	}

	target := h.value
	if h.isSelf {
		target = h
	}

	// §7 "Allocator failures inside disposers MUST NOT throw; they leak
	// the buffer and log." — recover any panic from a misbehaving
	// disposer so it cannot bring down the engine.
	defer func() {
		if rec := recover(); rec != nil {
			logger.Disposer().Error().
				Str("context", r.owner.String()).
				Interface("panic", rec).
				Msg("disposer panicked; buffer leaked")
		}
	}()
	h.dispose(r.owner, target)
}

// Outstanding returns the number of handles not yet disposed. §4.F requires
// the registry be empty before DeleteContext for the datastore scope.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Sweep disposes every outstanding handle, in unspecified order, and is
// called by the context lifecycle (§4.D "Shutdown sequence") immediately
// before DeleteContext.
func (r *Registry) Sweep() {
	r.mu.Lock()
	pending := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		pending = append(pending, h)
	}
	r.mu.Unlock()

	for _, h := range pending {
		r.dispose(h)
	}
}
