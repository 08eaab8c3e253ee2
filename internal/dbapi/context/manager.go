// Package context implements the Context Lifecycle (§4.D): creating and
// tearing down the three nested context levels (Module → Session →
// Datastore), chaining parent context identifiers, and the shared Global
// Context Chain.
package context

import (
	gocontext "context"
	"sync"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi/disposer"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
	"github.com/streamspace-dev/syncml-dbapi/internal/logger"
)

// adminNameSuffix is appended to a datastore's name when ADMIN_Info is
// offered and the caller requested admin mode (§4.D step 6). The original
// ABI leaves the exact suffix to the engine; this implementation fixes one.
const adminNameSuffix = "#admin"

// Callback is the struct the engine threads through every plugin call so
// the plugin can recover its own nesting without thread-local storage
// (§4.D, §6 "Callback struct"). Reserved is kept for ABI layout parity with
// the original DB_Callback's unused reserved slots (SPEC_FULL.md §12); this
// implementation never reads or writes it.
type Callback struct {
	Module    dbapi.ContextID
	Session   dbapi.ContextID
	Datastore dbapi.ContextID
	Reserved  [1]uintptr
}

// Manager owns the live module contexts and the process-wide Global
// Context Chain. One Manager exists per engine process.
type Manager struct {
	EngineVersion int
	Chain         *GlobalChain

	mu      sync.RWMutex
	modules map[string]*ModuleHandle
}

// NewManager creates a Manager whose negotiated engine SDK version is
// engineVersion (compared against a plugin's MinVersion by the capability
// package before CreateModule is ever called).
func NewManager(engineVersion int) *Manager {
	return &Manager{
		EngineVersion: engineVersion,
		Chain:         NewGlobalChain(),
		modules:       make(map[string]*ModuleHandle),
	}
}

// ModuleHandle is a live module context (§3 Module Descriptor).
type ModuleHandle struct {
	ID        dbapi.ContextID
	Name      string
	SubName   string
	Table     *dbapi.Table
	AdminInfo bool
	Disposers *disposer.Registry

	mgr        *Manager
	globalName string

	mu       sync.Mutex
	sessions map[*SessionHandle]struct{}
	closed   bool
}

// CreateModule performs step 1 of §4.D's "Create sequence for a datastore
// context" (the version/capability probing and negotiation of steps 2-4 are
// left to the caller): it calls Module_CreateContext (tolerating Already as success,
// §4.D "On Already the module is treated as pre-existing (shared)"),
// registers the module's disposer registry, and — if globContextName is
// non-empty (the capability string carried a GlobContext key, §4.D) —
// adopts a node on the shared Global Context Chain. table must already
// carry the method set resolved by the capability negotiator
// (capability.Negotiate), and adminInfo must be the negotiated ADMIN_Info
// flag (§4.C rule 5).
func (m *Manager) CreateModule(ctx gocontext.Context, table *dbapi.Table, name, subName, globContextName string, adminInfo bool) (*ModuleHandle, error) {
	id, err := table.Module.CreateContext(ctx, name, subName)
	if err != nil && dbapierr.StatusOf(err) != dbapierr.Already {
		return nil, err
	}

	h := &ModuleHandle{
		ID:         id,
		Name:       name,
		SubName:    subName,
		Table:      table,
		AdminInfo:  adminInfo,
		Disposers:  disposer.NewRegistry(id),
		mgr:        m,
		globalName: globContextName,
		sessions:   make(map[*SessionHandle]struct{}),
	}
	if globContextName != "" {
		m.Chain.Adopt(globContextName, h)
	}

	m.mu.Lock()
	m.modules[id.Value] = h
	m.mu.Unlock()

	logger.Context().Debug().Str("module", id.String()).Str("name", name).Msg("module context created")
	return h, nil
}

// CreateSession performs §4.D step 5. A plugin that fails to create a
// session does NOT fail the whole operation: the returned SessionHandle
// carries a zero (invalid) ID and the caller can continue in admin-only
// mode, per "failure to create a session is NOT fatal — the engine
// continues with a null session context".
func (h *ModuleHandle) CreateSession(ctx gocontext.Context, name string) (*SessionHandle, error) {
	sh := &SessionHandle{
		Module:     h,
		Name:       name,
		datastores: make(map[*DatastoreHandle]struct{}),
	}

	id, err := h.Table.Session.CreateContext(ctx, h.ID, name)
	if err != nil {
		logger.Context().Warn().Err(err).Str("module", h.ID.String()).Msg("session create failed; continuing with null session (soft-fail)")
		sh.Disposers = disposer.NewRegistry(dbapi.ContextID{Kind: dbapi.KindSession})
		h.mu.Lock()
		h.sessions[sh] = struct{}{}
		h.mu.Unlock()
		return sh, nil
	}

	sh.ID = id
	sh.Disposers = disposer.NewRegistry(id)
	h.mu.Lock()
	h.sessions[sh] = struct{}{}
	h.mu.Unlock()

	logger.Context().Debug().Str("session", id.String()).Msg("session context created")
	return sh, nil
}

// DeleteContext performs §4.D's shutdown sequence at the module scope:
// sweep outstanding disposers, call Module_DeleteContext, release the
// module's global-chain membership (if any), and forget the module.
// Double-close is a no-op returning Error, per §4.D.
func (h *ModuleHandle) DeleteContext(ctx gocontext.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return dbapierr.New(dbapierr.Error, "module context already closed")
	}
	h.closed = true
	h.mu.Unlock()

	h.Disposers.Sweep()
	err := h.Table.Module.DeleteContext(ctx, h.ID)

	if h.globalName != "" {
		h.mgr.Chain.Release(h.globalName)
	}

	h.mgr.mu.Lock()
	delete(h.mgr.modules, h.ID.Value)
	h.mgr.mu.Unlock()

	logger.Context().Debug().Str("module", h.ID.String()).Msg("module context deleted")
	return err
}

// SessionHandle is a live session context (§3 Session Descriptor). ID is
// invalid (zero) when the underlying plugin failed to create a session and
// the engine soft-failed per §4.D step 5.
type SessionHandle struct {
	ID        dbapi.ContextID
	Module    *ModuleHandle
	Name      string
	Disposers *disposer.Registry

	mu         sync.Mutex
	datastores map[*DatastoreHandle]struct{}
	closed     bool
}

// CreateDatastore performs §4.D step 6: issues CreateContext for the
// datastore, appending the admin-name suffix when the module offers
// ADMIN_Info and the caller asked for admin mode.
func (sh *SessionHandle) CreateDatastore(ctx gocontext.Context, dbName, devKey, userKey string, adminMode bool) (*DatastoreHandle, error) {
	name := dbName
	if sh.Module.AdminInfo && adminMode {
		name = dbName + adminNameSuffix
	}

	id, err := sh.Module.Table.Datastore.CreateContext(ctx, sh.Module.ID, sh.ID, name, devKey, userKey, adminMode)
	if err != nil {
		return nil, err
	}

	dh := &DatastoreHandle{
		ID:        id,
		Module:    sh.Module,
		Session:   sh,
		Name:      name,
		AdminMode: adminMode,
		Callback:  Callback{Module: sh.Module.ID, Session: sh.ID, Datastore: id},
		Disposers: disposer.NewRegistry(id),
	}
	sh.mu.Lock()
	sh.datastores[dh] = struct{}{}
	sh.mu.Unlock()

	logger.Context().Debug().Str("datastore", id.String()).Str("name", name).Msg("datastore context created")
	return dh, nil
}

// DeleteContext tears the session down: sweeps disposers, calls
// Session_DeleteContext (skipped when the session was soft-failed, i.e. ID
// is invalid), removes the session from its module, and sweeps the Global
// Context Chain for empty-text nodes per §4.D ("garbage-collected during
// session end").
func (sh *SessionHandle) DeleteContext(ctx gocontext.Context) error {
	sh.mu.Lock()
	if sh.closed {
		sh.mu.Unlock()
		return dbapierr.New(dbapierr.Error, "session context already closed")
	}
	sh.closed = true
	sh.mu.Unlock()

	sh.Disposers.Sweep()

	var err error
	if sh.ID.Valid() {
		err = sh.Module.Table.Session.DeleteContext(ctx, sh.ID)
	}

	sh.Module.mu.Lock()
	delete(sh.Module.sessions, sh)
	sh.Module.mu.Unlock()

	sh.Module.mgr.Chain.Sweep()

	logger.Context().Debug().Str("session", sh.ID.String()).Msg("session context deleted")
	return err
}

// DatastoreHandle is a live datastore context (§3 Datastore Descriptor).
type DatastoreHandle struct {
	ID        dbapi.ContextID
	Module    *ModuleHandle
	Session   *SessionHandle
	Name      string
	AdminMode bool
	Callback  Callback
	Disposers *disposer.Registry

	closedMu sync.Mutex
	closed   bool
}

// DeleteContext tears the datastore down. Per §4.F's state table ("Open →
// Closed | DeleteContext | Registry must be empty"), the disposer sweep
// runs first so the registry is always empty by the time DeleteContext is
// called on the plugin.
func (dh *DatastoreHandle) DeleteContext(ctx gocontext.Context) error {
	dh.closedMu.Lock()
	if dh.closed {
		dh.closedMu.Unlock()
		return dbapierr.New(dbapierr.Error, "datastore context already closed")
	}
	dh.closed = true
	dh.closedMu.Unlock()

	dh.Disposers.Sweep()
	err := dh.Module.Table.Datastore.DeleteContext(ctx, dh.ID)

	if dh.Session != nil {
		dh.Session.mu.Lock()
		delete(dh.Session.datastores, dh)
		dh.Session.mu.Unlock()
	}

	logger.Context().Debug().Str("datastore", dh.ID.String()).Msg("datastore context deleted")
	return err
}
