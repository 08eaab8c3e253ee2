package context

import (
	gocontext "context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
)

func TestGlobalChainAdoptSharesNodeByName(t *testing.T) {
	g := NewGlobalChain()
	a := g.Adopt("shared", "backref-a")
	b := g.Adopt("shared", "backref-b")

	assert.Same(t, a, b)
	assert.Equal(t, 2, a.refcount)
	assert.Equal(t, "backref-a", a.backref, "first adopter's backref wins")
	assert.Equal(t, 1, g.Len())
}

func TestGlobalChainReleaseClearsBackrefAtZero(t *testing.T) {
	g := NewGlobalChain()
	n := g.Adopt("shared", "backref")
	g.Adopt("shared", nil)

	g.Release("shared")
	assert.NotNil(t, n.backref, "backref survives while refcount > 0")

	g.Release("shared")
	assert.Nil(t, n.backref)

	// Collection is deferred to Sweep, not performed by Release itself.
	assert.Equal(t, 1, g.Len())
	g.Sweep()
	assert.Equal(t, 0, g.Len())
}

func TestGlobalChainSweepKeepsLiveNodes(t *testing.T) {
	g := NewGlobalChain()
	g.Adopt("live", "backref")
	g.Adopt("dead", nil)
	g.Release("dead")

	g.Sweep()
	assert.Equal(t, 1, g.Len())
}

// fakeTable is a method table whose module side mints predictable context
// ids and records delete calls, so the lifecycle tests can observe what the
// Manager actually drove against the plugin.
type fakeTable struct {
	sessionErr    error
	moduleDeletes int
}

func newFakeTable(sessionErr error) *dbapi.Table {
	table := dbapi.NewDefaultTable()
	ft := &fakeTable{sessionErr: sessionErr}
	table.Module = ft
	table.Session = fakeSession{ft: ft}
	return table
}

func (ft *fakeTable) CreateContext(gocontext.Context, string, string) (dbapi.ContextID, error) {
	return dbapi.ContextID{Kind: dbapi.KindModule, Value: "m-1"}, nil
}
func (ft *fakeTable) Version(gocontext.Context, dbapi.ContextID) (int, error) { return 1, nil }
func (ft *fakeTable) Capabilities(gocontext.Context, dbapi.ContextID) (string, error) {
	return "", nil
}
func (ft *fakeTable) PluginParams(gocontext.Context, dbapi.ContextID, string, string) error {
	return nil
}
func (ft *fakeTable) DisposeObj(gocontext.Context, dbapi.ContextID, interface{}) error { return nil }
func (ft *fakeTable) DeleteContext(gocontext.Context, dbapi.ContextID) error {
	ft.moduleDeletes++
	return nil
}

type fakeSession struct{ ft *fakeTable }

func (s fakeSession) CreateContext(gocontext.Context, dbapi.ContextID, string) (dbapi.ContextID, error) {
	if s.ft.sessionErr != nil {
		return dbapi.ContextID{}, s.ft.sessionErr
	}
	return dbapi.ContextID{Kind: dbapi.KindSession, Value: "s-1"}, nil
}
func (s fakeSession) Login(gocontext.Context, dbapi.ContextID, string) (string, string, error) {
	return "", "", nil
}
func (s fakeSession) Logout(gocontext.Context, dbapi.ContextID) error             { return nil }
func (s fakeSession) ThreadMayChangeNow(gocontext.Context, dbapi.ContextID) error { return nil }
func (s fakeSession) DisposeObj(gocontext.Context, dbapi.ContextID, interface{}) error {
	return nil
}
func (s fakeSession) DeleteContext(gocontext.Context, dbapi.ContextID) error { return nil }

func TestModuleDoubleCloseReturnsError(t *testing.T) {
	mgr := NewManager(10000)
	table := newFakeTable(nil)

	h, err := mgr.CreateModule(gocontext.Background(), table, "m", "", "", false)
	require.NoError(t, err)

	require.NoError(t, h.DeleteContext(gocontext.Background()))
	err = h.DeleteContext(gocontext.Background())
	require.Error(t, err)
	assert.Equal(t, dbapierr.Error, dbapierr.StatusOf(err))
	assert.Equal(t, 1, table.Module.(*fakeTable).moduleDeletes, "plugin sees exactly one delete")
}

// TestSessionCreateSoftFails covers §4.D step 5: a plugin that cannot create
// a session context still yields a usable (nil-session) handle.
func TestSessionCreateSoftFails(t *testing.T) {
	mgr := NewManager(10000)
	table := newFakeTable(dbapierr.New(dbapierr.Fatal, "no session support"))

	h, err := mgr.CreateModule(gocontext.Background(), table, "m", "", "", false)
	require.NoError(t, err)

	sh, err := h.CreateSession(gocontext.Background(), "sess")
	require.NoError(t, err, "session create failure must be soft")
	assert.False(t, sh.ID.Valid())

	require.NoError(t, sh.DeleteContext(gocontext.Background()))
	require.NoError(t, h.DeleteContext(gocontext.Background()))
}

// TestModuleGlobalContextAdoptAndRelease covers the GlobContext capability
// path: two modules loaded under the same global name share one chain node,
// released as each module context is deleted.
func TestModuleGlobalContextAdoptAndRelease(t *testing.T) {
	mgr := NewManager(10000)

	h1, err := mgr.CreateModule(gocontext.Background(), newFakeTable(nil), "m", "", "shared-db", false)
	require.NoError(t, err)
	h2, err := mgr.CreateModule(gocontext.Background(), newFakeTable(nil), "m", "sub", "shared-db", false)
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.Chain.Len())

	require.NoError(t, h1.DeleteContext(gocontext.Background()))
	assert.Equal(t, 1, mgr.Chain.Len(), "node survives while a module still holds it")

	require.NoError(t, h2.DeleteContext(gocontext.Background()))
	mgr.Chain.Sweep()
	assert.Equal(t, 0, mgr.Chain.Len())
}
