// Package integration drives the full plugin ABI surface end to end: name
// resolution (§4.A) through capability negotiation (§4.C), context
// lifecycle (§4.D), and the datastore state machine (§4.F), against the
// reference backup datastore (§4.I) registered as a builtin "[backup]"
// plugin. Unlike the package-level _test.go files that exercise one
// component in isolation, these scenarios are the §8 "End-to-end scenarios"
// driven through the same call sequence an engine would make.
package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi/backup"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi/capability"
	dbcontext "github.com/streamspace-dev/syncml-dbapi/internal/dbapi/context"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi/datastore"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi/loader"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
)

// engineVersion is a V1.2.0-equivalent engine, comfortably above the
// backup plugin's advertised MinVersion:V1.0.0.
const engineVersion = 10200

// connectModule resolves fullname, opens the module context, probes
// Version/Capabilities, and negotiates the method table in place, mirroring
// §4.D's "Create sequence for a datastore context" steps 1-4. Negotiation
// mutates the Table the ModuleHandle already holds a pointer to, so the
// handle's AdminInfo flag is patched in afterward to reflect the negotiated
// capability string.
func connectModule(t *testing.T, resolver *loader.Resolver, mgr *dbcontext.Manager, fullname string) *dbcontext.ModuleHandle {
	t.Helper()
	ctx := context.Background()

	binding, fn, err := resolver.Resolve(ctx, fullname)
	require.NoError(t, err)

	table := loader.BuildTable(binding)

	h, err := mgr.CreateModule(ctx, table, fn.ID, fn.SubName, "", false)
	require.NoError(t, err)

	version, err := table.Module.Version(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.Version, version)

	caps, err := table.Module.Capabilities(ctx, h.ID)
	require.NoError(t, err)

	result, err := capability.Negotiate(caps, engineVersion, table, capability.Options{})
	require.NoError(t, err)
	assert.True(t, result.Enabled[dbapi.GroupDSGeneral])
	assert.True(t, result.Capability.AdminInfo)
	h.AdminInfo = result.Capability.AdminInfo

	return h
}

// openDatastore performs §4.D steps 5-6: create a session (soft-fail
// tolerant) and then the datastore context itself.
func openDatastore(t *testing.T, module *dbcontext.ModuleHandle, sessionName, dbName string) (*dbcontext.SessionHandle, *dbcontext.DatastoreHandle) {
	t.Helper()
	ctx := context.Background()

	sess, err := module.CreateSession(ctx, sessionName)
	require.NoError(t, err)

	ds, err := sess.CreateDatastore(ctx, dbName, "dev-1", "user-1", false)
	require.NoError(t, err)
	return sess, ds
}

// TestEndToEndInsertReadCycle drives Scenario 1 (spec §8): a module loaded
// under the bracketed LIB name "[no_dbapi]"-equivalent (here "[backup]",
// since this implementation's only builtin is the reference datastore), a
// datastore created, an item inserted and read back across two sync
// sessions, classified Changed then Unchanged/EOF against the token the
// first write produced.
func TestEndToEndInsertReadCycle(t *testing.T) {
	resolver := loader.NewResolver(nil, nil)
	backup.Register(resolver, backup.Config{BaseDir: t.TempDir()})
	mgr := dbcontext.NewManager(engineVersion)

	module := connectModule(t, resolver, mgr, "[backup]")
	defer module.DeleteContext(context.Background())

	sessHandle, dsHandle := openDatastore(t, module, "sess-1", "contacts")
	defer sessHandle.DeleteContext(context.Background())
	ds := datastore.NewSession(dsHandle, module.Table.Datastore)
	ctx := context.Background()

	require.NoError(t, ds.StartDataWrite(ctx))
	newID, status, err := ds.InsertItem(ctx, "N_FIRST:Alice\nN_LAST:Smith", "")
	require.NoError(t, err)
	assert.Equal(t, "10000", newID)
	assert.True(t, status.Ok())
	token, err := ds.EndDataWrite(ctx, true)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	require.NoError(t, ds.StartDataRead(ctx, "", ""))
	id, data, readStatus, err := ds.ReadNextItem(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, newID, id.Item)
	assert.Equal(t, "N_FIRST:Alice\nN_LAST:Smith", data)
	assert.Equal(t, dbapi.Changed, readStatus)

	_, _, eofStatus, err := ds.ReadNextItem(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, dbapi.Eof, eofStatus)
	require.NoError(t, ds.EndDataRead(ctx))

	// A read keyed off the token just produced must not re-report the
	// unchanged item as Changed (§8 property 4).
	require.NoError(t, ds.StartDataRead(ctx, token, ""))
	_, _, secondStatus, err := ds.ReadNextItem(ctx, true)
	require.NoError(t, err)
	assert.NotEqual(t, dbapi.Changed, secondStatus)
	require.NoError(t, ds.EndDataRead(ctx))

	require.NoError(t, dsHandle.DeleteContext(ctx))
}

// TestEndToEndMapTable drives Scenario 2: insert a map record, reject a
// duplicate insert, enumerate it, delete it, then observe an empty table.
func TestEndToEndMapTable(t *testing.T) {
	resolver := loader.NewResolver(nil, nil)
	backup.Register(resolver, backup.Config{BaseDir: t.TempDir()})
	mgr := dbcontext.NewManager(engineVersion)

	module := connectModule(t, resolver, mgr, "[backup]")
	defer module.DeleteContext(context.Background())

	sessHandle, dsHandle := openDatastore(t, module, "sess-1", "contacts")
	defer sessHandle.DeleteContext(context.Background())
	defer dsHandle.DeleteContext(context.Background())
	ctx := context.Background()
	tbl := module.Table.Datastore

	rec := dbapi.MapRecord{LocalID: "10000", RemoteID: "r1", Flags: 0, Ident: 1}
	require.NoError(t, tbl.InsertMapItem(ctx, dsHandle.ID, rec))

	err := tbl.InsertMapItem(ctx, dsHandle.ID, rec)
	require.Error(t, err)
	assert.Equal(t, dbapierr.Error, dbapierr.StatusOf(err))

	got, ok, err := tbl.ReadNextMapItem(ctx, dsHandle.ID, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	_, ok, err = tbl.ReadNextMapItem(ctx, dsHandle.ID, false)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tbl.DeleteMapItem(ctx, dsHandle.ID, rec))
	_, ok, err = tbl.ReadNextMapItem(ctx, dsHandle.ID, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestEndToEndCapabilityRejectsTooOldEngine drives Scenario 3: a plugin
// requiring a newer engine SDK version than the one presented is rejected
// at negotiation time, before any method group is wired.
func TestEndToEndCapabilityRejectsTooOldEngine(t *testing.T) {
	table := dbapi.NewDefaultTable()
	_, err := capability.Negotiate("MinVersion:V9.9.9\n", engineVersion, table, capability.Options{})
	require.Error(t, err)
	assert.Equal(t, dbapierr.TooOld, dbapierr.StatusOf(err))
}

// TestEndToEndBlobChunkedRoundTrip drives Scenario 5: 5000 bytes of 0xAB
// written through three WriteBlob calls of 2000/2000/1000 bytes, read back
// with blockSize=2048 and reassembled bit-identical.
func TestEndToEndBlobChunkedRoundTrip(t *testing.T) {
	resolver := loader.NewResolver(nil, nil)
	backup.Register(resolver, backup.Config{BaseDir: t.TempDir()})
	mgr := dbcontext.NewManager(engineVersion)

	module := connectModule(t, resolver, mgr, "[backup]")
	defer module.DeleteContext(context.Background())

	sessHandle, dsHandle := openDatastore(t, module, "sess-1", "contacts")
	defer sessHandle.DeleteContext(context.Background())
	defer dsHandle.DeleteContext(context.Background())
	ds := datastore.NewSession(dsHandle, module.Table.Datastore)
	ctx := context.Background()

	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = 0xAB
	}

	require.NoError(t, ds.StartDataWrite(ctx))
	itemID, _, err := ds.InsertItem(ctx, "item with attachment", "")
	require.NoError(t, err)
	id := dbapi.ItemID{Item: itemID}

	require.NoError(t, ds.WriteBlob(ctx, id, "photo", dbapi.BlobChunk{Data: payload[:2000], TotalSize: 5000, First: true}))
	require.NoError(t, ds.WriteBlob(ctx, id, "photo", dbapi.BlobChunk{Data: payload[2000:4000], TotalSize: 5000}))
	require.NoError(t, ds.WriteBlob(ctx, id, "photo", dbapi.BlobChunk{Data: payload[4000:], TotalSize: 5000, Last: true}))
	_, err = ds.EndDataWrite(ctx, true)
	require.NoError(t, err)

	require.NoError(t, ds.StartDataRead(ctx, "", ""))
	var got []byte
	first := true
	for {
		chunk, err := ds.ReadBlob(ctx, id, "photo", 2048, first)
		require.NoError(t, err)
		first = false
		got = append(got, chunk.Data...)
		if chunk.Last {
			break
		}
	}
	require.NoError(t, ds.EndDataRead(ctx))

	assert.Equal(t, payload, got)
}

// TestEndToEndResume drives Scenario 6: items updated between lastToken and
// the recorded resume point come back Resumed; items written after the
// resume point come back Changed.
func TestEndToEndResume(t *testing.T) {
	resolver := loader.NewResolver(nil, nil)
	backup.Register(resolver, backup.Config{BaseDir: t.TempDir()})
	mgr := dbcontext.NewManager(engineVersion)

	module := connectModule(t, resolver, mgr, "[backup]")
	defer module.DeleteContext(context.Background())

	sessHandle, dsHandle := openDatastore(t, module, "sess-1", "contacts")
	defer sessHandle.DeleteContext(context.Background())
	defer dsHandle.DeleteContext(context.Background())
	ds := datastore.NewSession(dsHandle, module.Table.Datastore)
	ctx := context.Background()

	// Session A: establish the baseline anchor T1.
	require.NoError(t, ds.StartDataWrite(ctx))
	xID, _, err := ds.InsertItem(ctx, "x", "")
	require.NoError(t, err)
	yID, _, err := ds.InsertItem(ctx, "y", "")
	require.NoError(t, err)
	t1, err := ds.EndDataWrite(ctx, true)
	require.NoError(t, err)

	// Session B: x and y change; the session aborts mid-read, but its write
	// anchor T1b is recorded as the resume point.
	require.NoError(t, ds.StartDataWrite(ctx))
	_, _, err = ds.UpdateItem(ctx, dbapi.ItemID{Item: xID}, "x'")
	require.NoError(t, err)
	_, _, err = ds.UpdateItem(ctx, dbapi.ItemID{Item: yID}, "y'")
	require.NoError(t, err)
	t1b, err := ds.EndDataWrite(ctx, true)
	require.NoError(t, err)

	// After the abort: a brand-new item lands past the resume point.
	require.NoError(t, ds.StartDataWrite(ctx))
	zID, _, err := ds.InsertItem(ctx, "z'", "")
	require.NoError(t, err)
	_, err = ds.EndDataWrite(ctx, true)
	require.NoError(t, err)

	// Session C: read with (lastToken=T1, resumeToken=T1b).
	require.NoError(t, ds.StartDataRead(ctx, t1, t1b))
	seen := map[string]dbapi.ReadStatus{}
	first := true
	for {
		id, _, status, err := ds.ReadNextItem(ctx, first)
		first = false
		require.NoError(t, err)
		if status == dbapi.Eof {
			break
		}
		seen[id.Item] = status
	}
	require.NoError(t, ds.EndDataRead(ctx))

	assert.Equal(t, dbapi.Resumed, seen[xID])
	assert.Equal(t, dbapi.Resumed, seen[yID])
	assert.Equal(t, dbapi.Changed, seen[zID])
}

// TestEndToEndDisposerHonouredOnDelete drives Scenario 4: a buffer
// registered against a context's disposer registry is closed exactly once
// before that context's DeleteContext returns, even when the caller never
// explicitly disposed it.
func TestEndToEndDisposerHonouredOnDelete(t *testing.T) {
	resolver := loader.NewResolver(nil, nil)
	backup.Register(resolver, backup.Config{BaseDir: t.TempDir()})
	mgr := dbcontext.NewManager(engineVersion)

	module := connectModule(t, resolver, mgr, "[backup]")

	disposed := false
	module.Disposers.Register("some-admin-blob", func(dbapi.ContextID, interface{}) {
		disposed = true
	}, false)

	require.NoError(t, module.DeleteContext(context.Background()))
	assert.True(t, disposed)
}
