package backup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
)

func newTestPlugin(t *testing.T) *Plugin {
	t.Helper()
	return New(Config{BaseDir: t.TempDir()})
}

// openDatastore drives a Plugin through Module -> Session -> Datastore
// context creation, mirroring the nested lifecycle an engine would perform
// before it can touch the datastore-scoped surface.
func openDatastore(t *testing.T, p *Plugin, dbName string) dbapi.ContextID {
	t.Helper()
	ctx := context.Background()

	mc, err := p.AsModule().CreateContext(ctx, "backup", "")
	if err != nil {
		require.Equal(t, dbapierr.Already, dbapierr.StatusOf(err))
	}

	sc, err := p.AsSession().CreateContext(ctx, mc, "sess")
	require.NoError(t, err)

	dc, err := p.AsDatastore().CreateContext(ctx, mc, sc, dbName, "dev-1", "user-1", false)
	require.NoError(t, err)
	return dc
}

// TestInsertAndReadCycle covers a single-item insert/read cycle (§8): an
// item written in one write session is visible, with Changed status, in a
// subsequent read session.
func TestInsertAndReadCycle(t *testing.T) {
	p := newTestPlugin(t)
	ds := p.AsDatastore()
	ctx := context.Background()
	dc := openDatastore(t, p, "contacts")

	require.NoError(t, ds.StartDataWrite(ctx, dc))
	id, status, err := ds.InsertItem(ctx, dc, "hello", "")
	require.NoError(t, err)
	assert.True(t, status.Ok())
	token, err := ds.EndDataWrite(ctx, dc, true)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	require.NoError(t, ds.StartDataRead(ctx, dc, "", ""))
	itemID, data, readStatus, err := ds.ReadNextItem(ctx, dc, true)
	require.NoError(t, err)
	assert.Equal(t, id, itemID.Item)
	assert.Equal(t, "hello", data)
	assert.Equal(t, dbapi.Changed, readStatus)

	_, _, eofStatus, err := ds.ReadNextItem(ctx, dc, false)
	require.NoError(t, err)
	assert.Equal(t, dbapi.Eof, eofStatus)
	require.NoError(t, ds.EndDataRead(ctx, dc))
}

// TestReadClassifiesAgainstLastToken covers §4.F token classification: a
// read using the token returned by the first write as lastToken sees that
// item as Unchanged, while a second item written afterwards is Changed.
func TestReadClassifiesAgainstLastToken(t *testing.T) {
	p := newTestPlugin(t)
	ds := p.AsDatastore()
	ctx := context.Background()
	dc := openDatastore(t, p, "contacts")

	require.NoError(t, ds.StartDataWrite(ctx, dc))
	firstID, _, err := ds.InsertItem(ctx, dc, "first", "")
	require.NoError(t, err)
	firstToken, err := ds.EndDataWrite(ctx, dc, true)
	require.NoError(t, err)

	require.NoError(t, ds.StartDataWrite(ctx, dc))
	secondID, _, err := ds.InsertItem(ctx, dc, "second", "")
	require.NoError(t, err)
	_, err = ds.EndDataWrite(ctx, dc, true)
	require.NoError(t, err)

	require.NoError(t, ds.StartDataRead(ctx, dc, firstToken, ""))
	seen := map[string]dbapi.ReadStatus{}
	first := true
	for {
		id, _, status, err := ds.ReadNextItem(ctx, dc, first)
		first = false
		require.NoError(t, err)
		if status == dbapi.Eof {
			break
		}
		seen[id.Item] = status
	}
	assert.Equal(t, dbapi.Unchanged, seen[firstID])
	assert.Equal(t, dbapi.Changed, seen[secondID])
}

// TestEndDataWriteFailureRollsBack covers the write-rollback rule: an
// EndDataWrite(success=false) must undo every mutation made since
// StartDataWrite.
func TestEndDataWriteFailureRollsBack(t *testing.T) {
	p := newTestPlugin(t)
	ds := p.AsDatastore()
	ctx := context.Background()
	dc := openDatastore(t, p, "contacts")

	require.NoError(t, ds.StartDataWrite(ctx, dc))
	_, _, err := ds.InsertItem(ctx, dc, "keep-me-out", "")
	require.NoError(t, err)
	token, err := ds.EndDataWrite(ctx, dc, false)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, ds.StartDataRead(ctx, dc, "", ""))
	_, _, status, err := ds.ReadNextItem(ctx, dc, true)
	require.NoError(t, err)
	assert.Equal(t, dbapi.Eof, status, "rolled-back insert must not be visible")
}

// TestMoveItemRejectsCycle covers §9's cyclic-graph edge case.
func TestMoveItemRejectsCycle(t *testing.T) {
	p := newTestPlugin(t)
	ds := p.AsDatastore()
	ctx := context.Background()
	dc := openDatastore(t, p, "contacts")

	require.NoError(t, ds.StartDataWrite(ctx, dc))
	parentID, _, err := ds.InsertItem(ctx, dc, "parent", "")
	require.NoError(t, err)
	childID, _, err := ds.InsertItem(ctx, dc, "child", parentID)
	require.NoError(t, err)
	_, err = ds.EndDataWrite(ctx, dc, true)
	require.NoError(t, err)

	require.NoError(t, ds.StartDataWrite(ctx, dc))
	err = ds.MoveItem(ctx, dc, dbapi.ItemID{Item: parentID}, childID)
	require.Error(t, err)
	_, _ = ds.EndDataWrite(ctx, dc, false)
}

// TestBlobChunkedRoundTrip covers §8 property 7 through the plugin's own
// WriteBlob/ReadBlob surface rather than the blob package directly.
func TestBlobChunkedRoundTrip(t *testing.T) {
	p := newTestPlugin(t)
	ds := p.AsDatastore()
	ctx := context.Background()
	dc := openDatastore(t, p, "contacts")

	require.NoError(t, ds.StartDataWrite(ctx, dc))
	itemID, _, err := ds.InsertItem(ctx, dc, "has-a-blob", "")
	require.NoError(t, err)

	full := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, ds.WriteBlob(ctx, dc, dbapi.ItemID{Item: itemID}, "photo", dbapi.BlobChunk{Data: full[:10], First: true}))
	require.NoError(t, ds.WriteBlob(ctx, dc, dbapi.ItemID{Item: itemID}, "photo", dbapi.BlobChunk{Data: full[10:], Last: true}))
	_, err = ds.EndDataWrite(ctx, dc, true)
	require.NoError(t, err)

	require.NoError(t, ds.StartDataRead(ctx, dc, "", ""))
	chunk1, err := ds.ReadBlob(ctx, dc, dbapi.ItemID{Item: itemID}, "photo", 20, true)
	require.NoError(t, err)
	assert.False(t, chunk1.Last)

	chunk2, err := ds.ReadBlob(ctx, dc, dbapi.ItemID{Item: itemID}, "photo", 100, false)
	require.NoError(t, err)
	assert.True(t, chunk2.Last)

	assert.Equal(t, full, append(chunk1.Data, chunk2.Data...))
}

// TestWriteBlobEmptyDeletesBlob covers the "empty write = delete" shorthand.
func TestWriteBlobEmptyDeletesBlob(t *testing.T) {
	p := newTestPlugin(t)
	ds := p.AsDatastore()
	ctx := context.Background()
	dc := openDatastore(t, p, "contacts")

	require.NoError(t, ds.StartDataWrite(ctx, dc))
	itemID, _, err := ds.InsertItem(ctx, dc, "has-a-blob", "")
	require.NoError(t, err)
	require.NoError(t, ds.WriteBlob(ctx, dc, dbapi.ItemID{Item: itemID}, "photo", dbapi.BlobChunk{Data: []byte("x"), First: true, Last: true}))
	require.NoError(t, ds.WriteBlob(ctx, dc, dbapi.ItemID{Item: itemID}, "photo", dbapi.BlobChunk{First: true, Last: true}))
	_, err = ds.EndDataWrite(ctx, dc, true)
	require.NoError(t, err)

	_, err = ds.ReadBlob(ctx, dc, dbapi.ItemID{Item: itemID}, "photo", 10, true)
	require.Error(t, err)
	assert.Equal(t, dbapierr.NotFound, dbapierr.StatusOf(err))
}

// TestMapItemRoundTrip covers the map-table round trip (§8): insert,
// iterate via first/next, update, delete.
func TestMapItemRoundTrip(t *testing.T) {
	p := newTestPlugin(t)
	ds := p.AsDatastore()
	ctx := context.Background()
	dc := openDatastore(t, p, "contacts")

	rec := dbapi.MapRecord{LocalID: "l1", RemoteID: "r1", Flags: 1, Ident: 0}
	require.NoError(t, ds.InsertMapItem(ctx, dc, rec))

	got, found, err := ds.ReadNextMapItem(ctx, dc, true)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)

	_, found, err = ds.ReadNextMapItem(ctx, dc, false)
	require.NoError(t, err)
	assert.False(t, found)

	rec.RemoteID = "r2"
	require.NoError(t, ds.UpdateMapItem(ctx, dc, rec))
	require.NoError(t, ds.DeleteMapItem(ctx, dc, rec))
}

// TestAdminDataRoundTrip covers LoadAdminData/SaveAdminData.
func TestAdminDataRoundTrip(t *testing.T) {
	p := newTestPlugin(t)
	ds := p.AsDatastore()
	ctx := context.Background()
	dc := openDatastore(t, p, "contacts")

	existing, err := ds.LoadAdminData(ctx, dc, "local-db", "remote-db")
	require.NoError(t, err)
	assert.Empty(t, existing)

	require.NoError(t, ds.SaveAdminData(ctx, dc, "payload"))
	got, err := ds.LoadAdminData(ctx, dc, "local-db", "remote-db")
	require.NoError(t, err)
	assert.Equal(t, "payload", got)
}

// TestModuleCreateContextDedupesByName covers the Already-status dedup on
// re-creating a module context with the same (name, subName).
func TestModuleCreateContextDedupesByName(t *testing.T) {
	p := newTestPlugin(t)
	ctx := context.Background()

	first, err := p.AsModule().CreateContext(ctx, "backup", "")
	require.NoError(t, err)

	second, err := p.AsModule().CreateContext(ctx, "backup", "")
	require.Error(t, err)
	assert.Equal(t, dbapierr.Already, dbapierr.StatusOf(err))
	assert.Equal(t, first, second)
}

// TestDataPersistsAcrossDatastoreReopen covers the reference plugin's
// defining property: state survives a DeleteContext/CreateContext cycle
// because it is flushed to the TSV files under Config.BaseDir.
func TestDataPersistsAcrossDatastoreReopen(t *testing.T) {
	p := newTestPlugin(t)
	ds := p.AsDatastore()
	ctx := context.Background()
	dc := openDatastore(t, p, "contacts")

	require.NoError(t, ds.StartDataWrite(ctx, dc))
	id, _, err := ds.InsertItem(ctx, dc, "persisted", "")
	require.NoError(t, err)
	_, err = ds.EndDataWrite(ctx, dc, true)
	require.NoError(t, err)

	require.NoError(t, ds.DeleteContext(ctx, dc))

	dc2 := openDatastore(t, p, "contacts")
	require.NoError(t, ds.StartDataRead(ctx, dc2, "", ""))
	itemID, data, _, err := ds.ReadNextItem(ctx, dc2, true)
	require.NoError(t, err)
	assert.Equal(t, id, itemID.Item)
	assert.Equal(t, "persisted", data)
}
