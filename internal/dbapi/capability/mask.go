package capability

import (
	"context"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
)

// maskDatastore wraps inner so that calls belonging to a disabled group
// return dbapierr.NotImplemented instead of reaching the plugin, matching
// the contract for a group whose symbols were never resolved (§4.B).
//
// The "AsKey" wire variants (ReadItemAsKey, admin-as-key, etc.) are a
// call-shape distinction from the original C ABI (raw string vs structured
// key-value record) rather than a distinct operation; this Go
// implementation carries a single string-based data representation per
// operation; ItemAsKey/AdminAsKey/group "key"/"both" modes are still parsed
// and recorded in Enabled for negotiation-determinism testing (§8 property
// 6), but do not change which Go method is invoked.
func maskDatastore(inner dbapi.DatastorePlugin, enabled map[dbapi.Group]bool) dbapi.DatastorePlugin {
	return &datastoreMask{inner: inner, enabled: enabled}
}

type datastoreMask struct {
	inner   dbapi.DatastorePlugin
	enabled map[dbapi.Group]bool
}

func (m *datastoreMask) allowed(groups ...dbapi.Group) bool {
	for _, g := range groups {
		if m.enabled[g] {
			return true
		}
	}
	return false
}

func notImplemented() error {
	return dbapierr.New(dbapierr.NotImplemented, "method group disabled by capability negotiation")
}

func (m *datastoreMask) CreateContext(ctx context.Context, mc, sc dbapi.ContextID, dbName, devKey, userKey string, adminMode bool) (dbapi.ContextID, error) {
	return m.inner.CreateContext(ctx, mc, sc, dbName, devKey, userKey, adminMode)
}
func (m *datastoreMask) DeleteContext(ctx context.Context, dc dbapi.ContextID) error {
	return m.inner.DeleteContext(ctx, dc)
}
func (m *datastoreMask) ThreadMayChangeNow(ctx context.Context, dc dbapi.ContextID) error {
	return m.inner.ThreadMayChangeNow(ctx, dc)
}

func (m *datastoreMask) LoadAdminData(ctx context.Context, dc dbapi.ContextID, localDB, remoteDB string) (string, error) {
	if !m.allowed(dbapi.GroupDSAdminStr, dbapi.GroupDSAdminKey) {
		return "", notImplemented()
	}
	return m.inner.LoadAdminData(ctx, dc, localDB, remoteDB)
}
func (m *datastoreMask) SaveAdminData(ctx context.Context, dc dbapi.ContextID, data string) error {
	if !m.allowed(dbapi.GroupDSAdminStr, dbapi.GroupDSAdminKey) {
		return notImplemented()
	}
	return m.inner.SaveAdminData(ctx, dc, data)
}

func (m *datastoreMask) ReadNextMapItem(ctx context.Context, dc dbapi.ContextID, first bool) (dbapi.MapRecord, bool, error) {
	if !m.allowed(dbapi.GroupDSAdminMap) {
		return dbapi.MapRecord{}, false, notImplemented()
	}
	return m.inner.ReadNextMapItem(ctx, dc, first)
}
func (m *datastoreMask) InsertMapItem(ctx context.Context, dc dbapi.ContextID, rec dbapi.MapRecord) error {
	if !m.allowed(dbapi.GroupDSAdminMap) {
		return notImplemented()
	}
	return m.inner.InsertMapItem(ctx, dc, rec)
}
func (m *datastoreMask) UpdateMapItem(ctx context.Context, dc dbapi.ContextID, rec dbapi.MapRecord) error {
	if !m.allowed(dbapi.GroupDSAdminMap) {
		return notImplemented()
	}
	return m.inner.UpdateMapItem(ctx, dc, rec)
}
func (m *datastoreMask) DeleteMapItem(ctx context.Context, dc dbapi.ContextID, rec dbapi.MapRecord) error {
	if !m.allowed(dbapi.GroupDSAdminMap) {
		return notImplemented()
	}
	return m.inner.DeleteMapItem(ctx, dc, rec)
}

func (m *datastoreMask) StartDataRead(ctx context.Context, dc dbapi.ContextID, lastToken, resumeToken dbapi.Token) error {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return notImplemented()
	}
	return m.inner.StartDataRead(ctx, dc, lastToken, resumeToken)
}
func (m *datastoreMask) ReadNextItem(ctx context.Context, dc dbapi.ContextID, first bool) (dbapi.ItemID, string, dbapi.ReadStatus, error) {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return dbapi.ItemID{}, "", dbapi.Eof, notImplemented()
	}
	return m.inner.ReadNextItem(ctx, dc, first)
}
func (m *datastoreMask) ReadItem(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID) (string, error) {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return "", notImplemented()
	}
	return m.inner.ReadItem(ctx, dc, id)
}
func (m *datastoreMask) EndDataRead(ctx context.Context, dc dbapi.ContextID) error {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return notImplemented()
	}
	return m.inner.EndDataRead(ctx, dc)
}

func (m *datastoreMask) StartDataWrite(ctx context.Context, dc dbapi.ContextID) error {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return notImplemented()
	}
	return m.inner.StartDataWrite(ctx, dc)
}
func (m *datastoreMask) InsertItem(ctx context.Context, dc dbapi.ContextID, data, parent string) (string, dbapierr.Status, error) {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return "", dbapierr.NotImplemented, notImplemented()
	}
	return m.inner.InsertItem(ctx, dc, data, parent)
}
func (m *datastoreMask) UpdateItem(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID, data string) (string, dbapierr.Status, error) {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return "", dbapierr.NotImplemented, notImplemented()
	}
	return m.inner.UpdateItem(ctx, dc, id, data)
}
func (m *datastoreMask) DeleteItem(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID) error {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return notImplemented()
	}
	return m.inner.DeleteItem(ctx, dc, id)
}
func (m *datastoreMask) MoveItem(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID, newParent string) error {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return notImplemented()
	}
	return m.inner.MoveItem(ctx, dc, id, newParent)
}
func (m *datastoreMask) FinalizeLocalID(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID) error {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return notImplemented()
	}
	return m.inner.FinalizeLocalID(ctx, dc, id)
}
func (m *datastoreMask) DeleteSyncSet(ctx context.Context, dc dbapi.ContextID) error {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return notImplemented()
	}
	return m.inner.DeleteSyncSet(ctx, dc)
}
func (m *datastoreMask) EndDataWrite(ctx context.Context, dc dbapi.ContextID, success bool) (dbapi.Token, error) {
	if !m.allowed(dbapi.GroupDSData, dbapi.GroupDSDataKey) {
		return "", notImplemented()
	}
	return m.inner.EndDataWrite(ctx, dc, success)
}

func (m *datastoreMask) ReadBlob(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID, blobID string, blockSize int, first bool) (dbapi.BlobChunk, error) {
	if !m.allowed(dbapi.GroupDSBlob) {
		return dbapi.BlobChunk{}, notImplemented()
	}
	return m.inner.ReadBlob(ctx, dc, id, blobID, blockSize, first)
}
func (m *datastoreMask) WriteBlob(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID, blobID string, chunk dbapi.BlobChunk) error {
	if !m.allowed(dbapi.GroupDSBlob) {
		return notImplemented()
	}
	return m.inner.WriteBlob(ctx, dc, id, blobID, chunk)
}
func (m *datastoreMask) DeleteBlob(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID, blobID string) error {
	if !m.allowed(dbapi.GroupDSBlob) {
		return notImplemented()
	}
	return m.inner.DeleteBlob(ctx, dc, id, blobID)
}

// DisposeObj is never masked: disposal of already-returned buffers must stay
// reachable regardless of which groups negotiation disabled (§4.E).
func (m *datastoreMask) DisposeObj(ctx context.Context, dc dbapi.ContextID, value interface{}) error {
	return m.inner.DisposeObj(ctx, dc, value)
}
