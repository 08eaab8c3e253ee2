package loader

import (
	"context"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
)

// Aggregate symbol names a Binding may expose in place of (or in addition
// to) per-method symbols: a builtin compiled-in plugin naturally implements
// the Go interfaces directly, so handing the whole interface value across
// as one symbol is both simpler and more idiomatic than decomposing it into
// individual function pointers only to reassemble it here. DLL and bridge
// bindings, which only ever have function-level symbols to offer, fall back
// to the per-method names below.
const (
	SymModule    = "Module"
	SymSession   = "Session"
	SymDatastore = "Datastore"
)

// Per-method symbol names, following the codebase's existing
// "<Scope>_<Method>" convention (see context/manager.go's references to
// Module_CreateContext, Session_DeleteContext).
const (
	SymModuleCreateContext = "Module_CreateContext"
	SymModuleVersion       = "Module_Version"
	SymModuleCapabilities  = "Module_Capabilities"
	SymModulePluginParams  = "Module_PluginParams"
	SymModuleDisposeObj    = "Module_DisposeObj"
	SymModuleDeleteContext = "Module_DeleteContext"

	SymSessionCreateContext      = "Session_CreateContext"
	SymSessionLogin              = "Session_Login"
	SymSessionLogout             = "Session_Logout"
	SymSessionThreadMayChangeNow = "Session_ThreadMayChangeNow"
	SymSessionDisposeObj         = "Session_DisposeObj"
	SymSessionDeleteContext      = "Session_DeleteContext"

	SymDatastoreCreateContext       = "Datastore_CreateContext"
	SymDatastoreDeleteContext       = "Datastore_DeleteContext"
	SymDatastoreThreadMayChangeNow  = "Datastore_ThreadMayChangeNow"
	SymDatastoreLoadAdminData       = "Datastore_LoadAdminData"
	SymDatastoreSaveAdminData       = "Datastore_SaveAdminData"
	SymDatastoreReadNextMapItem     = "Datastore_ReadNextMapItem"
	SymDatastoreInsertMapItem       = "Datastore_InsertMapItem"
	SymDatastoreUpdateMapItem       = "Datastore_UpdateMapItem"
	SymDatastoreDeleteMapItem       = "Datastore_DeleteMapItem"
	SymDatastoreStartDataRead       = "Datastore_StartDataRead"
	SymDatastoreReadNextItem        = "Datastore_ReadNextItem"
	SymDatastoreReadItem            = "Datastore_ReadItem"
	SymDatastoreEndDataRead         = "Datastore_EndDataRead"
	SymDatastoreStartDataWrite      = "Datastore_StartDataWrite"
	SymDatastoreInsertItem          = "Datastore_InsertItem"
	SymDatastoreUpdateItem          = "Datastore_UpdateItem"
	SymDatastoreDeleteItem          = "Datastore_DeleteItem"
	SymDatastoreMoveItem            = "Datastore_MoveItem"
	SymDatastoreFinalizeLocalID     = "Datastore_FinalizeLocalID"
	SymDatastoreDeleteSyncSet       = "Datastore_DeleteSyncSet"
	SymDatastoreEndDataWrite        = "Datastore_EndDataWrite"
	SymDatastoreReadBlob            = "Datastore_ReadBlob"
	SymDatastoreWriteBlob           = "Datastore_WriteBlob"
	SymDatastoreDeleteBlob          = "Datastore_DeleteBlob"
	SymDatastoreDisposeObj          = "Datastore_DisposeObj"
)

// BuildTable assembles a *dbapi.Table from a connected Binding, per §4.B
// "every slot is initialised to a no-op default at table creation" followed
// by overwriting whichever slots the binding actually resolves. Aggregate
// symbols (SymModule/SymSession/SymDatastore) are tried first; any scope not
// offered that way is built method-by-method from the per-method symbols,
// leaving a method at its no-op default when the binding has no matching
// symbol or the symbol's type doesn't match the expected signature.
func BuildTable(b Binding) *dbapi.Table {
	table := dbapi.NewDefaultTable()

	if fn, ok := b.Resolve(SymModule); ok {
		if m, ok := fn.(dbapi.ModulePlugin); ok {
			table.Module = m
		}
	} else {
		table.Module = buildModule(b, table.Module)
	}

	if fn, ok := b.Resolve(SymSession); ok {
		if s, ok := fn.(dbapi.SessionPlugin); ok {
			table.Session = s
		}
	} else {
		table.Session = buildSession(b, table.Session)
	}

	if fn, ok := b.Resolve(SymDatastore); ok {
		if d, ok := fn.(dbapi.DatastorePlugin); ok {
			table.Datastore = d
		}
	} else {
		table.Datastore = buildDatastore(b, table.Datastore)
	}

	return table
}

func resolveAs[T any](b Binding, symbol string) (T, bool) {
	var zero T
	fn, ok := b.Resolve(symbol)
	if !ok {
		return zero, false
	}
	typed, ok := fn.(T)
	return typed, ok
}

type moduleShim struct {
	fallback dbapi.ModulePlugin
	b        Binding
}

func buildModule(b Binding, fallback dbapi.ModulePlugin) dbapi.ModulePlugin {
	return moduleShim{fallback: fallback, b: b}
}

func (m moduleShim) CreateContext(ctx context.Context, name, subName string) (dbapi.ContextID, error) {
	if fn, ok := resolveAs[func(context.Context, string, string) (dbapi.ContextID, error)](m.b, SymModuleCreateContext); ok {
		return fn(ctx, name, subName)
	}
	return m.fallback.CreateContext(ctx, name, subName)
}

func (m moduleShim) Version(ctx context.Context, mc dbapi.ContextID) (int, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID) (int, error)](m.b, SymModuleVersion); ok {
		return fn(ctx, mc)
	}
	return m.fallback.Version(ctx, mc)
}

func (m moduleShim) Capabilities(ctx context.Context, mc dbapi.ContextID) (string, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID) (string, error)](m.b, SymModuleCapabilities); ok {
		return fn(ctx, mc)
	}
	return m.fallback.Capabilities(ctx, mc)
}

func (m moduleShim) PluginParams(ctx context.Context, mc dbapi.ContextID, configName, configData string) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, string, string) error](m.b, SymModulePluginParams); ok {
		return fn(ctx, mc, configName, configData)
	}
	return m.fallback.PluginParams(ctx, mc, configName, configData)
}

func (m moduleShim) DisposeObj(ctx context.Context, mc dbapi.ContextID, value interface{}) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, interface{}) error](m.b, SymModuleDisposeObj); ok {
		return fn(ctx, mc, value)
	}
	return m.fallback.DisposeObj(ctx, mc, value)
}

func (m moduleShim) DeleteContext(ctx context.Context, mc dbapi.ContextID) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID) error](m.b, SymModuleDeleteContext); ok {
		return fn(ctx, mc)
	}
	return m.fallback.DeleteContext(ctx, mc)
}

type sessionShim struct {
	fallback dbapi.SessionPlugin
	b        Binding
}

func buildSession(b Binding, fallback dbapi.SessionPlugin) dbapi.SessionPlugin {
	return sessionShim{fallback: fallback, b: b}
}

func (s sessionShim) CreateContext(ctx context.Context, mc dbapi.ContextID, sessionName string) (dbapi.ContextID, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, string) (dbapi.ContextID, error)](s.b, SymSessionCreateContext); ok {
		return fn(ctx, mc, sessionName)
	}
	return s.fallback.CreateContext(ctx, mc, sessionName)
}

func (s sessionShim) Login(ctx context.Context, sc dbapi.ContextID, username string) (string, string, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, string) (string, string, error)](s.b, SymSessionLogin); ok {
		return fn(ctx, sc, username)
	}
	return s.fallback.Login(ctx, sc, username)
}

func (s sessionShim) Logout(ctx context.Context, sc dbapi.ContextID) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID) error](s.b, SymSessionLogout); ok {
		return fn(ctx, sc)
	}
	return s.fallback.Logout(ctx, sc)
}

func (s sessionShim) ThreadMayChangeNow(ctx context.Context, sc dbapi.ContextID) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID) error](s.b, SymSessionThreadMayChangeNow); ok {
		return fn(ctx, sc)
	}
	return s.fallback.ThreadMayChangeNow(ctx, sc)
}

func (s sessionShim) DisposeObj(ctx context.Context, sc dbapi.ContextID, value interface{}) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, interface{}) error](s.b, SymSessionDisposeObj); ok {
		return fn(ctx, sc, value)
	}
	return s.fallback.DisposeObj(ctx, sc, value)
}

func (s sessionShim) DeleteContext(ctx context.Context, sc dbapi.ContextID) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID) error](s.b, SymSessionDeleteContext); ok {
		return fn(ctx, sc)
	}
	return s.fallback.DeleteContext(ctx, sc)
}

// datastoreShim adapts per-method symbols to dbapi.DatastorePlugin, one
// resolve-or-fallback method per slot.
type datastoreShim struct {
	fallback dbapi.DatastorePlugin
	b        Binding
}

func buildDatastore(b Binding, fallback dbapi.DatastorePlugin) dbapi.DatastorePlugin {
	return datastoreShim{fallback: fallback, b: b}
}

func (d datastoreShim) CreateContext(ctx context.Context, mc, sc dbapi.ContextID, dbName, devKey, userKey string, adminMode bool) (dbapi.ContextID, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.ContextID, string, string, string, bool) (dbapi.ContextID, error)](d.b, SymDatastoreCreateContext); ok {
		return fn(ctx, mc, sc, dbName, devKey, userKey, adminMode)
	}
	return d.fallback.CreateContext(ctx, mc, sc, dbName, devKey, userKey, adminMode)
}

func (d datastoreShim) DeleteContext(ctx context.Context, dc dbapi.ContextID) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID) error](d.b, SymDatastoreDeleteContext); ok {
		return fn(ctx, dc)
	}
	return d.fallback.DeleteContext(ctx, dc)
}

func (d datastoreShim) ThreadMayChangeNow(ctx context.Context, dc dbapi.ContextID) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID) error](d.b, SymDatastoreThreadMayChangeNow); ok {
		return fn(ctx, dc)
	}
	return d.fallback.ThreadMayChangeNow(ctx, dc)
}

func (d datastoreShim) LoadAdminData(ctx context.Context, dc dbapi.ContextID, localDB, remoteDB string) (string, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, string, string) (string, error)](d.b, SymDatastoreLoadAdminData); ok {
		return fn(ctx, dc, localDB, remoteDB)
	}
	return d.fallback.LoadAdminData(ctx, dc, localDB, remoteDB)
}

func (d datastoreShim) SaveAdminData(ctx context.Context, dc dbapi.ContextID, data string) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, string) error](d.b, SymDatastoreSaveAdminData); ok {
		return fn(ctx, dc, data)
	}
	return d.fallback.SaveAdminData(ctx, dc, data)
}

func (d datastoreShim) ReadNextMapItem(ctx context.Context, dc dbapi.ContextID, first bool) (dbapi.MapRecord, bool, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, bool) (dbapi.MapRecord, bool, error)](d.b, SymDatastoreReadNextMapItem); ok {
		return fn(ctx, dc, first)
	}
	return d.fallback.ReadNextMapItem(ctx, dc, first)
}

func (d datastoreShim) InsertMapItem(ctx context.Context, dc dbapi.ContextID, m dbapi.MapRecord) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.MapRecord) error](d.b, SymDatastoreInsertMapItem); ok {
		return fn(ctx, dc, m)
	}
	return d.fallback.InsertMapItem(ctx, dc, m)
}

func (d datastoreShim) UpdateMapItem(ctx context.Context, dc dbapi.ContextID, m dbapi.MapRecord) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.MapRecord) error](d.b, SymDatastoreUpdateMapItem); ok {
		return fn(ctx, dc, m)
	}
	return d.fallback.UpdateMapItem(ctx, dc, m)
}

func (d datastoreShim) DeleteMapItem(ctx context.Context, dc dbapi.ContextID, m dbapi.MapRecord) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.MapRecord) error](d.b, SymDatastoreDeleteMapItem); ok {
		return fn(ctx, dc, m)
	}
	return d.fallback.DeleteMapItem(ctx, dc, m)
}

func (d datastoreShim) StartDataRead(ctx context.Context, dc dbapi.ContextID, lastToken, resumeToken dbapi.Token) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.Token, dbapi.Token) error](d.b, SymDatastoreStartDataRead); ok {
		return fn(ctx, dc, lastToken, resumeToken)
	}
	return d.fallback.StartDataRead(ctx, dc, lastToken, resumeToken)
}

func (d datastoreShim) ReadNextItem(ctx context.Context, dc dbapi.ContextID, first bool) (dbapi.ItemID, string, dbapi.ReadStatus, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, bool) (dbapi.ItemID, string, dbapi.ReadStatus, error)](d.b, SymDatastoreReadNextItem); ok {
		return fn(ctx, dc, first)
	}
	return d.fallback.ReadNextItem(ctx, dc, first)
}

func (d datastoreShim) ReadItem(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID) (string, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.ItemID) (string, error)](d.b, SymDatastoreReadItem); ok {
		return fn(ctx, dc, id)
	}
	return d.fallback.ReadItem(ctx, dc, id)
}

func (d datastoreShim) EndDataRead(ctx context.Context, dc dbapi.ContextID) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID) error](d.b, SymDatastoreEndDataRead); ok {
		return fn(ctx, dc)
	}
	return d.fallback.EndDataRead(ctx, dc)
}

func (d datastoreShim) StartDataWrite(ctx context.Context, dc dbapi.ContextID) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID) error](d.b, SymDatastoreStartDataWrite); ok {
		return fn(ctx, dc)
	}
	return d.fallback.StartDataWrite(ctx, dc)
}

func (d datastoreShim) InsertItem(ctx context.Context, dc dbapi.ContextID, data, parent string) (string, dbapierr.Status, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, string, string) (string, dbapierr.Status, error)](d.b, SymDatastoreInsertItem); ok {
		return fn(ctx, dc, data, parent)
	}
	return d.fallback.InsertItem(ctx, dc, data, parent)
}

func (d datastoreShim) UpdateItem(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID, data string) (string, dbapierr.Status, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.ItemID, string) (string, dbapierr.Status, error)](d.b, SymDatastoreUpdateItem); ok {
		return fn(ctx, dc, id, data)
	}
	return d.fallback.UpdateItem(ctx, dc, id, data)
}

func (d datastoreShim) DeleteItem(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.ItemID) error](d.b, SymDatastoreDeleteItem); ok {
		return fn(ctx, dc, id)
	}
	return d.fallback.DeleteItem(ctx, dc, id)
}

func (d datastoreShim) MoveItem(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID, newParent string) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.ItemID, string) error](d.b, SymDatastoreMoveItem); ok {
		return fn(ctx, dc, id, newParent)
	}
	return d.fallback.MoveItem(ctx, dc, id, newParent)
}

func (d datastoreShim) FinalizeLocalID(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.ItemID) error](d.b, SymDatastoreFinalizeLocalID); ok {
		return fn(ctx, dc, id)
	}
	return d.fallback.FinalizeLocalID(ctx, dc, id)
}

func (d datastoreShim) DeleteSyncSet(ctx context.Context, dc dbapi.ContextID) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID) error](d.b, SymDatastoreDeleteSyncSet); ok {
		return fn(ctx, dc)
	}
	return d.fallback.DeleteSyncSet(ctx, dc)
}

func (d datastoreShim) EndDataWrite(ctx context.Context, dc dbapi.ContextID, success bool) (dbapi.Token, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, bool) (dbapi.Token, error)](d.b, SymDatastoreEndDataWrite); ok {
		return fn(ctx, dc, success)
	}
	return d.fallback.EndDataWrite(ctx, dc, success)
}

func (d datastoreShim) ReadBlob(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID, blobID string, blockSize int, first bool) (dbapi.BlobChunk, error) {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.ItemID, string, int, bool) (dbapi.BlobChunk, error)](d.b, SymDatastoreReadBlob); ok {
		return fn(ctx, dc, id, blobID, blockSize, first)
	}
	return d.fallback.ReadBlob(ctx, dc, id, blobID, blockSize, first)
}

func (d datastoreShim) WriteBlob(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID, blobID string, chunk dbapi.BlobChunk) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.ItemID, string, dbapi.BlobChunk) error](d.b, SymDatastoreWriteBlob); ok {
		return fn(ctx, dc, id, blobID, chunk)
	}
	return d.fallback.WriteBlob(ctx, dc, id, blobID, chunk)
}

func (d datastoreShim) DeleteBlob(ctx context.Context, dc dbapi.ContextID, id dbapi.ItemID, blobID string) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, dbapi.ItemID, string) error](d.b, SymDatastoreDeleteBlob); ok {
		return fn(ctx, dc, id, blobID)
	}
	return d.fallback.DeleteBlob(ctx, dc, id, blobID)
}

func (d datastoreShim) DisposeObj(ctx context.Context, dc dbapi.ContextID, value interface{}) error {
	if fn, ok := resolveAs[func(context.Context, dbapi.ContextID, interface{}) error](d.b, SymDatastoreDisposeObj); ok {
		return fn(ctx, dc, value)
	}
	return d.fallback.DisposeObj(ctx, dc, value)
}
