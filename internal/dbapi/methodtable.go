package dbapi

import (
	"context"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
)

// Group is a stable identifier for one named cluster of method-table slots,
// the unit the capability negotiator (§4.C) replaces atomically (§4.B).
type Group string

// Group keys. Legacy keys exist for capability strings that still advertise
// the old per-spec "OLD1"/"OLD2" variants; this implementation defines one
// canonical current schema and only looks at the legacy keys when
// CompatLegacyGroups is enabled (see capability package and SPEC_FULL.md §9).
const (
	GroupStart       Group = "Plugin_Start"
	GroupParam       Group = "Plugin_Param"
	GroupModule      Group = "Plugin_Module"
	GroupSessionAuth Group = "Plugin_SE_Auth"
	GroupSessionAdm  Group = "Plugin_SE_Admin"
	GroupSessionTime Group = "Plugin_SE_Time"
	GroupDSGeneral   Group = "Plugin_DS_General"
	GroupDSAdminStr  Group = "Plugin_DS_Admin_Str"
	GroupDSAdminKey  Group = "Plugin_DS_Admin_Key"
	GroupDSAdminMap  Group = "Plugin_DS_Admin_Map"
	GroupDSData      Group = "Plugin_DS_Data"
	GroupDSDataKey   Group = "Plugin_DS_Data_Key"
	GroupDSBlob      Group = "Plugin_DS_Blob"
	GroupDSAdapt     Group = "Plugin_DS_Adapt"
	GroupUI          Group = "Plugin_UI"

	// Legacy group keys retained only for the compat-flag bridging path.
	GroupDSDataOld1 Group = "DS_Data_OLD1"
	GroupDSDataOld2 Group = "DS_Data_OLD2"
	GroupDSBlobOld1 Group = "DS_Blob_OLD1"
	GroupDSBlobOld2 Group = "DS_Blob_OLD2"
)

// ModulePlugin is the subset of the plugin surface bound at module scope:
// creating/destroying the module context and reporting version/capability
// information (§4.B "Start"/"Module" groups).
type ModulePlugin interface {
	CreateContext(ctx context.Context, moduleName, subName string) (ContextID, error)
	Version(ctx context.Context, mc ContextID) (int, error)
	Capabilities(ctx context.Context, mc ContextID) (string, error)
	PluginParams(ctx context.Context, mc ContextID, configName, configData string) error
	// DisposeObj releases a buffer this plugin returned at module scope
	// (currently only Capabilities), per §6 "out-strings ... must be freed
	// by calling the plugin's DisposeObj with the owning context".
	DisposeObj(ctx context.Context, mc ContextID, value interface{}) error
	DeleteContext(ctx context.Context, mc ContextID) error
}

// SessionPlugin is the session-scoped surface (§4.B "Session").
type SessionPlugin interface {
	CreateContext(ctx context.Context, mc ContextID, sessionName string) (ContextID, error)
	Login(ctx context.Context, sc ContextID, username string) (password, key string, err error)
	Logout(ctx context.Context, sc ContextID) error
	ThreadMayChangeNow(ctx context.Context, sc ContextID) error
	DisposeObj(ctx context.Context, sc ContextID, value interface{}) error
	DeleteContext(ctx context.Context, sc ContextID) error
}

// DatastorePlugin is the datastore-scoped surface: the read/write state
// machine, admin data, map table, and BLOB streaming (§4.B "Datastore").
// Every method here is optional at the Go interface level in the sense that
// a no-op default is wired whenever the concrete plugin does not supply it
// (via NewDefaultTable); a real plugin embeds BaseDatastorePlugin and
// overrides only what it implements, matching the codebase's
// embed-the-base-struct idiom.
type DatastorePlugin interface {
	CreateContext(ctx context.Context, mc, sc ContextID, dbName, devKey, userKey string, adminMode bool) (ContextID, error)
	DeleteContext(ctx context.Context, dc ContextID) error
	ThreadMayChangeNow(ctx context.Context, dc ContextID) error

	LoadAdminData(ctx context.Context, dc ContextID, localDB, remoteDB string) (string, error)
	SaveAdminData(ctx context.Context, dc ContextID, data string) error

	ReadNextMapItem(ctx context.Context, dc ContextID, first bool) (MapRecord, bool, error)
	InsertMapItem(ctx context.Context, dc ContextID, m MapRecord) error
	UpdateMapItem(ctx context.Context, dc ContextID, m MapRecord) error
	DeleteMapItem(ctx context.Context, dc ContextID, m MapRecord) error

	StartDataRead(ctx context.Context, dc ContextID, lastToken, resumeToken Token) error
	ReadNextItem(ctx context.Context, dc ContextID, first bool) (id ItemID, data string, status ReadStatus, err error)
	ReadItem(ctx context.Context, dc ContextID, id ItemID) (data string, err error)
	EndDataRead(ctx context.Context, dc ContextID) error

	StartDataWrite(ctx context.Context, dc ContextID) error
	InsertItem(ctx context.Context, dc ContextID, data string, parent string) (newID string, status dbapierr.Status, err error)
	UpdateItem(ctx context.Context, dc ContextID, id ItemID, data string) (newID string, status dbapierr.Status, err error)
	DeleteItem(ctx context.Context, dc ContextID, id ItemID) error
	MoveItem(ctx context.Context, dc ContextID, id ItemID, newParent string) error
	FinalizeLocalID(ctx context.Context, dc ContextID, id ItemID) error
	DeleteSyncSet(ctx context.Context, dc ContextID) error
	EndDataWrite(ctx context.Context, dc ContextID, success bool) (newToken Token, err error)

	ReadBlob(ctx context.Context, dc ContextID, id ItemID, blobID string, blockSize int, first bool) (chunk BlobChunk, err error)
	WriteBlob(ctx context.Context, dc ContextID, id ItemID, blobID string, chunk BlobChunk) error
	DeleteBlob(ctx context.Context, dc ContextID, id ItemID, blobID string) error

	// DisposeObj releases a buffer this plugin returned at datastore scope
	// (LoadAdminData, ReadItem/ReadNextItem data, ReadBlob chunks), per §6
	// and §4.E. value is whatever the matching accessor returned; plugins
	// that hold no non-GC resource behind returned strings treat this as a
	// no-op, which is what the default table and the reference backup
	// datastore both do.
	DisposeObj(ctx context.Context, dc ContextID, value interface{}) error
}

// Table is the resolved method table for one loaded plugin binding: the
// three interfaces above, each possibly the engine-supplied no-op default
// when the negotiated capability string did not enable that group (§4.B).
type Table struct {
	Module    ModulePlugin
	Session   SessionPlugin
	Datastore DatastorePlugin

	// Enabled records which groups were successfully wired by the
	// capability negotiator, for diagnostics and tests.
	Enabled map[Group]bool
}

// NewDefaultTable returns a Table whose every slot is the safe no-op
// default, guaranteeing (§4.B) "every slot is initialised to a no-op
// default at table creation". The capability negotiator (§4.C) then
// overwrites Module/Session/Datastore wholesale once it resolves a real
// plugin implementation for that scope, or leaves the default in place
// group-by-group is not meaningful at the Go-interface granularity chosen
// here: a plugin either implements a scope or it doesn't, and
// capability.Negotiate decides per-group whether the features within that
// scope are exposed to the engine at all (tracked in Enabled).
func NewDefaultTable() *Table {
	return &Table{
		Module:    defaultModule{},
		Session:   defaultSession{},
		Datastore: defaultDatastore{},
		Enabled:   make(map[Group]bool),
	}
}

type defaultModule struct{}

func (defaultModule) CreateContext(context.Context, string, string) (ContextID, error) {
	return ContextID{}, dbapierr.New(dbapierr.NotFound, "module plugin not implemented")
}
func (defaultModule) Version(context.Context, ContextID) (int, error) { return 0, nil }
func (defaultModule) Capabilities(context.Context, ContextID) (string, error) {
	return "", nil
}
func (defaultModule) PluginParams(context.Context, ContextID, string, string) error { return nil }
func (defaultModule) DisposeObj(context.Context, ContextID, interface{}) error      { return nil }
func (defaultModule) DeleteContext(context.Context, ContextID) error                { return nil }

type defaultSession struct{}

func (defaultSession) CreateContext(context.Context, ContextID, string) (ContextID, error) {
	return ContextID{}, dbapierr.New(dbapierr.NotFound, "session plugin not implemented")
}
func (defaultSession) Login(context.Context, ContextID, string) (string, string, error) {
	return "", "", nil
}
func (defaultSession) Logout(context.Context, ContextID) error                  { return nil }
func (defaultSession) ThreadMayChangeNow(context.Context, ContextID) error      { return nil }
func (defaultSession) DisposeObj(context.Context, ContextID, interface{}) error { return nil }
func (defaultSession) DeleteContext(context.Context, ContextID) error          { return nil }

type defaultDatastore struct{}

func (defaultDatastore) CreateContext(context.Context, ContextID, ContextID, string, string, string, bool) (ContextID, error) {
	return ContextID{}, dbapierr.New(dbapierr.NotFound, "datastore plugin not implemented")
}
func (defaultDatastore) DeleteContext(context.Context, ContextID) error           { return nil }
func (defaultDatastore) ThreadMayChangeNow(context.Context, ContextID) error      { return nil }
func (defaultDatastore) LoadAdminData(context.Context, ContextID, string, string) (string, error) {
	return "", nil
}
func (defaultDatastore) SaveAdminData(context.Context, ContextID, string) error { return nil }
func (defaultDatastore) ReadNextMapItem(context.Context, ContextID, bool) (MapRecord, bool, error) {
	return MapRecord{}, false, nil
}
func (defaultDatastore) InsertMapItem(context.Context, ContextID, MapRecord) error {
	return dbapierr.New(dbapierr.NotImplemented, "map table not implemented")
}
func (defaultDatastore) UpdateMapItem(context.Context, ContextID, MapRecord) error {
	return dbapierr.New(dbapierr.NotImplemented, "map table not implemented")
}
func (defaultDatastore) DeleteMapItem(context.Context, ContextID, MapRecord) error {
	return dbapierr.New(dbapierr.NotImplemented, "map table not implemented")
}
func (defaultDatastore) StartDataRead(context.Context, ContextID, Token, Token) error { return nil }
func (defaultDatastore) ReadNextItem(context.Context, ContextID, bool) (ItemID, string, ReadStatus, error) {
	return ItemID{}, "", Eof, nil
}
func (defaultDatastore) ReadItem(context.Context, ContextID, ItemID) (string, error) {
	return "", dbapierr.New(dbapierr.NotFound, "item not found")
}
func (defaultDatastore) EndDataRead(context.Context, ContextID) error  { return nil }
func (defaultDatastore) StartDataWrite(context.Context, ContextID) error { return nil }
func (defaultDatastore) InsertItem(context.Context, ContextID, string, string) (string, dbapierr.Status, error) {
	return "", dbapierr.Forbidden, dbapierr.New(dbapierr.Forbidden, "write not implemented")
}
func (defaultDatastore) UpdateItem(context.Context, ContextID, ItemID, string) (string, dbapierr.Status, error) {
	return "", dbapierr.Forbidden, dbapierr.New(dbapierr.Forbidden, "write not implemented")
}
func (defaultDatastore) DeleteItem(context.Context, ContextID, ItemID) error { return nil }
func (defaultDatastore) MoveItem(context.Context, ContextID, ItemID, string) error {
	return dbapierr.New(dbapierr.NotImplemented, "move not implemented")
}
func (defaultDatastore) FinalizeLocalID(context.Context, ContextID, ItemID) error { return nil }
func (defaultDatastore) DeleteSyncSet(context.Context, ContextID) error          { return nil }
func (defaultDatastore) EndDataWrite(context.Context, ContextID, bool) (Token, error) {
	return "", nil
}
func (defaultDatastore) ReadBlob(context.Context, ContextID, ItemID, string, int, bool) (BlobChunk, error) {
	return BlobChunk{}, dbapierr.New(dbapierr.NotImplemented, "blob not implemented")
}
func (defaultDatastore) WriteBlob(context.Context, ContextID, ItemID, string, BlobChunk) error {
	return dbapierr.New(dbapierr.NotImplemented, "blob not implemented")
}
func (defaultDatastore) DeleteBlob(context.Context, ContextID, ItemID, string) error { return nil }
func (defaultDatastore) DisposeObj(context.Context, ContextID, interface{}) error    { return nil }
