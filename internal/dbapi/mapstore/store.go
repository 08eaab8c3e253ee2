// Package mapstore defines the Map Table & Admin Storage contract (§4.G):
// per-(device,user,datastore) sync anchors and local↔remote id maps, kept
// storage-independent so the datastore state machine (§4.F) can run against
// any of the concrete backends in this package (SQL, Redis) or the
// file-backed one in the backup package (§4.I).
package mapstore

import (
	"context"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
)

// Store is the §4.G contract. Every method is scoped to one
// (device, user, datastore) triple, passed explicitly rather than bound at
// construction time so a single backend instance can serve many datastores
// concurrently (§5 "multiple contexts ... MAY be operated concurrently and
// WILL share module-level state").
type Store interface {
	// ReadNextMapItem iterates the whole map table for the given scope. An
	// implementation may return records in any stable order but MUST
	// produce the same sequence given no intervening writes (§4.G, §8
	// property 5).
	ReadNextMapItem(ctx context.Context, scope Scope, first bool) (dbapi.MapRecord, bool, error)

	// InsertMapItem fails with dbapierr.Error if a record with the same
	// (localID, ident) already exists (§4.G).
	InsertMapItem(ctx context.Context, scope Scope, rec dbapi.MapRecord) error

	// UpdateMapItem fails with dbapierr.NotFound if no record matches
	// (localID, ident) (§4.G).
	UpdateMapItem(ctx context.Context, scope Scope, rec dbapi.MapRecord) error

	// DeleteMapItem uses the same (localID, ident) matching rule as Update.
	DeleteMapItem(ctx context.Context, scope Scope, rec dbapi.MapRecord) error

	// LoadAdminData returns the opaque admin blob for (localDB, remoteDB)
	// within scope, read at session start (§3 Admin Blob).
	LoadAdminData(ctx context.Context, scope Scope, localDB, remoteDB string) (string, error)

	// SaveAdminData writes the admin blob back at session end.
	SaveAdminData(ctx context.Context, scope Scope, localDB, remoteDB, data string) error
}

// Scope identifies the (device, user, datastore) triple a Store operation
// is scoped to, per §4.G "A per-(device, user, datastore) backing store".
type Scope struct {
	DeviceKey string
	UserKey   string
	Datastore string
}
