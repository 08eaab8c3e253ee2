package mapstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
	"github.com/streamspace-dev/syncml-dbapi/internal/logger"
)

// Config holds the connection parameters and pool tuning for the
// SQL-backed Store, mirroring the codebase's own Postgres connection-pool
// conventions (internal/db/database.go: 25 max open / 5 max idle / 5min
// lifetime) rather than leaving the pool untuned.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// withDefaults fills in the codebase's own pool-tuning defaults for any
// zero field.
func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	return c
}

// SQLStore is a Postgres-backed Store (§11.2), keyed by
// (device_key, user_key, datastore_name, local_id, ident) for map records
// and (device_key, user_key, datastore_name, local_db, remote_db) for admin
// blobs.
type SQLStore struct {
	db *sql.DB

	// cursorMu/cursors track a per-scope read position for
	// ReadNextMapItem's first/next protocol (§4.G). §5 guarantees the
	// engine never drives two concurrent iterations over the same scope,
	// so a simple index re-queried each call is sufficient and keeps this
	// reference backend independent of any server-side cursor feature.
	cursorMu sync.Mutex
	cursors  map[Scope]int
}

// Open connects to Postgres per cfg, applies the pool tuning, ensures the
// two backing tables exist, and pings the connection — the same sequence
// NewDatabase follows (validate, open, tune pool, ping).
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, dbapierr.Wrap(dbapierr.Error, "sqlstore: open failed", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return nil, dbapierr.Wrap(dbapierr.Error, "sqlstore: ping failed", err)
	}

	s := &SQLStore{db: db, cursors: make(map[Scope]int)}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	logger.MapStore().Debug().Str("backend", "sql").Msg("map store connected")
	return s, nil
}

// NewFromDB wraps an already-open *sql.DB, for dependency injection in
// tests (mirroring NewDatabaseForTesting's sqlmock-friendly constructor).
func NewFromDB(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, cursors: make(map[Scope]int)}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS map_records (
	device_key     TEXT NOT NULL,
	user_key       TEXT NOT NULL,
	datastore_name TEXT NOT NULL,
	local_id       TEXT NOT NULL,
	ident          SMALLINT NOT NULL,
	remote_id      TEXT NOT NULL,
	flags          INTEGER NOT NULL,
	PRIMARY KEY (device_key, user_key, datastore_name, local_id, ident)
);
CREATE TABLE IF NOT EXISTS admin_blobs (
	device_key     TEXT NOT NULL,
	user_key       TEXT NOT NULL,
	datastore_name TEXT NOT NULL,
	local_db       TEXT NOT NULL,
	remote_db      TEXT NOT NULL,
	data           TEXT NOT NULL,
	PRIMARY KEY (device_key, user_key, datastore_name, local_db, remote_db)
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return dbapierr.Wrap(dbapierr.Error, "sqlstore: migrate failed", err)
	}
	return nil
}

// ReadNextMapItem re-issues the full sorted query on every call and walks
// it with a per-scope index (reset on first=true), giving §4.G's
// first/next iteration protocol a stable order without a server-side
// cursor — cheap enough for the map table's expected size, and simpler
// than keeping a live *sql.Rows open across calls that may interleave with
// other map-table writes.
func (s *SQLStore) ReadNextMapItem(ctx context.Context, scope Scope, first bool) (dbapi.MapRecord, bool, error) {
	s.cursorMu.Lock()
	if first {
		s.cursors[scope] = 0
	}
	idx := s.cursors[scope]
	s.cursorMu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT local_id, remote_id, flags, ident FROM map_records
		 WHERE device_key=$1 AND user_key=$2 AND datastore_name=$3
		 ORDER BY local_id, ident`,
		scope.DeviceKey, scope.UserKey, scope.Datastore)
	if err != nil {
		return dbapi.MapRecord{}, false, dbapierr.Wrap(dbapierr.Error, "sqlstore: query map_records failed", err)
	}
	defer rows.Close()

	var rec dbapi.MapRecord
	found := false
	for i := 0; rows.Next(); i++ {
		if i != idx {
			continue
		}
		var flags int32
		var ident int16
		if err := rows.Scan(&rec.LocalID, &rec.RemoteID, &flags, &ident); err != nil {
			return dbapi.MapRecord{}, false, dbapierr.Wrap(dbapierr.Error, "sqlstore: scan map_records failed", err)
		}
		rec.Flags = uint16(flags)
		rec.Ident = uint8(ident)
		found = true
		break
	}
	if !found {
		return dbapi.MapRecord{}, false, nil
	}

	s.cursorMu.Lock()
	s.cursors[scope] = idx + 1
	s.cursorMu.Unlock()
	return rec, true, nil
}

func (s *SQLStore) InsertMapItem(ctx context.Context, scope Scope, rec dbapi.MapRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO map_records (device_key, user_key, datastore_name, local_id, ident, remote_id, flags)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		scope.DeviceKey, scope.UserKey, scope.Datastore, rec.LocalID, rec.Ident, rec.RemoteID, rec.Flags)
	if err != nil {
		return dbapierr.New(dbapierr.Error, fmt.Sprintf("sqlstore: map record (%s,%d) already exists: %v", rec.LocalID, rec.Ident, err))
	}
	return nil
}

func (s *SQLStore) UpdateMapItem(ctx context.Context, scope Scope, rec dbapi.MapRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE map_records SET remote_id=$1, flags=$2
		 WHERE device_key=$3 AND user_key=$4 AND datastore_name=$5 AND local_id=$6 AND ident=$7`,
		rec.RemoteID, rec.Flags, scope.DeviceKey, scope.UserKey, scope.Datastore, rec.LocalID, rec.Ident)
	if err != nil {
		return dbapierr.Wrap(dbapierr.Error, "sqlstore: update map_records failed", err)
	}
	return requireRowsAffected(res)
}

func (s *SQLStore) DeleteMapItem(ctx context.Context, scope Scope, rec dbapi.MapRecord) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM map_records WHERE device_key=$1 AND user_key=$2 AND datastore_name=$3 AND local_id=$4 AND ident=$5`,
		scope.DeviceKey, scope.UserKey, scope.Datastore, rec.LocalID, rec.Ident)
	if err != nil {
		return dbapierr.Wrap(dbapierr.Error, "sqlstore: delete map_records failed", err)
	}
	return requireRowsAffected(res)
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbapierr.Wrap(dbapierr.Error, "sqlstore: rows affected failed", err)
	}
	if n == 0 {
		return dbapierr.New(dbapierr.NotFound, "sqlstore: no matching map record")
	}
	return nil
}

func (s *SQLStore) LoadAdminData(ctx context.Context, scope Scope, localDB, remoteDB string) (string, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM admin_blobs WHERE device_key=$1 AND user_key=$2 AND datastore_name=$3 AND local_db=$4 AND remote_db=$5`,
		scope.DeviceKey, scope.UserKey, scope.Datastore, localDB, remoteDB).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", dbapierr.Wrap(dbapierr.Error, "sqlstore: load admin data failed", err)
	}
	return data, nil
}

func (s *SQLStore) SaveAdminData(ctx context.Context, scope Scope, localDB, remoteDB, data string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_blobs (device_key, user_key, datastore_name, local_db, remote_db, data)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (device_key, user_key, datastore_name, local_db, remote_db)
		 DO UPDATE SET data = EXCLUDED.data`,
		scope.DeviceKey, scope.UserKey, scope.Datastore, localDB, remoteDB, data)
	if err != nil {
		return dbapierr.Wrap(dbapierr.Error, "sqlstore: save admin data failed", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }
