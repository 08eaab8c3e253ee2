package backup

import (
	"context"
	"fmt"
	"sync"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi/mapstore"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
	"github.com/streamspace-dev/syncml-dbapi/internal/logger"
)

// mapHeader/adminHeader are the fixed TSV schemas for the two side-by-side
// files §4.I specifies ("Stored side-by-side with map records in a
// per-(device,user,datastore) file or record").
var mapHeader = []string{"localID", "ident", "remoteID", "flags"}
var adminHeader = []string{"localDB", "remoteDB", "data"}

// FileStore is the file-backed mapstore.Store (§11.2's default backend,
// also the one the test suite exercises end-to-end): one TSV file per
// scope for map records, one for the admin blob, loaded fully into memory
// on each access and rewritten whole-file on every mutation (§6 "Saving is
// whole-file rewrite").
type FileStore struct {
	baseDir string

	mu      sync.Mutex
	cursors map[mapstore.Scope]int
}

// NewFileStore roots every scope's files under baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir, cursors: make(map[mapstore.Scope]int)}
}

func scopeComponent(scope mapstore.Scope) (string, error) {
	for _, c := range []string{scope.DeviceKey, scope.UserKey, scope.Datastore} {
		if err := checkComponent(c); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s__%s__%s", scope.DeviceKey, scope.UserKey, scope.Datastore), nil
}

func checkComponent(s string) error {
	for _, r := range s {
		if r == '/' || r == '\\' {
			return dbapierr.Newf(dbapierr.Error, "backup: invalid path component %q", s)
		}
	}
	return nil
}

func (fs *FileStore) mapPath(scope mapstore.Scope) (string, error) {
	comp, err := scopeComponent(scope)
	if err != nil {
		return "", err
	}
	return validatePath(fs.baseDir, comp+".map.tsv")
}

func (fs *FileStore) adminPath(scope mapstore.Scope) (string, error) {
	comp, err := scopeComponent(scope)
	if err != nil {
		return "", err
	}
	return validatePath(fs.baseDir, comp+".admin.tsv")
}

func (fs *FileStore) loadMap(scope mapstore.Scope) ([]dbapi.MapRecord, error) {
	path, err := fs.mapPath(scope)
	if err != nil {
		return nil, err
	}
	header, rows, err := readRecords(path)
	if err != nil {
		return nil, dbapierr.Wrap(dbapierr.Error, "backup: read map file failed", err)
	}
	if header == nil {
		header = mapHeader
	}
	localIdx := headerIndex(header, "localID")
	identIdx := headerIndex(header, "ident")
	remoteIdx := headerIndex(header, "remoteID")
	flagsIdx := headerIndex(header, "flags")

	recs := make([]dbapi.MapRecord, 0, len(rows))
	for _, row := range rows {
		var ident, flags int
		fmt.Sscanf(field(row, identIdx), "%d", &ident)
		fmt.Sscanf(field(row, flagsIdx), "%d", &flags)
		recs = append(recs, dbapi.MapRecord{
			LocalID:  unescapeField(field(row, localIdx)),
			RemoteID: unescapeField(field(row, remoteIdx)),
			Flags:    uint16(flags),
			Ident:    uint8(ident),
		})
	}
	return recs, nil
}

func (fs *FileStore) saveMap(scope mapstore.Scope, recs []dbapi.MapRecord) error {
	path, err := fs.mapPath(scope)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			escapeField(r.LocalID),
			fmt.Sprintf("%d", r.Ident),
			escapeField(r.RemoteID),
			fmt.Sprintf("%d", r.Flags),
		})
	}
	if err := writeRecords(path, mapHeader, rows); err != nil {
		return dbapierr.Wrap(dbapierr.Error, "backup: write map file failed", err)
	}
	return nil
}

func (fs *FileStore) ReadNextMapItem(ctx context.Context, scope mapstore.Scope, first bool) (dbapi.MapRecord, bool, error) {
	recs, err := fs.loadMap(scope)
	if err != nil {
		return dbapi.MapRecord{}, false, err
	}

	fs.mu.Lock()
	if first {
		fs.cursors[scope] = 0
	}
	idx := fs.cursors[scope]
	fs.mu.Unlock()

	if idx >= len(recs) {
		return dbapi.MapRecord{}, false, nil
	}

	fs.mu.Lock()
	fs.cursors[scope] = idx + 1
	fs.mu.Unlock()
	return recs[idx], true, nil
}

func (fs *FileStore) InsertMapItem(ctx context.Context, scope mapstore.Scope, rec dbapi.MapRecord) error {
	recs, err := fs.loadMap(scope)
	if err != nil {
		return err
	}
	for _, existing := range recs {
		if existing.Key() == rec.Key() {
			return dbapierr.Newf(dbapierr.Error, "backup: map record (%s,%d) already exists", rec.LocalID, rec.Ident)
		}
	}
	recs = append(recs, rec)
	return fs.saveMap(scope, recs)
}

func (fs *FileStore) UpdateMapItem(ctx context.Context, scope mapstore.Scope, rec dbapi.MapRecord) error {
	recs, err := fs.loadMap(scope)
	if err != nil {
		return err
	}
	for i, existing := range recs {
		if existing.Key() == rec.Key() {
			recs[i] = rec
			return fs.saveMap(scope, recs)
		}
	}
	return dbapierr.New(dbapierr.NotFound, "backup: no matching map record")
}

func (fs *FileStore) DeleteMapItem(ctx context.Context, scope mapstore.Scope, rec dbapi.MapRecord) error {
	recs, err := fs.loadMap(scope)
	if err != nil {
		return err
	}
	for i, existing := range recs {
		if existing.Key() == rec.Key() {
			recs = append(recs[:i], recs[i+1:]...)
			return fs.saveMap(scope, recs)
		}
	}
	return dbapierr.New(dbapierr.NotFound, "backup: no matching map record")
}

func (fs *FileStore) LoadAdminData(ctx context.Context, scope mapstore.Scope, localDB, remoteDB string) (string, error) {
	path, err := fs.adminPath(scope)
	if err != nil {
		return "", err
	}
	header, rows, err := readRecords(path)
	if err != nil {
		return "", dbapierr.Wrap(dbapierr.Error, "backup: read admin file failed", err)
	}
	if header == nil {
		return "", nil
	}
	localIdx := headerIndex(header, "localDB")
	remoteIdx := headerIndex(header, "remoteDB")
	dataIdx := headerIndex(header, "data")
	for _, row := range rows {
		if field(row, localIdx) == escapeField(localDB) && field(row, remoteIdx) == escapeField(remoteDB) {
			return unescapeField(field(row, dataIdx)), nil
		}
	}
	return "", nil
}

func (fs *FileStore) SaveAdminData(ctx context.Context, scope mapstore.Scope, localDB, remoteDB, data string) error {
	path, err := fs.adminPath(scope)
	if err != nil {
		return err
	}
	_, rows, err := readRecords(path)
	if err != nil {
		return dbapierr.Wrap(dbapierr.Error, "backup: read admin file failed", err)
	}

	localIdx, remoteIdx, dataIdx := 0, 1, 2
	replaced := false
	for i, row := range rows {
		if field(row, localIdx) == escapeField(localDB) && field(row, remoteIdx) == escapeField(remoteDB) {
			rows[i][dataIdx] = escapeField(data)
			replaced = true
			break
		}
	}
	if !replaced {
		rows = append(rows, []string{escapeField(localDB), escapeField(remoteDB), escapeField(data)})
	}
	if err := writeRecords(path, adminHeader, rows); err != nil {
		return dbapierr.Wrap(dbapierr.Error, "backup: write admin file failed", err)
	}
	logger.Backup().Debug().Str("localDB", localDB).Str("remoteDB", remoteDB).Msg("admin data saved")
	return nil
}
