package mapstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
	"github.com/streamspace-dev/syncml-dbapi/internal/logger"
)

// RedisConfig configures the Redis-backed Store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore implements Store over a single redis.Client, demonstrating
// the map-table contract is equally satisfiable by a non-relational
// low-latency store — a realistic choice for the high-churn map table of a
// busy sync server (SPEC_FULL.md §11.2). Map records live as hash entries
// under "mapstore:{device}:{user}:{datastore}"; the admin blob is a sibling
// string key.
type RedisStore struct {
	client *redis.Client

	cursorMu sync.Mutex
	cursors  map[Scope]int
}

// NewRedisStore dials cfg.Addr and returns a ready Store.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	logger.MapStore().Debug().Str("backend", "redis").Str("addr", cfg.Addr).Msg("map store connected")
	return &RedisStore{client: client, cursors: make(map[Scope]int)}
}

func mapHashKey(scope Scope) string {
	return fmt.Sprintf("mapstore:%s:%s:%s", scope.DeviceKey, scope.UserKey, scope.Datastore)
}

func adminKey(scope Scope, localDB, remoteDB string) string {
	return fmt.Sprintf("mapstore:%s:%s:%s:admin:%s:%s", scope.DeviceKey, scope.UserKey, scope.Datastore, localDB, remoteDB)
}

func mapField(localID string, ident uint8) string {
	return fmt.Sprintf("%s\x1f%d", localID, ident)
}

// redisRecord is the JSON shape stored in each hash field; the field name
// already carries (localID, ident), so the value only needs remoteID and
// flags.
type redisRecord struct {
	RemoteID string `json:"remoteId"`
	Flags    uint16 `json:"flags"`
}

// ReadNextMapItem sorts the hash's field names for a deterministic order
// (Redis hash iteration order is not itself stable across calls) and walks
// them with a per-scope index, mirroring SQLStore's first/next protocol.
func (s *RedisStore) ReadNextMapItem(ctx context.Context, scope Scope, first bool) (dbapi.MapRecord, bool, error) {
	all, err := s.client.HGetAll(ctx, mapHashKey(scope)).Result()
	if err != nil {
		return dbapi.MapRecord{}, false, dbapierr.Wrap(dbapierr.Error, "redisstore: HGetAll failed", err)
	}
	if len(all) == 0 {
		return dbapi.MapRecord{}, false, nil
	}

	fields := make([]string, 0, len(all))
	for f := range all {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	s.cursorMu.Lock()
	if first {
		s.cursors[scope] = 0
	}
	idx := s.cursors[scope]
	s.cursorMu.Unlock()

	if idx >= len(fields) {
		return dbapi.MapRecord{}, false, nil
	}

	s.cursorMu.Lock()
	s.cursors[scope] = idx + 1
	s.cursorMu.Unlock()

	field := fields[idx]
	return decodeMapField(field, all[field])
}

func decodeMapField(field, raw string) (dbapi.MapRecord, bool, error) {
	sep := strings.IndexByte(field, '\x1f')
	if sep < 0 {
		return dbapi.MapRecord{}, false, dbapierr.New(dbapierr.Error, "redisstore: malformed field")
	}
	localID := field[:sep]
	n, err := strconv.ParseUint(field[sep+1:], 10, 8)
	if err != nil {
		return dbapi.MapRecord{}, false, dbapierr.New(dbapierr.Error, "redisstore: malformed field ident")
	}
	ident := uint8(n)

	var rec redisRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return dbapi.MapRecord{}, false, dbapierr.Wrap(dbapierr.Error, "redisstore: decode record failed", err)
	}
	return dbapi.MapRecord{LocalID: localID, RemoteID: rec.RemoteID, Flags: rec.Flags, Ident: ident}, true, nil
}

func (s *RedisStore) InsertMapItem(ctx context.Context, scope Scope, rec dbapi.MapRecord) error {
	field := mapField(rec.LocalID, rec.Ident)
	existed, err := s.client.HExists(ctx, mapHashKey(scope), field).Result()
	if err != nil {
		return dbapierr.Wrap(dbapierr.Error, "redisstore: HExists failed", err)
	}
	if existed {
		return dbapierr.New(dbapierr.Error, "redisstore: map record already exists")
	}
	return s.writeField(ctx, scope, rec)
}

func (s *RedisStore) UpdateMapItem(ctx context.Context, scope Scope, rec dbapi.MapRecord) error {
	field := mapField(rec.LocalID, rec.Ident)
	existed, err := s.client.HExists(ctx, mapHashKey(scope), field).Result()
	if err != nil {
		return dbapierr.Wrap(dbapierr.Error, "redisstore: HExists failed", err)
	}
	if !existed {
		return dbapierr.New(dbapierr.NotFound, "redisstore: no matching map record")
	}
	return s.writeField(ctx, scope, rec)
}

func (s *RedisStore) writeField(ctx context.Context, scope Scope, rec dbapi.MapRecord) error {
	payload, err := json.Marshal(redisRecord{RemoteID: rec.RemoteID, Flags: rec.Flags})
	if err != nil {
		return dbapierr.Wrap(dbapierr.Error, "redisstore: encode record failed", err)
	}
	if err := s.client.HSet(ctx, mapHashKey(scope), mapField(rec.LocalID, rec.Ident), payload).Err(); err != nil {
		return dbapierr.Wrap(dbapierr.Error, "redisstore: HSet failed", err)
	}
	return nil
}

func (s *RedisStore) DeleteMapItem(ctx context.Context, scope Scope, rec dbapi.MapRecord) error {
	field := mapField(rec.LocalID, rec.Ident)
	n, err := s.client.HDel(ctx, mapHashKey(scope), field).Result()
	if err != nil {
		return dbapierr.Wrap(dbapierr.Error, "redisstore: HDel failed", err)
	}
	if n == 0 {
		return dbapierr.New(dbapierr.NotFound, "redisstore: no matching map record")
	}
	return nil
}

func (s *RedisStore) LoadAdminData(ctx context.Context, scope Scope, localDB, remoteDB string) (string, error) {
	data, err := s.client.Get(ctx, adminKey(scope, localDB, remoteDB)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", dbapierr.Wrap(dbapierr.Error, "redisstore: Get admin blob failed", err)
	}
	return data, nil
}

func (s *RedisStore) SaveAdminData(ctx context.Context, scope Scope, localDB, remoteDB, data string) error {
	if err := s.client.Set(ctx, adminKey(scope, localDB, remoteDB), data, 0).Err(); err != nil {
		return dbapierr.Wrap(dbapierr.Error, "redisstore: Set admin blob failed", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }
