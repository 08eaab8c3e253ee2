// Package backup implements the reference Backup Datastore (§4.I): a
// complete plugin backed by tab-separated files, one triple of
// (data, map, admin) files per (user, datastore) pair, exercising every
// branch of the §4.F state machine — which is why the test suite is built
// against it.
package backup

// FlushMode controls when the backing files are synced to disk, mirroring
// §5's file-locking note ("guarded by a per-file mutex around every
// fopen/close cycle when the flush mode is open-close; otherwise the
// engine serialises via context affinity").
type FlushMode int

const (
	// FlushOpenClose re-opens and rewrites the backing file on every
	// mutation, maximizing durability at the cost of I/O.
	FlushOpenClose FlushMode = iota
	// FlushOnClose batches item and blob mutations in memory and rewrites
	// those files at a successful EndDataWrite and when the owning
	// datastore context is deleted, relying on the engine's
	// context-affinity serialization (§5) for safety. The map and admin
	// files are rewritten on every mutation in either mode.
	FlushOnClose
)

// Config is the reference datastore's file root and flush mode (§10.3
// backup.Config).
type Config struct {
	BaseDir   string
	FlushMode FlushMode
}
