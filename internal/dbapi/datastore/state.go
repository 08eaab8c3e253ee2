// Package datastore drives the Datastore State Machine (§4.F): the
// read/write sync cycle a SyncML engine runs against a plugin's
// DatastorePlugin surface, enforcing the Closed → Open → Reading/Writing →
// Open → Closed transition table and the token/resume bookkeeping that
// goes with it.
package datastore

import (
	gocontext "context"
	"sync"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	dbcontext "github.com/streamspace-dev/syncml-dbapi/internal/dbapi/context"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
	"github.com/streamspace-dev/syncml-dbapi/internal/logger"
)

// Phase is one node of §4.F's state table.
type Phase int

const (
	Closed Phase = iota
	Open
	Reading
	Writing
)

func (p Phase) String() string {
	switch p {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case Reading:
		return "Reading"
	case Writing:
		return "Writing"
	default:
		return "Unknown"
	}
}

// Session wraps a live DatastoreHandle with the phase-transition guard rail
// §4.F requires: every entry point checks the current phase before issuing
// the corresponding plugin call, and transitions on success. One Session
// drives exactly one DatastoreHandle; per §5 a single datastore context is
// not required to be thread-safe, so Session serialises its own calls with
// a mutex rather than relying on callers to do so.
type Session struct {
	Handle *dbcontext.DatastoreHandle
	Table  dbapi.DatastorePlugin

	mu        sync.Mutex
	phase     Phase
	lastToken dbapi.Token
	resumeTok dbapi.Token
}

// NewSession wraps an already-created DatastoreHandle (§4.D "Open" entry
// point is CreateContext, which the context package already performed) in a
// Session, starting in the Open phase.
func NewSession(handle *dbcontext.DatastoreHandle, table dbapi.DatastorePlugin) *Session {
	return &Session{Handle: handle, Table: table, phase: Open}
}

// Phase reports the session's current state, for diagnostics and tests.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) require(want Phase) error {
	if s.phase != want {
		return dbapierr.Newf(dbapierr.Forbidden, "datastore %s: operation requires phase %s, have %s", s.Handle.ID, want, s.phase)
	}
	return nil
}

// StartDataRead transitions Open → Reading (§4.F). Both tokens are opaque;
// resumeToken is empty on a fresh sync.
func (s *Session) StartDataRead(ctx gocontext.Context, lastToken, resumeToken dbapi.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Open); err != nil {
		return err
	}
	if err := s.Table.StartDataRead(ctx, s.Handle.ID, lastToken, resumeToken); err != nil {
		return err
	}
	s.lastToken = lastToken
	s.resumeTok = resumeToken
	s.phase = Reading
	logger.Datastore().Debug().Str("datastore", s.Handle.ID.String()).Str("lastToken", string(lastToken)).Str("resumeToken", string(resumeToken)).Msg("StartDataRead")
	return nil
}

// ReadNextItem iterates the read set (§4.F "Reading → Reading"). first
// resets the iterator; the returned status is derived by the plugin itself,
// but a Session built over a plugin that only returns raw tokens can have
// its status re-derived via dbapi.Classify if needed by a caller that wants
// to double-check plugin-reported classification against §4.F's rule.
func (s *Session) ReadNextItem(ctx gocontext.Context, first bool) (dbapi.ItemID, string, dbapi.ReadStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Reading); err != nil {
		return dbapi.ItemID{}, "", dbapi.Eof, err
	}
	return s.Table.ReadNextItem(ctx, s.Handle.ID, first)
}

// ReadItem performs random-access read by id inside the current iteration
// (§4.F "Reading | ReadItem / ReadItemAsKey / ReadBlob").
func (s *Session) ReadItem(ctx gocontext.Context, id dbapi.ItemID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Reading); err != nil {
		return "", err
	}
	return s.Table.ReadItem(ctx, s.Handle.ID, id)
}

// EndDataRead transitions Reading → Open.
func (s *Session) EndDataRead(ctx gocontext.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Reading); err != nil {
		return err
	}
	err := s.Table.EndDataRead(ctx, s.Handle.ID)
	s.phase = Open
	return err
}

// StartDataWrite transitions Open → Writing.
func (s *Session) StartDataWrite(ctx gocontext.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Open); err != nil {
		return err
	}
	if err := s.Table.StartDataWrite(ctx, s.Handle.ID); err != nil {
		return err
	}
	s.phase = Writing
	return nil
}

// InsertItem performs an insert during the Writing phase. Per §4.F "Insert
// semantics", DataMerged/DataReplaced/Conflict are non-fatal and still
// produce a valid newID; InsertItem passes the plugin's status straight
// through rather than turning it into an error, since dbapierr.Status.Ok
// already classifies those three as successful.
func (s *Session) InsertItem(ctx gocontext.Context, data, parent string) (string, dbapierr.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Writing); err != nil {
		return "", dbapierr.Forbidden, err
	}
	return s.Table.InsertItem(ctx, s.Handle.ID, data, parent)
}

// UpdateItem performs an update, which MAY rename the id (§4.F "Update
// semantics").
func (s *Session) UpdateItem(ctx gocontext.Context, id dbapi.ItemID, data string) (string, dbapierr.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Writing); err != nil {
		return "", dbapierr.Forbidden, err
	}
	return s.Table.UpdateItem(ctx, s.Handle.ID, id, data)
}

// DeleteItem deletes id during the Writing phase.
func (s *Session) DeleteItem(ctx gocontext.Context, id dbapi.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Writing); err != nil {
		return err
	}
	return s.Table.DeleteItem(ctx, s.Handle.ID, id)
}

// MoveItem reparents id during the Writing phase.
func (s *Session) MoveItem(ctx gocontext.Context, id dbapi.ItemID, newParent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Writing); err != nil {
		return err
	}
	return s.Table.MoveItem(ctx, s.Handle.ID, id, newParent)
}

// FinalizeLocalID confirms a previously-assigned local id during the
// Writing phase.
func (s *Session) FinalizeLocalID(ctx gocontext.Context, id dbapi.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Writing); err != nil {
		return err
	}
	return s.Table.FinalizeLocalID(ctx, s.Handle.ID, id)
}

// DeleteSyncSet wipes the whole sync set during the Writing phase.
func (s *Session) DeleteSyncSet(ctx gocontext.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Writing); err != nil {
		return err
	}
	return s.Table.DeleteSyncSet(ctx, s.Handle.ID)
}

// EndDataWrite transitions Writing → Open. On success the returned token is
// the anchor the NEXT sync will present as lastToken (§4.F); on failure the
// caller MUST reuse the previous token, which this Session exposes via
// LastToken so callers don't need to track it themselves.
func (s *Session) EndDataWrite(ctx gocontext.Context, success bool) (dbapi.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(Writing); err != nil {
		return "", err
	}
	newToken, err := s.Table.EndDataWrite(ctx, s.Handle.ID, success)
	s.phase = Open
	if success && err == nil {
		s.lastToken = newToken
		return newToken, nil
	}
	logger.Datastore().Warn().Str("datastore", s.Handle.ID.String()).Bool("success", success).Err(err).Msg("EndDataWrite failed or aborted; reusing previous token")
	return s.lastToken, err
}

// LastToken returns the most recently established read/write anchor.
func (s *Session) LastToken() dbapi.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastToken
}

// ReadBlob is valid only in the Reading phase and WriteBlob only in the
// Writing phase, per §4.F ("Reading | ... ReadBlob", "Writing | WriteBlob /
// DeleteBlob"). DeleteBlob is valid in Writing and additionally from Open,
// but not while Reading, since §4.H
// specifies "a missing blob is NOT an error" and deleting an attachment
// outside an active read/write cycle is a reasonable admin operation many
// plugins support unconditionally.
func (s *Session) ReadBlob(ctx gocontext.Context, id dbapi.ItemID, blobID string, blockSize int, first bool) (dbapi.BlobChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Reading {
		return dbapi.BlobChunk{}, dbapierr.Newf(dbapierr.Forbidden, "datastore %s: ReadBlob requires phase Reading, have %s", s.Handle.ID, s.phase)
	}
	return s.Table.ReadBlob(ctx, s.Handle.ID, id, blobID, blockSize, first)
}

func (s *Session) WriteBlob(ctx gocontext.Context, id dbapi.ItemID, blobID string, chunk dbapi.BlobChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Writing {
		return dbapierr.Newf(dbapierr.Forbidden, "datastore %s: WriteBlob requires phase Writing, have %s", s.Handle.ID, s.phase)
	}
	return s.Table.WriteBlob(ctx, s.Handle.ID, id, blobID, chunk)
}

func (s *Session) DeleteBlob(ctx gocontext.Context, id dbapi.ItemID, blobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == Reading {
		return dbapierr.Newf(dbapierr.Forbidden, "datastore %s: DeleteBlob not valid during Reading", s.Handle.ID)
	}
	return s.Table.DeleteBlob(ctx, s.Handle.ID, id, blobID)
}
