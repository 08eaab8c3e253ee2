package datastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	dbcontext "github.com/streamspace-dev/syncml-dbapi/internal/dbapi/context"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
)

// stubTable is a minimal dbapi.DatastorePlugin that returns fixed values
// from the methods the tests drive, so the tests observe only the Session's
// phase guard and token handling. It records no calls.
type stubTable struct {
	dbapi.DatastorePlugin
	endWriteToken dbapi.Token
	endWriteErr   error
}

func (s *stubTable) StartDataRead(context.Context, dbapi.ContextID, dbapi.Token, dbapi.Token) error {
	return nil
}
func (s *stubTable) ReadNextItem(context.Context, dbapi.ContextID, bool) (dbapi.ItemID, string, dbapi.ReadStatus, error) {
	return dbapi.ItemID{Item: "a"}, "data", dbapi.Changed, nil
}
func (s *stubTable) ReadItem(context.Context, dbapi.ContextID, dbapi.ItemID) (string, error) {
	return "data", nil
}
func (s *stubTable) EndDataRead(context.Context, dbapi.ContextID) error { return nil }
func (s *stubTable) StartDataWrite(context.Context, dbapi.ContextID) error { return nil }
func (s *stubTable) InsertItem(context.Context, dbapi.ContextID, string, string) (string, dbapierr.Status, error) {
	return "new-id", dbapierr.OK, nil
}
func (s *stubTable) EndDataWrite(context.Context, dbapi.ContextID, bool) (dbapi.Token, error) {
	return s.endWriteToken, s.endWriteErr
}
func (s *stubTable) ReadBlob(context.Context, dbapi.ContextID, dbapi.ItemID, string, int, bool) (dbapi.BlobChunk, error) {
	return dbapi.BlobChunk{Last: true}, nil
}
func (s *stubTable) WriteBlob(context.Context, dbapi.ContextID, dbapi.ItemID, string, dbapi.BlobChunk) error {
	return nil
}
func (s *stubTable) DeleteBlob(context.Context, dbapi.ContextID, dbapi.ItemID, string) error {
	return nil
}

func newTestSession(table dbapi.DatastorePlugin) *Session {
	handle := &dbcontext.DatastoreHandle{ID: dbapi.ContextID{Kind: dbapi.KindDatastore, Value: "ds-1"}}
	return NewSession(handle, table)
}

func TestSessionStartsOpen(t *testing.T) {
	s := newTestSession(&stubTable{})
	assert.Equal(t, Open, s.Phase())
}

func TestReadCycleTransitions(t *testing.T) {
	s := newTestSession(&stubTable{})
	ctx := context.Background()

	require.NoError(t, s.StartDataRead(ctx, "100", ""))
	assert.Equal(t, Reading, s.Phase())

	id, data, status, err := s.ReadNextItem(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "a", id.Item)
	assert.Equal(t, "data", data)
	assert.Equal(t, dbapi.Changed, status)

	require.NoError(t, s.EndDataRead(ctx))
	assert.Equal(t, Open, s.Phase())
}

func TestReadItemRejectedOutsideReading(t *testing.T) {
	s := newTestSession(&stubTable{})
	_, err := s.ReadItem(context.Background(), dbapi.ItemID{Item: "a"})
	require.Error(t, err)
	assert.Equal(t, dbapierr.Forbidden, dbapierr.StatusOf(err))
}

func TestWriteCycleTransitions(t *testing.T) {
	stub := &stubTable{endWriteToken: "20260101T000000Z"}
	s := newTestSession(stub)
	ctx := context.Background()

	require.NoError(t, s.StartDataWrite(ctx))
	assert.Equal(t, Writing, s.Phase())

	id, status, err := s.InsertItem(ctx, "payload", "")
	require.NoError(t, err)
	assert.Equal(t, "new-id", id)
	assert.True(t, status.Ok())

	token, err := s.EndDataWrite(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, dbapi.Token("20260101T000000Z"), token)
	assert.Equal(t, Open, s.Phase())
	assert.Equal(t, token, s.LastToken())
}

// TestEndDataWriteFailureReusesPreviousToken covers §4.F's "on failure the
// engine must reuse the previous token" rule.
func TestEndDataWriteFailureReusesPreviousToken(t *testing.T) {
	stub := &stubTable{endWriteToken: "should-be-ignored"}
	s := newTestSession(stub)
	ctx := context.Background()
	s.lastToken = "20250101T000000Z"

	require.NoError(t, s.StartDataWrite(ctx))
	token, err := s.EndDataWrite(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, dbapi.Token("20250101T000000Z"), token)
	assert.Equal(t, dbapi.Token("20250101T000000Z"), s.LastToken())
}

func TestInsertItemRejectedOutsideWriting(t *testing.T) {
	s := newTestSession(&stubTable{})
	_, _, err := s.InsertItem(context.Background(), "x", "")
	require.Error(t, err)
	assert.Equal(t, dbapierr.Forbidden, dbapierr.StatusOf(err))
}

func TestBlobPhaseGating(t *testing.T) {
	stub := &stubTable{}
	s := newTestSession(stub)
	ctx := context.Background()

	_, err := s.ReadBlob(ctx, dbapi.ItemID{Item: "a"}, "b", 0, true)
	require.Error(t, err)
	assert.Equal(t, dbapierr.Forbidden, dbapierr.StatusOf(err))

	require.NoError(t, s.StartDataRead(ctx, "", ""))
	_, err = s.ReadBlob(ctx, dbapi.ItemID{Item: "a"}, "b", 0, true)
	require.NoError(t, err)

	err = s.DeleteBlob(ctx, dbapi.ItemID{Item: "a"}, "b")
	require.Error(t, err, "DeleteBlob must not be valid during Reading")
}
