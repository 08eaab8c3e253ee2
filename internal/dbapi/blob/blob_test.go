package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
)

func dummyChunk(first, last bool, data []byte) dbapi.BlobChunk {
	return dbapi.BlobChunk{Data: data, First: first, Last: last}
}

// TestChunkedRoundTrip covers §8 property 7: splitting a blob into chunks
// and feeding them back through a Writer reproduces the original bytes.
func TestChunkedRoundTrip(t *testing.T) {
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i % 251)
	}

	chunks := Split(data, 1024)
	require.True(t, len(chunks) > 1)

	w := NewWriter()
	for _, c := range chunks {
		deleted, err := w.Write(c)
		require.NoError(t, err)
		assert.False(t, deleted)
	}
	assert.Equal(t, data, w.Bytes())
}

func TestReaderNextFramesFirstAndLast(t *testing.T) {
	data := []byte("hello world")
	r := NewReader(data)

	c1, err := r.Next(5, true)
	require.NoError(t, err)
	assert.True(t, c1.First)
	assert.False(t, c1.Last)
	assert.Equal(t, []byte("hello"), c1.Data)

	c2, err := r.Next(5, false)
	require.NoError(t, err)
	assert.Equal(t, []byte(" worl"), c2.Data)

	c3, err := r.Next(5, false)
	require.NoError(t, err)
	assert.True(t, c3.Last)
	assert.Equal(t, []byte("d"), c3.Data)
}

func TestEmptyWriteIsDelete(t *testing.T) {
	w := NewWriter()
	deleted, err := w.Write(dummyChunk(true, true, nil))
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestSplitEmptyDataYieldsSingleEmptyChunk(t *testing.T) {
	chunks := Split(nil, 1024)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].First)
	assert.True(t, chunks[0].Last)
	assert.Empty(t, chunks[0].Data)
}

func TestWriteBeforeFirstIsError(t *testing.T) {
	w := NewWriter()
	_, err := w.Write(dummyChunk(false, false, []byte("x")))
	require.Error(t, err)
}
