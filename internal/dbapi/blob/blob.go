// Package blob implements BLOB Chunking (§4.H): streaming a large item
// attachment across the ABI boundary in bounded blocks, framed with
// first/last markers, in both directions.
package blob

import (
	"bytes"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
)

// DefaultBlockSize is the per-call cap §4.H recommends ("plugins SHOULD cap
// at ~2 KiB per call").
const DefaultBlockSize = 2048

// Reader streams a fixed in-memory byte slice out as a sequence of
// BlobChunks, standing in for a plugin's own ReadBlob loop (§4.H "the
// engine loops calling ReadBlob ... On first=true the plugin opens or
// rewinds the stream"). The reference backup datastore (§4.I) uses this to
// serve its own blob attachments; a caller driving a real plugin instead
// calls the plugin's ReadBlob directly and never touches this type.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps data for chunked reading. TotalSize is always known here
// (len(data)) since the backing store holds the whole blob in memory;
// §4.H's "unknown" (0) case applies only to plugins that cannot cheaply
// learn a blob's size up front, which this in-memory reference reader never
// faces.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Next returns the next chunk of at most blockSize bytes. first rewinds the
// stream (§4.H "first=true the plugin opens or rewinds the stream");
// calling Next after a chunk with Last set, without rewinding, is an error.
func (r *Reader) Next(blockSize int, first bool) (dbapi.BlobChunk, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if first {
		r.pos = 0
	}
	if r.pos > len(r.data) {
		return dbapi.BlobChunk{}, dbapierr.New(dbapierr.Error, "blob reader: read past end of stream")
	}

	end := r.pos + blockSize
	if end > len(r.data) {
		end = len(r.data)
	}
	chunk := dbapi.BlobChunk{
		Data:      r.data[r.pos:end],
		TotalSize: int64(len(r.data)),
		First:     first,
		Last:      end == len(r.data),
	}
	r.pos = end
	if chunk.Last {
		// Mark the stream exhausted so the next non-rewinding call fails.
		r.pos = len(r.data) + 1
	}
	return chunk, nil
}

// Writer accumulates a chunked write back into a single byte slice (§4.H
// "mirror contract; first=true opens/truncates, last=true commits").
// Writing zero bytes with first=last=true is equivalent to DeleteBlob,
// reported via Deleted so the caller (the backup datastore, §4.I) can route
// that case to its own delete path.
type Writer struct {
	buf     bytes.Buffer
	started bool
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Write appends chunk's data, truncating any prior content when First is
// set. Deleted is true exactly when this call is the well-known "empty
// write" shorthand for DeleteBlob (§4.H).
func (w *Writer) Write(chunk dbapi.BlobChunk) (deleted bool, err error) {
	if chunk.First {
		w.buf.Reset()
		w.started = true
	}
	if !w.started {
		return false, dbapierr.New(dbapierr.Error, "blob writer: write before first chunk")
	}
	if chunk.First && chunk.Last && len(chunk.Data) == 0 {
		return true, nil
	}
	w.buf.Write(chunk.Data)
	return false, nil
}

// Bytes returns the accumulated content once the last chunk has been
// written.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Split breaks data into a sequence of BlobChunks of at most blockSize
// bytes each, the inverse of draining a Reader; used by tests that want to
// exercise a chunked round-trip (§8 property 7) without going through the
// Reader/Writer pair directly.
func Split(data []byte, blockSize int) []dbapi.BlobChunk {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if len(data) == 0 {
		return []dbapi.BlobChunk{{First: true, Last: true}}
	}
	var chunks []dbapi.BlobChunk
	for pos := 0; pos < len(data); {
		end := pos + blockSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, dbapi.BlobChunk{
			Data:      data[pos:end],
			TotalSize: int64(len(data)),
			First:     pos == 0,
			Last:      end == len(data),
		})
		pos = end
	}
	return chunks
}
