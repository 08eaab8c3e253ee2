package backup

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeFieldRoundTrip(t *testing.T) {
	original := "line one\nline two\nline three"
	assert.Equal(t, original, unescapeField(escapeField(original)))
}

func TestSplitArrayRoundTrip(t *testing.T) {
	values := []string{"a", "b", "c"}
	assert.Equal(t, values, splitArray(joinArray(values)))
}

func TestSplitArrayEmptyFieldYieldsEmptySlice(t *testing.T) {
	got := splitArray("")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestReadRecordsMissingFileIsEmptyNotError(t *testing.T) {
	header, rows, err := readRecords(filepath.Join(t.TempDir(), "does-not-exist.tsv"))
	require.NoError(t, err)
	assert.Nil(t, header)
	assert.Nil(t, rows)
}

func TestWriteThenReadRecordsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.tsv")
	header := []string{"id", "data"}
	rows := [][]string{
		{"item-1", "hello"},
		{"item-2", escapeField("multi\nline")},
	}
	require.NoError(t, writeRecords(path, header, rows))

	gotHeader, gotRows, err := readRecords(path)
	require.NoError(t, err)
	assert.Equal(t, header, gotHeader)
	require.Len(t, gotRows, 2)
	assert.Equal(t, "hello", gotRows[0][1])
	assert.Equal(t, "multi\nline", unescapeField(gotRows[1][1]))
}

func TestValidatePathRejectsSeparators(t *testing.T) {
	_, err := validatePath("/base", "evil/../escape")
	require.Error(t, err)

	_, err = validatePath("/base", "fine-name.tsv")
	require.NoError(t, err)
}

func TestHeaderIndexMissingColumn(t *testing.T) {
	assert.Equal(t, -1, headerIndex([]string{"a", "b"}, "c"))
	assert.Equal(t, 1, headerIndex([]string{"a", "b"}, "b"))
}
