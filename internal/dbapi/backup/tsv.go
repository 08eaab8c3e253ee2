package backup

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// bomPrefix is the UTF-8 byte order mark §6 requires loaders to tolerate.
var bomPrefix = []byte{0xEF, 0xBB, 0xBF}

// escapeField replaces a literal line feed with VT (0x0B), per §6 "a field
// containing LF is escaped as VT", so a multi-line item payload still fits
// on one TSV record line.
func escapeField(s string) string {
	return strings.ReplaceAll(s, "\n", "\v")
}

// unescapeField reverses escapeField.
func unescapeField(s string) string {
	return strings.ReplaceAll(s, "\v", "\n")
}

// rsSeparator is the in-band separator §6 specifies for array sub-fields
// ("arrays of sub-fields use RS (0x1D) internally").
const rsSeparator = "\x1d"

// joinArray encodes a string slice as one RS-separated field.
func joinArray(values []string) string {
	return strings.Join(values, rsSeparator)
}

// splitArray decodes an RS-separated field back into its elements; an empty
// field yields an empty (not nil) slice so round-tripping an explicitly
// empty array doesn't turn into "no array at all".
func splitArray(field string) []string {
	if field == "" {
		return []string{}
	}
	return strings.Split(field, rsSeparator)
}

// readRecords loads a TSV file into a header row plus the data rows,
// tolerating a leading UTF-8 BOM (§6) and a missing file (treated as
// "header unknown, zero rows" so a fresh datastore has nothing to load).
func readRecords(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if first {
			line = bytes.TrimPrefix(line, bomPrefix)
			first = false
		}
		text := strings.TrimRight(string(line), "\r\n")
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if header == nil {
			header = fields
			continue
		}
		rows = append(rows, fields)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return header, rows, nil
}

// writeRecords rewrites path whole-file, per §6 "Saving is whole-file
// rewrite", with a single trailing CRLF per record.
func writeRecords(path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	buf.Write(bomPrefix)
	buf.WriteString(strings.Join(header, "\t"))
	buf.WriteString("\r\n")
	for _, row := range rows {
		buf.WriteString(strings.Join(row, "\t"))
		buf.WriteString("\r\n")
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func headerIndex(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func validatePath(baseDir, name string) (string, error) {
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("backup: invalid path component %q", name)
	}
	return baseDir + string(os.PathSeparator) + name, nil
}
