package backup

import (
	"encoding/hex"
	"strconv"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi/mapstore"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
)

// itemRecord is one synced item living in a datastoreState, persisted
// whole-file to the scope's ".data.tsv" (§4.I, §6).
type itemRecord struct {
	ID     string
	Parent string
	Token  dbapi.Token
	Data   string
}

var itemHeader = []string{"id", "parent", "token", "data"}
var blobHeader = []string{"itemID", "blobID", "data"}

func itemsPath(baseDir string, scope mapstore.Scope) (string, error) {
	comp, err := scopeComponent(scope)
	if err != nil {
		return "", err
	}
	return validatePath(baseDir, comp+".data.tsv")
}

func blobsPath(baseDir string, scope mapstore.Scope) (string, error) {
	comp, err := scopeComponent(scope)
	if err != nil {
		return "", err
	}
	return validatePath(baseDir, comp+".blobs.tsv")
}

func loadItems(baseDir string, scope mapstore.Scope) (map[string]*itemRecord, error) {
	path, err := itemsPath(baseDir, scope)
	if err != nil {
		return nil, err
	}
	header, rows, err := readRecords(path)
	if err != nil {
		return nil, dbapierr.Wrap(dbapierr.Error, "backup: read item file failed", err)
	}
	if header == nil {
		header = itemHeader
	}
	idIdx := headerIndex(header, "id")
	parentIdx := headerIndex(header, "parent")
	tokenIdx := headerIndex(header, "token")
	dataIdx := headerIndex(header, "data")

	items := make(map[string]*itemRecord, len(rows))
	for _, row := range rows {
		rec := &itemRecord{
			ID:     unescapeField(field(row, idIdx)),
			Parent: unescapeField(field(row, parentIdx)),
			Token:  dbapi.Token(unescapeField(field(row, tokenIdx))),
			Data:   unescapeField(field(row, dataIdx)),
		}
		items[rec.ID] = rec
	}
	return items, nil
}

func saveItems(baseDir string, scope mapstore.Scope, items map[string]*itemRecord) error {
	path, err := itemsPath(baseDir, scope)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(items))
	for _, rec := range items {
		rows = append(rows, []string{
			escapeField(rec.ID),
			escapeField(rec.Parent),
			escapeField(string(rec.Token)),
			escapeField(rec.Data),
		})
	}
	if err := writeRecords(path, itemHeader, rows); err != nil {
		return dbapierr.Wrap(dbapierr.Error, "backup: write item file failed", err)
	}
	return nil
}

func loadBlobs(baseDir string, scope mapstore.Scope) (map[string]map[string][]byte, error) {
	path, err := blobsPath(baseDir, scope)
	if err != nil {
		return nil, err
	}
	header, rows, err := readRecords(path)
	if err != nil {
		return nil, dbapierr.Wrap(dbapierr.Error, "backup: read blob file failed", err)
	}
	if header == nil {
		header = blobHeader
	}
	itemIdx := headerIndex(header, "itemID")
	blobIdx := headerIndex(header, "blobID")
	dataIdx := headerIndex(header, "data")

	blobs := make(map[string]map[string][]byte)
	for _, row := range rows {
		itemID := unescapeField(field(row, itemIdx))
		blobID := unescapeField(field(row, blobIdx))
		data := decodeBlobField(field(row, dataIdx))
		if blobs[itemID] == nil {
			blobs[itemID] = make(map[string][]byte)
		}
		blobs[itemID][blobID] = data
	}
	return blobs, nil
}

func saveBlobs(baseDir string, scope mapstore.Scope, blobs map[string]map[string][]byte) error {
	path, err := blobsPath(baseDir, scope)
	if err != nil {
		return err
	}
	var rows [][]string
	for itemID, byBlob := range blobs {
		for blobID, data := range byBlob {
			rows = append(rows, []string{
				escapeField(itemID),
				escapeField(blobID),
				encodeBlobField(data),
			})
		}
	}
	if err := writeRecords(path, blobHeader, rows); err != nil {
		return dbapierr.Wrap(dbapierr.Error, "backup: write blob file failed", err)
	}
	return nil
}

// Blob bytes are stored hex-encoded so they can never collide with the TSV
// control characters (TAB, LF, RS) the escaping rules reserve.
func encodeBlobField(data []byte) string {
	return hex.EncodeToString(data)
}

func decodeBlobField(s string) []byte {
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return out
}

// nextLocalID picks the first free numeric local id, starting at 10000 the
// way the original reference store numbers its LUIDs. Non-numeric ids
// (hand-edited files) are skipped for the purpose of finding the maximum.
func nextLocalID(items map[string]*itemRecord) int {
	next := 10000
	for id := range items {
		n, err := strconv.Atoi(id)
		if err == nil && n >= next {
			next = n + 1
		}
	}
	return next
}

// ancestorCycle reports whether inserting/moving id under newParent would
// create a cycle (§9 "Cyclic graphs"): walk newParent's parent chain and
// fail if id appears in it.
func ancestorCycle(items map[string]*itemRecord, id, newParent string) bool {
	seen := map[string]bool{id: true}
	cur := newParent
	for cur != "" {
		if seen[cur] {
			return true
		}
		seen[cur] = true
		rec, ok := items[cur]
		if !ok {
			return false
		}
		cur = rec.Parent
	}
	return false
}
