// Package capability implements the Capability Negotiator (§4.C): parsing a
// plugin's capability string, enforcing MinVersion, and deciding which
// method-table groups (§4.B) get wired to the real implementation versus
// left at their no-op default.
package capability

import (
	"strconv"
	"strings"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
	"github.com/streamspace-dev/syncml-dbapi/internal/logger"
)

// Known capability string keys (§3 "Capability String").
const (
	KeyMinVersion   = "MinVersion"
	KeyDescription  = "Description"
	KeyManufacturer = "Manufacturer"
	KeyPlugin       = "Plugin"
	KeySubSystem    = "SubSystem"
	KeySubVersion   = "SubVersion"
	KeyAdminInfo    = "ADMIN_Info"
	KeyItemAsKey    = "ItemAsKey"
	KeyAdminAsKey   = "AdminAsKey"
	KeyGlobContext  = "GlobContext"
	KeyError        = "Error"
)

// Options controls negotiation behaviour that is not encoded in the
// capability string itself.
type Options struct {
	// CompatLegacyGroups enables falling through to the legacy group keys
	// (DS_Data_OLD1/OLD2, DS_Blob_OLD1/OLD2) when the current key disables
	// the group.
	// Default off per SPEC_FULL.md §9 Open Question resolution.
	CompatLegacyGroups bool
}

// Capability is the parsed form of a plugin's capability string: an ordered
// key→value map plus the derived fields the negotiator needs.
type Capability struct {
	Fields      []KV
	MinVersion  string
	Description string
	AdminInfo   bool
	ItemAsKey   bool
	AdminAsKey  bool
	GlobContext string
}

// KV is one "name:value" line of a capability string, kept in declaration
// order because §6 notes "Order is significant for SubSystem delimiters".
type KV struct {
	Key   string
	Value string
}

// Parse splits a capability string into an ordered Capability per §6's
// grammar: one key-value pair per line, key is alphanumeric plus '_', value
// is everything after the first ':' to end-of-line. A key prefixed with '-'
// means explicit opt-out and is recorded with its value but treated as
// disabled by Negotiate.
func Parse(raw string) Capability {
	var result Capability
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		var key, value string
		if idx < 0 {
			key = strings.TrimSpace(line)
		} else {
			key = strings.TrimSpace(line[:idx])
			value = strings.TrimSpace(line[idx+1:])
		}
		if key == "" {
			continue
		}
		result.Fields = append(result.Fields, KV{Key: key, Value: value})
		switch key {
		case KeyMinVersion:
			result.MinVersion = value
		case KeyDescription:
			result.Description = value
		case KeyAdminInfo:
			result.AdminInfo = isTrue(value)
		case KeyItemAsKey:
			result.ItemAsKey = isTrue(value)
		case KeyAdminAsKey:
			result.AdminAsKey = isTrue(value)
		case KeyGlobContext:
			result.GlobContext = value
		}
	}
	return result
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "no", "false", "-":
		return false
	default:
		return !strings.HasPrefix(v, "-")
	}
}

// Get returns the value for the first occurrence of key, and whether it was
// present at all.
func (c Capability) Get(key string) (string, bool) {
	for _, kv := range c.Fields {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// groupMode is how a method-table group resolves from its capability line.
type groupMode int

const (
	modeDisabled groupMode = iota
	modeString
	modeKey
	modeBoth
)

func groupModeFor(c Capability, group dbapi.Group) groupMode {
	if _, optedOut := c.Get("-" + string(group)); optedOut {
		return modeDisabled
	}
	raw, present := c.Get(string(group))
	if !present {
		// Not mentioned: enabled in the plugin's default (string) form,
		// per §4.C rule 3 ("prefer current") — absence is not an opt-out,
		// only an explicit "no" value is (§3 "Plus one line per
		// method-group the plugin chooses to disable").
		return modeString
	}
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "no", "-":
		return modeDisabled
	case "both":
		return modeBoth
	case "key":
		return modeKey
	default:
		return modeString
	}
}

// Result is the outcome of negotiation: the set of enabled groups and the
// masked datastore/session implementation that enforces them.
type Result struct {
	Capability Capability
	Enabled    map[dbapi.Group]bool
}

// Negotiate parses raw, checks engineVersion against MinVersion, and
// computes which method-table groups are enabled. It does not itself mutate
// table.Module/Session — those are set by the loader once a plugin binding
// resolves — but it always sets table.Enabled and wraps table.Datastore in
// a group-aware mask so that calls into a disabled group return
// dbapierr.NotImplemented exactly as if the symbol had never been resolved
// (§4.B "missing slots are filled by ... no-op defaults").
//
// Negotiation is purely functional given (raw, engineVersion, opts): the
// same inputs always produce the same Enabled set (§8 property 6).
func Negotiate(raw string, engineVersion int, table *dbapi.Table, opts Options) (Result, error) {
	c := Parse(raw)
	log := logger.Capability()

	if c.MinVersion != "" {
		required := parseVersion(c.MinVersion)
		if engineVersion < required {
			log.Warn().Str("minVersion", c.MinVersion).Int("engineVersion", engineVersion).Msg("plugin rejected: engine too old")
			return Result{}, dbapierr.Newf(dbapierr.TooOld, "engine version %d older than plugin MinVersion %q", engineVersion, c.MinVersion)
		}
	}

	groups := []dbapi.Group{
		dbapi.GroupDSGeneral,
		dbapi.GroupDSAdminStr,
		dbapi.GroupDSAdminKey,
		dbapi.GroupDSAdminMap,
		dbapi.GroupDSData,
		dbapi.GroupDSDataKey,
		dbapi.GroupDSBlob,
		dbapi.GroupDSAdapt,
		dbapi.GroupSessionAuth,
		dbapi.GroupSessionAdm,
		dbapi.GroupSessionTime,
		dbapi.GroupUI,
	}

	enabled := make(map[dbapi.Group]bool, len(groups))
	// The core datastore lifecycle group is always on; it has no
	// capability-string opt-out in the original ABI (every datastore must
	// support CreateContext/DeleteContext).
	enabled[dbapi.GroupDSGeneral] = true

	for _, g := range groups {
		if g == dbapi.GroupDSGeneral {
			continue
		}
		mode := groupModeFor(c, g)
		switch mode {
		case modeDisabled:
			enabled[g] = false
		default:
			enabled[g] = true
		}
	}

	if opts.CompatLegacyGroups {
		bridgeLegacy(c, enabled)
	}

	if table != nil {
		table.Enabled = enabled
		if table.Datastore != nil {
			table.Datastore = maskDatastore(table.Datastore, enabled)
		}
	}

	log.Debug().Interface("enabled", enabled).Bool("adminInfo", c.AdminInfo).Msg("capability negotiated")

	return Result{Capability: c, Enabled: enabled}, nil
}

// bridgeLegacy re-enables a current group that the plugin disabled under its
// current key but still advertises under one of the legacy keys. Legacy keys
// are tried in order; the first one present and not itself "no" wins (§4.C
// rule 3: "prefer current; fall through legacy keys in order").
func bridgeLegacy(c Capability, enabled map[dbapi.Group]bool) {
	legacy := map[dbapi.Group][]dbapi.Group{
		dbapi.GroupDSData: {dbapi.GroupDSDataOld1, dbapi.GroupDSDataOld2},
		dbapi.GroupDSBlob: {dbapi.GroupDSBlobOld1, dbapi.GroupDSBlobOld2},
	}
	for current, olds := range legacy {
		if enabled[current] {
			continue
		}
		for _, old := range olds {
			if v, ok := c.Get(string(old)); ok && strings.ToLower(strings.TrimSpace(v)) != "no" {
				enabled[current] = true
				break
			}
		}
	}
}

// parseVersion turns "V1.5.2" style strings into a comparable integer
// (major*10000 + minor*100 + patch). Malformed components are treated as 0.
func parseVersion(s string) int {
	s = strings.TrimPrefix(strings.TrimSpace(s), "V")
	parts := strings.SplitN(s, ".", 3)
	var nums [3]int
	for i := 0; i < len(parts) && i < 3; i++ {
		n, _ := strconv.Atoi(parts[i])
		nums[i] = n
	}
	return nums[0]*10000 + nums[1]*100 + nums[2]
}
