package backup

import (
	"context"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi/loader"
)

// builtinBinding wraps a live Plugin as a loader.Binding, exposing it
// through the aggregate Module/Session/Datastore symbols (§9: a compiled-in
// Go plugin hands over whole interface values rather than individual
// function pointers).
type builtinBinding struct {
	plugin *Plugin
}

func (b *builtinBinding) Connect(context.Context) error { return nil }

func (b *builtinBinding) Resolve(symbol string) (loader.Func, bool) {
	switch symbol {
	case loader.SymModule:
		return b.plugin.AsModule(), true
	case loader.SymSession:
		return b.plugin.AsSession(), true
	case loader.SymDatastore:
		return b.plugin.AsDatastore(), true
	default:
		return nil, false
	}
}

func (b *builtinBinding) Disconnect() error { return nil }

// Register installs this reference datastore into resolver under the "[backup]"
// LIB name (§4.I, §11.1), so a capability string naming "[backup]" resolves
// to a freshly constructed Plugin rooted at cfg.BaseDir.
func Register(resolver *loader.Resolver, cfg Config) {
	resolver.RegisterBuiltin("backup", func() loader.Binding {
		return &builtinBinding{plugin: New(cfg)}
	})
}
