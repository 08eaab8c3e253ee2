package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	stdplugin "plugin"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
	"github.com/streamspace-dev/syncml-dbapi/internal/logger"
)

// dynamicLibBinding loads a Go shared object via the standard library's
// plugin package, with the suffix/prefix probing §4.A requires ("<name>",
// "<name>.so|.dll|.dylib", then "./<name>" variants), adapted from the
// codebase's PluginDiscovery.findPluginFile directory scan
// (internal/plugins/discovery.go) but driven by the single fullname
// grammar instead of a fixed set of plugin directories.
type dynamicLibBinding struct {
	name string
	dirs []string

	handle   *stdplugin.Plugin
	prefix   string
	fromMain bool
}

func newDynamicLibBinding(name string, dirs []string) *dynamicLibBinding {
	return &dynamicLibBinding{name: name, dirs: dirs}
}

// candidateSuffixes mirrors §4.A's probing order: bare name, then
// platform-style suffixes, tried across every configured directory before
// falling back to a "./" relative lookup.
var candidateSuffixes = []string{"", ".so", ".dll", ".dylib"}

func (b *dynamicLibBinding) Connect(ctx context.Context) error {
	log := logger.Loader()

	for _, dir := range b.dirs {
		for _, suffix := range candidateSuffixes {
			path := filepath.Join(dir, b.name+suffix)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			h, err := stdplugin.Open(path)
			if err != nil {
				log.Warn().Str("path", path).Err(err).Msg("cannot connect: plugin.Open failed")
				continue
			}
			b.handle = h
			log.Debug().Str("plugin", b.name).Str("path", path).Msg("dynamic library connected")
			return nil
		}
	}

	for _, suffix := range candidateSuffixes {
		path := "./" + b.name + suffix
		if _, err := os.Stat(path); err != nil {
			continue
		}
		h, err := stdplugin.Open(path)
		if err != nil {
			continue
		}
		b.handle = h
		log.Debug().Str("plugin", b.name).Str("path", path).Msg("dynamic library connected (relative)")
		return nil
	}

	return dbapierr.Newf(dbapierr.NotFound, "cannot connect: no shared object found for %q in %v", b.name, b.dirs)
}

// Resolve looks up symbol against the loaded handle (§4.A "dlsym(h,
// name)"). When fromMain is set, the lookup on the loaded handle uses
// "<prefix>_<symbol>"; nothing in this package sets fromMain. A nil handle
// (not connected, or disconnected) resolves nothing: the standard plugin
// package has no RTLD_DEFAULT equivalent, so there is no main-program
// lookup.
func (b *dynamicLibBinding) Resolve(symbol string) (Func, bool) {
	if b.handle == nil {
		return nil, false
	}
	lookup := symbol
	if b.fromMain {
		lookup = fmt.Sprintf("%s_%s", b.prefix, symbol)
	}
	sym, err := b.handle.Lookup(lookup)
	if err != nil {
		return nil, false
	}
	return sym, true
}

func (b *dynamicLibBinding) Disconnect() error {
	// Go's plugin package offers no unload; per §4.A this loader simply
	// stops referencing the handle once the owning module is torn down.
	b.handle = nil
	return nil
}
