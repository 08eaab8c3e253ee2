package loader

import (
	"context"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
)

// inprocessBinding wraps a set of already-resolved Go function values
// registered at process startup, standing in for the original's compiled-in
// "namespace silent { #include "dbapi_include.h" }" trick (§9): each
// built-in datastore registers its method set directly instead of being
// reached through dlsym, grounded on the codebase's global-registry +
// factory-function idiom (internal/plugins/registry.go, base_plugin.go).
type inprocessBinding struct {
	symbols map[string]Func
}

// NewInProcess builds a Binding over a fixed symbol table, letting a
// builtin plugin expose its methods to the loader without any dynamic
// lookup. (backup.Register uses its own binding type instead.)
func NewInProcess(symbols map[string]Func) Binding {
	return &inprocessBinding{symbols: symbols}
}

func (b *inprocessBinding) Connect(context.Context) error { return nil }

func (b *inprocessBinding) Resolve(symbol string) (Func, bool) {
	fn, ok := b.symbols[symbol]
	return fn, ok
}

func (b *inprocessBinding) Disconnect() error { return nil }

// staticBinding services the "//static/SYM=ADDR" test-injection notation
// (§4.A): every parsed entry is looked up by symbol name against a
// process-wide pre-registration table (Resolver.staticRegs); the numeric
// address itself carries no meaning in this implementation beyond having
// parsed successfully, since Go has no equivalent of binding a bare pointer
// value to a symbol name.
type staticBinding struct {
	entries  []StaticAddr
	registry map[string]Func
}

func newStaticBinding(entries []StaticAddr, registry map[string]Func) Binding {
	return &staticBinding{entries: entries, registry: registry}
}

func (b *staticBinding) Connect(context.Context) error {
	if len(b.entries) == 0 {
		return dbapierr.New(dbapierr.NotFound, "cannot connect: empty static notation")
	}
	return nil
}

func (b *staticBinding) Resolve(symbol string) (Func, bool) {
	for _, e := range b.entries {
		if e.Symbol == symbol {
			fn, ok := b.registry[symbol]
			return fn, ok
		}
	}
	return nil, false
}

func (b *staticBinding) Disconnect() error { return nil }
