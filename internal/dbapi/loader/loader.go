// Package loader implements the Plugin Loader (§4.A): parsing a plugin's
// fullname into id/sub-name/options/is-lib, and resolving that id to one of
// three binding backends (§11.1) — a compiled-in namespace ("LIB"), a
// dynamically loaded shared object ("DLL"), or an out-of-process JNI bridge
// reached over gRPC.
package loader

import (
	"context"
	"strconv"
	"strings"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
	"github.com/streamspace-dev/syncml-dbapi/internal/logger"
)

// Func is a resolved plugin symbol: an untyped function value the caller
// casts to the signature it expects for that slot. No type checking is
// done at this layer (§4.A "No further type checking is done here").
type Func interface{}

// Binding is one connected plugin backend: open, resolve symbols by name,
// close. Implemented by inprocessBinding, dynamicLibBinding and
// javaBridgeBinding (§9 "Model as a tagged variant over three backends").
type Binding interface {
	// Connect establishes the binding (opening a shared object, dialing a
	// bridge, or simply marking a compiled-in registration as active).
	Connect(ctx context.Context) error
	// Resolve looks up symbol by name, returning (nil, false) if the
	// binding has no such symbol.
	Resolve(symbol string) (Func, bool)
	// Disconnect releases the binding's resources.
	Disconnect() error
}

// Fullname is the parsed form of a plugin's name string, per §4.A's
// grammar:
//
//	fullname  := [ '[' core ']' ] ( '!' subname )? ( ' ' options )?
//	core      := literal-plugin-id  ( ' ' options )?
type Fullname struct {
	ID      string
	SubName string
	Options string
	IsLib   bool
}

// ParseFullname splits raw into its components, left to right and greedy
// per §4.A. The is-lib flag is set here only from the bracket notation;
// Resolve additionally treats any name matching a registered builtin as
// is-lib even without brackets, per "or when it matches a compiled-in
// namespace registered with the loader".
func ParseFullname(raw string) Fullname {
	var fn Fullname
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			// Unterminated bracket: treat the rest of the string as the id.
			fn.IsLib = true
			fn.ID = strings.TrimPrefix(s, "[")
			return fn
		}
		fn.IsLib = true
		fn.ID = s[1:end]
		s = strings.TrimSpace(s[end+1:])
	} else {
		stop := len(s)
		if i := strings.IndexAny(s, "! "); i >= 0 {
			stop = i
		}
		fn.ID = s[:stop]
		s = s[stop:]
	}

	if strings.HasPrefix(s, "!") {
		rest := s[1:]
		if sp := strings.IndexByte(rest, ' '); sp >= 0 {
			fn.SubName = rest[:sp]
			s = rest[sp:]
		} else {
			fn.SubName = rest
			s = ""
		}
	}

	fn.Options = strings.TrimSpace(s)
	return fn
}

// StaticAddr is one entry of the "//static/SYM=ADDR/..." test-injection
// notation (§4.A "Special LIB notation"): a symbol name bound directly to a
// pre-registered address. ADDR is parsed but not used for lookup: the
// symbol name is the key into the Resolver's RegisterStatic registry, since
// Go has no equivalent of binding a bare pointer value.
type StaticAddr struct {
	Symbol string
	Addr   int64
}

// ParseStaticNotation parses "//static/SYM=ADDR/SYM2=ADDR2" into its symbol
// entries. A malformed entry (missing '=', non-decimal address) is silently
// dropped, per §4.A: "a malformed entry silently drops that symbol".
func ParseStaticNotation(raw string) []StaticAddr {
	const prefix = "//static/"
	if !strings.HasPrefix(raw, prefix) {
		return nil
	}
	body := strings.TrimPrefix(raw, prefix)
	var out []StaticAddr
	for _, part := range strings.Split(body, "/") {
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		sym := part[:eq]
		addr, err := strconv.ParseInt(part[eq+1:], 10, 64)
		if err != nil || sym == "" {
			continue
		}
		out = append(out, StaticAddr{Symbol: sym, Addr: addr})
	}
	return out
}

// Resolver is the process-wide loader: it holds the compiled-in registry
// (populated by RegisterBuiltin) and the directory search path for dynamic
// libraries, and decides which Binding backend services a given fullname.
type Resolver struct {
	builtins   map[string]BuiltinFactory
	libDirs    []string
	bridgeCfg  *JavaBridgeConfig
	staticRegs map[string]Func
}

// BuiltinFactory constructs a fresh in-process Binding for one registered
// compiled-in plugin name, e.g. the reference backup datastore under
// "[backup]" (§4.I, §11.1).
type BuiltinFactory func() Binding

// NewResolver creates a Resolver with the given dynamic-library search
// directories (probed in order, mirroring the codebase's plugin-directory
// scan). bridge may be nil if no JNI bridge endpoint is configured.
func NewResolver(libDirs []string, bridge *JavaBridgeConfig) *Resolver {
	return &Resolver{
		builtins:   make(map[string]BuiltinFactory),
		libDirs:    libDirs,
		bridgeCfg:  bridge,
		staticRegs: make(map[string]Func),
	}
}

// RegisterBuiltin adds a compiled-in namespace under name, making Resolve
// treat that name as "LIB" even without bracket notation, per §4.A.
// ParseFullname does not consult the registry.
func (r *Resolver) RegisterBuiltin(name string, factory BuiltinFactory) {
	r.builtins[name] = factory
}

// RegisterStatic pre-registers a test-injection symbol by name so that
// "//static/SYM=ADDR" entries resolve to it regardless of the numeric
// address value, which this implementation treats as an opaque token
// rather than a real pointer (§4.A).
func (r *Resolver) RegisterStatic(symbol string, fn Func) {
	r.staticRegs[symbol] = fn
}

// IsBuiltin reports whether name is registered as a compiled-in namespace.
func (r *Resolver) IsBuiltin(name string) bool {
	_, ok := r.builtins[name]
	return ok
}

// Resolve picks and connects a Binding for fullname's plugin id, per §4.A's
// resolution order: LIB first if forced or registered, else dynamic load
// with suffix probing, else the JNI bridge if configured. It returns
// NotFound with a structured "cannot connect" diagnostic on failure, per
// §4.A.
func (r *Resolver) Resolve(ctx context.Context, fullname string) (Binding, Fullname, error) {
	fn := ParseFullname(fullname)
	log := logger.Loader()

	isLib := fn.IsLib || r.IsBuiltin(fn.ID)

	if strings.HasPrefix(fn.ID, "//static/") {
		b := newStaticBinding(ParseStaticNotation(fn.ID), r.staticRegs)
		if err := b.Connect(ctx); err != nil {
			return nil, fn, err
		}
		return b, fn, nil
	}

	if isLib {
		factory, ok := r.builtins[fn.ID]
		if !ok {
			log.Warn().Str("plugin", fn.ID).Msg("cannot connect: LIB plugin not registered")
			return nil, fn, dbapierr.Newf(dbapierr.NotFound, "cannot connect: no builtin plugin registered for %q", fn.ID)
		}
		b := factory()
		if err := b.Connect(ctx); err != nil {
			return nil, fn, err
		}
		return b, fn, nil
	}

	dll := newDynamicLibBinding(fn.ID, r.libDirs)
	if err := dll.Connect(ctx); err == nil {
		return dll, fn, nil
	}

	if r.bridgeCfg != nil {
		jb := newJavaBridgeBinding(fn.ID, *r.bridgeCfg)
		if err := jb.Connect(ctx); err == nil {
			return jb, fn, nil
		}
	}

	log.Warn().Str("plugin", fn.ID).Msg("cannot connect: no binding resolved it")
	return nil, fn, dbapierr.Newf(dbapierr.NotFound, "cannot connect: plugin %q not found (checked builtin, dynamic, bridge)", fn.ID)
}
