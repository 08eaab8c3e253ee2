package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapierr"
	"github.com/streamspace-dev/syncml-dbapi/internal/logger"
)

// JavaBridgeConfig configures the JNI-bridge binding (§11.1, §10.3
// javabridge.Config): real JNI is not expressible from Go, so this backend
// models "bridge to a foreign runtime" as an out-of-process gRPC client
// talking to a sidecar JVM process.
type JavaBridgeConfig struct {
	Target      string
	DialTimeout time.Duration
}

const jsonCodecName = "dbapi-json"

// jsonCodec is a minimal grpc.Codec/encoding.Codec implementation so this
// binding needs no protoc-generated stubs (§11.1 "no protoc step; the codec
// is registered once via encoding.RegisterCodec"). Registration happens
// once in init(), matching how the rest of the ecosystem self-registers
// codecs and drivers (database/sql drivers, zerolog writers).
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// invokeRequest/invokeResponse are the wire shapes for the single bridge
// RPC method, carrying an opaque method name plus byte-string arguments —
// the gRPC analogue of a JNI call's (jclass, jmethodID, jvalue...) triple.
type invokeRequest struct {
	Method string   `json:"method"`
	Args   [][]byte `json:"args"`
}

type invokeResponse struct {
	Status int32  `json:"status"`
	Result []byte `json:"result"`
}

// javaBridgeBinding is the Binding backend that dials a JNI bridge sidecar
// over gRPC (§11.1, §11.3). Resolve never fails for a well-formed symbol
// name here: whether the remote side actually implements that method is
// only discovered on first Invoke, since there is no remote reflection step
// in this minimal protocol.
type javaBridgeBinding struct {
	plugin string
	cfg    JavaBridgeConfig

	mu   sync.Mutex
	conn *grpc.ClientConn
}

func newJavaBridgeBinding(plugin string, cfg JavaBridgeConfig) *javaBridgeBinding {
	return &javaBridgeBinding{plugin: plugin, cfg: cfg}
}

func (b *javaBridgeBinding) Connect(ctx context.Context) error {
	if b.cfg.Target == "" {
		return dbapierr.New(dbapierr.NotFound, "cannot connect: no javabridge target configured")
	}

	timeout := b.cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := grpc.NewClient(b.cfg.Target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		logger.Loader().Warn().Str("target", b.cfg.Target).Err(err).Msg("cannot connect: javabridge dial failed")
		return dbapierr.Wrap(dbapierr.NotFound, "cannot connect: javabridge dial failed", err)
	}

	// NewClient is lazy; force a connection attempt within the dial
	// timeout so Connect's failure semantics match the other two bindings.
	conn.Connect()
	for {
		st := conn.GetState()
		if st == connectivity.Ready {
			break
		}
		if st == connectivity.TransientFailure || !conn.WaitForStateChange(dialCtx, st) {
			_ = conn.Close()
			logger.Loader().Warn().Str("target", b.cfg.Target).Str("state", st.String()).Msg("cannot connect: javabridge not reachable")
			return dbapierr.Newf(dbapierr.NotFound, "cannot connect: javabridge target %q not reachable", b.cfg.Target)
		}
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	return nil
}

func (b *javaBridgeBinding) Resolve(symbol string) (Func, bool) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, false
	}

	method := symbol
	fn := func(ctx context.Context, args ...[]byte) ([]byte, dbapierr.Status, error) {
		timeout := b.cfg.DialTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req := invokeRequest{Method: fmt.Sprintf("%s.%s", b.plugin, method), Args: args}
		var resp invokeResponse
		if err := conn.Invoke(callCtx, "/dbapi.JavaBridge/Invoke", &req, &resp); err != nil {
			return nil, dbapierr.Error, dbapierr.Wrap(dbapierr.Error, "javabridge invoke failed", err)
		}
		return resp.Result, dbapierr.Status(resp.Status), nil
	}
	return fn, true
}

func (b *javaBridgeBinding) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
