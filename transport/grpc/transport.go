// Package grpc implements the overlay over gRPC. Frames travel as unary
// calls carrying a wrapped byte payload; the sender's identity and the target
// service ride in the call metadata. Node identities are the listen addresses
// of the peers.
package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/overlay"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	sourceKey  = "mcpo-source"
	serviceKey = "mcpo-service"
)

// Config is the configuration for a gRPC overlay.
type Config struct {
	// Address is the address to listen on. A zero port picks a free one; the
	// resolved address becomes the node's identity.
	Address string
	// Peers are the addresses broadcasts reach in addition to every node that
	// has sent a frame to this one.
	Peers []node.ID
	// SendTimeout bounds each outbound call.
	SendTimeout time.Duration
	// MaxInFlight bounds the number of outbound calls. Sends beyond it are
	// dropped.
	MaxInFlight int
	// DialOptions are appended to the default insecure credentials.
	DialOptions []grpc.DialOption
	// ServerOptions are passed to the gRPC server.
	ServerOptions []grpc.ServerOption
	Logger        *zap.Logger
}

// Merge fills the zero fields of cfg from def.
func (cfg Config) Merge(def Config) Config {
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

// Validate returns an error if the config cannot open an overlay.
func (cfg Config) Validate() error {
	if cfg.SendTimeout <= 0 {
		return errors.New("[grpc] - send timeout must be positive")
	}
	if cfg.MaxInFlight < 1 {
		return errors.New("[grpc] - max in flight must be at least 1")
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Address:     "127.0.0.1:0",
		SendTimeout: 2 * time.Second,
		MaxInFlight: 256,
		Logger:      zap.NewNop(),
	}
}

// Transport is a gRPC overlay. It implements overlay.Overlay.
type Transport struct {
	Config
	id       node.ID
	L        *zap.SugaredLogger
	handlers overlay.Handlers
	server   *grpc.Server
	pool     *pool
	mu       sync.RWMutex
	known    node.Group
	closed   bool
	serve    errgroup.Group
	sends    errgroup.Group
}

var _ overlay.Overlay = (*Transport)(nil)

// Open listens on the configured address and starts serving.
func Open(cfg Config) (*Transport, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "[grpc] - failed to listen on %s", cfg.Address)
	}
	t := &Transport{
		Config: cfg,
		id:     node.ID(lis.Addr().String()),
		server: grpc.NewServer(cfg.ServerOptions...),
		known:  node.Group(cfg.Peers).Copy(),
	}
	t.L = cfg.Logger.Named("grpc").With(t.id.Field("addr")).Sugar()
	t.pool = newPool(append(
		[]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		cfg.DialOptions...,
	))
	t.sends.SetLimit(cfg.MaxInFlight)
	t.server.RegisterService(&serviceDesc, t)
	t.serve.Go(func() error {
		if err := t.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.L.Errorw("server exited", "error", err)
			return err
		}
		return nil
	})
	t.L.Debugw("serving")
	return t, nil
}

// ID implements overlay.Overlay.
func (t *Transport) ID() node.ID { return t.id }

// Send implements overlay.Overlay. The call is made in the background; Send
// only fails if the transport is closed or the destination cannot be dialed.
func (t *Transport) Send(ctx context.Context, to node.ID, svc overlay.ServiceID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return overlay.ErrClosed
	}
	conn, err := t.pool.acquire(to)
	if errors.Is(err, overlay.ErrClosed) {
		return err
	}
	if err != nil {
		return errors.Wrapf(overlay.ErrUnreachable, "%s: %v", to, err)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return t.launch(to, svc, func() { t.deliver(conn, to, svc, buf) })
}

func (t *Transport) deliver(conn *grpc.ClientConn, to node.ID, svc overlay.ServiceID, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), t.SendTimeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, sourceKey, string(t.id), serviceKey, string(svc))
	if err := conn.Invoke(ctx, deliverMethod, wrapperspb.Bytes(data), &emptypb.Empty{}); err != nil {
		t.L.Debugw("delivery failed", "to", to, "service", svc, "error", err)
	}
}

// Broadcast implements overlay.Overlay. It reaches the configured peers and
// every node that has contacted this one.
func (t *Transport) Broadcast(ctx context.Context, svc overlay.ServiceID, data []byte) error {
	var errs error
	for _, to := range t.Known() {
		if err := t.Send(ctx, to, svc, data); err != nil {
			if errors.Is(err, overlay.ErrClosed) {
				return err
			}
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// Known returns the nodes broadcasts reach.
func (t *Transport) Known() node.Group {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.known.WhereNot(t.id)
}

func (t *Transport) learn(id node.ID) {
	t.mu.RLock()
	known := t.known.Contains(id)
	t.mu.RUnlock()
	if known || id == t.id {
		return
	}
	t.mu.Lock()
	t.known = t.known.Union(id)
	t.mu.Unlock()
}

// Bind implements overlay.Overlay.
func (t *Transport) Bind(svc overlay.ServiceID, h overlay.Handler) error {
	return t.handlers.Bind(svc, h)
}

// Unbind implements overlay.Overlay.
func (t *Transport) Unbind(svc overlay.ServiceID) error { return t.handlers.Unbind(svc) }

// Close stops the server, waits for in-flight frames and closes every
// connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.server.Stop()
	_ = t.sends.Wait()
	return errors.CombineErrors(t.serve.Wait(), t.pool.close())
}

// launch runs f in the background unless the transport is closed. The check
// and the launch happen under the read lock so Close cannot begin waiting on
// in-flight sends between them.
func (t *Transport) launch(to node.ID, svc overlay.ServiceID, f func()) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return overlay.ErrClosed
	}
	if !t.sends.TryGo(func() error { f(); return nil }) {
		t.L.Debugw("too many frames in flight, dropping", "to", to, "service", svc)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Deliver is the server side of a frame.
func (t *Transport) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "missing metadata")
	}
	var (
		src = first(md, sourceKey)
		svc = first(md, serviceKey)
	)
	if src == "" || svc == "" {
		return nil, status.Error(codes.InvalidArgument, "missing source or service")
	}
	from := node.ID(src)
	t.learn(from)
	if !t.handlers.Dispatch(overlay.ServiceID(svc), from, in.GetValue()) {
		return nil, status.Errorf(codes.Unimplemented, "service %s not bound", svc)
	}
	return &emptypb.Empty{}, nil
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
