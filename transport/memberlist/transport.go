// Package memberlist implements the overlay on top of a hashicorp/memberlist
// gossip cluster. Member names are node identities. Frames are sent over the
// reliable TCP channel to a single member, or to every live member for a
// broadcast.
package memberlist

import (
	"context"
	"sync"
	"time"

	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/overlay"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config is the configuration for a memberlist overlay.
type Config struct {
	// Memberlist is the underlying gossip configuration. Its Name is the node
	// identity and its Delegate is overridden.
	Memberlist *memberlist.Config
	// Join are existing members to contact on open.
	Join []string
	// MaxInFlight bounds the number of outbound frames. Sends beyond it are
	// dropped.
	MaxInFlight int
	// LeaveTimeout bounds the graceful leave on close.
	LeaveTimeout time.Duration
	Logger       *zap.Logger
}

// Merge fills the zero fields of cfg from def.
func (cfg Config) Merge(def Config) Config {
	if cfg.Memberlist == nil {
		cfg.Memberlist = def.Memberlist
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.LeaveTimeout == 0 {
		cfg.LeaveTimeout = def.LeaveTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

// Validate returns an error if the config cannot open an overlay.
func (cfg Config) Validate() error {
	if cfg.Memberlist == nil || cfg.Memberlist.Name == "" {
		return errors.New("[memberlist] - a member name is required")
	}
	if cfg.MaxInFlight < 1 {
		return errors.New("[memberlist] - max in flight must be at least 1")
	}
	return nil
}

// DefaultConfig returns a configuration tuned for a local network, bound to a
// free loopback port.
func DefaultConfig() Config {
	ml := memberlist.DefaultLocalConfig()
	ml.Name = ""
	ml.BindAddr = "127.0.0.1"
	ml.BindPort = 0
	ml.AdvertisePort = 0
	return Config{
		Memberlist:   ml,
		MaxInFlight:  256,
		LeaveTimeout: time.Second,
		Logger:       zap.NewNop(),
	}
}

// Transport is a memberlist overlay. It implements overlay.Overlay.
type Transport struct {
	Config
	id       node.ID
	L        *zap.SugaredLogger
	ml       *memberlist.Memberlist
	handlers overlay.Handlers
	mu       sync.RWMutex
	closed   bool
	sends    errgroup.Group
}

var _ overlay.Overlay = (*Transport)(nil)

// Open creates the memberlist and joins the configured members.
func Open(cfg Config) (*Transport, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{Config: cfg, id: node.ID(cfg.Memberlist.Name)}
	t.L = cfg.Logger.Named("memberlist").With(t.id.Field("name")).Sugar()
	t.sends.SetLimit(cfg.MaxInFlight)
	cfg.Memberlist.Delegate = &delegate{t: t}
	stdLog, err := zap.NewStdLogAt(cfg.Logger.Named("memberlist"), zap.DebugLevel)
	if err != nil {
		return nil, err
	}
	cfg.Memberlist.Logger = stdLog
	ml, err := memberlist.Create(cfg.Memberlist)
	if err != nil {
		return nil, errors.Wrap(err, "[memberlist] - failed to create")
	}
	t.ml = ml
	if len(cfg.Join) > 0 {
		if _, err := ml.Join(cfg.Join); err != nil {
			_ = ml.Shutdown()
			return nil, errors.Wrap(err, "[memberlist] - failed to join")
		}
	}
	return t, nil
}

// ID implements overlay.Overlay.
func (t *Transport) ID() node.ID { return t.id }

// Address returns the gossip address other members can join through.
func (t *Transport) Address() string { return t.ml.LocalNode().Address() }

// Members returns the names of the live members, including the local one.
func (t *Transport) Members() node.Group {
	members := t.ml.Members()
	out := make(node.Group, 0, len(members))
	for _, m := range members {
		out = append(out, node.ID(m.Name))
	}
	return out
}

func (t *Transport) member(id node.ID) *memberlist.Node {
	for _, m := range t.ml.Members() {
		if m.Name == string(id) {
			return m
		}
	}
	return nil
}

// Send implements overlay.Overlay.
func (t *Transport) Send(ctx context.Context, to node.ID, svc overlay.ServiceID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return overlay.ErrClosed
	}
	m := t.member(to)
	if m == nil {
		return errors.Wrapf(overlay.ErrUnreachable, "%s is not a live member", to)
	}
	b, err := overlay.EncodeFrame(overlay.Frame{Source: t.id, Service: svc, Data: data})
	if err != nil {
		return err
	}
	return t.launch(to, svc, func() {
		if err := t.ml.SendReliable(m, b); err != nil {
			t.L.Debugw("delivery failed", "to", to, "service", svc, "error", err)
		}
	})
}

// Broadcast implements overlay.Overlay.
func (t *Transport) Broadcast(ctx context.Context, svc overlay.ServiceID, data []byte) error {
	for _, id := range t.Members().WhereNot(t.id) {
		if err := t.Send(ctx, id, svc, data); err != nil && errors.Is(err, overlay.ErrClosed) {
			return err
		}
	}
	return nil
}

// Bind implements overlay.Overlay.
func (t *Transport) Bind(svc overlay.ServiceID, h overlay.Handler) error {
	return t.handlers.Bind(svc, h)
}

// Unbind implements overlay.Overlay.
func (t *Transport) Unbind(svc overlay.ServiceID) error { return t.handlers.Unbind(svc) }

// Close leaves the gossip cluster and shuts the memberlist down.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	_ = t.sends.Wait()
	if err := t.ml.Leave(t.LeaveTimeout); err != nil {
		t.L.Debugw("leave failed", "error", err)
	}
	return t.ml.Shutdown()
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

func (t *Transport) receive(b []byte) {
	f, err := overlay.DecodeFrame(b)
	if err != nil {
		t.L.Debugw("dropping undecodable frame", "error", err)
		return
	}
	t.handlers.Dispatch(f.Service, f.Source, f.Data)
}

// delegate routes user messages into the transport. The overlay carries no
// gossip state of its own.
type delegate struct{ t *Transport }

var _ memberlist.Delegate = (*delegate)(nil)

func (d *delegate) NodeMeta(int) []byte { return nil }

// NotifyMsg must not retain the buffer.
func (d *delegate) NotifyMsg(b []byte) {
	buf := make([]byte, len(b))
	copy(buf, b)
	d.t.receive(buf)
}

func (d *delegate) GetBroadcasts(int, int) [][]byte { return nil }

func (d *delegate) LocalState(bool) []byte { return nil }

func (d *delegate) MergeRemoteState([]byte, bool) {}
