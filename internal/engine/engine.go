// Package engine implements the hierarchical clustering protocol: rendezvous
// election, layered join, heartbeat maintenance, cluster split and merge,
// leader hand-off, partition recovery and group data dissemination.
//
// Every handler runs on a single event loop owned by the engine. Inbound
// messages, timer firings and application calls are posted onto the loop as
// closures, so the cluster and peer tables never need locking.
package engine

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/arya-analytics/mcpo/internal/cluster"
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/peer"
	"github.com/arya-analytics/mcpo/internal/telemetry"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by calls made after the engine has been closed.
var ErrClosed = errors.New("[engine] - closed")

// State is the bootstrap state of the engine.
type State uint8

const (
	// StateInit is looking for a rendezvous point.
	StateInit State = iota
	// StateBootstrap knows the rendezvous point and is joining the hierarchy.
	StateBootstrap
	// StateReady is part of the hierarchy.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateBootstrap:
		return "bootstrap"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Engine is a single participant in the multicast hierarchy.
type Engine struct {
	Config
	host     node.ID
	L        *zap.SugaredLogger
	metrics  *telemetry.Node
	clusters *cluster.Table
	peers    *peer.Table
	handlers map[message.Variant]func(message.Message)

	state    State
	rp       node.ID
	notified bool
	groups   map[message.GroupID]struct{}
	temp     map[node.ID]time.Time
	seen     map[int][]sighting
	join     joinState

	backoff     *timer
	bootstrapT  *timer
	heartbeat   *timer
	maintenance *timer
	queryT      *timer
	structure   *timer
	collision   *timer

	events     chan func()
	deliveries chan func()
	closed     chan struct{}
	delivered  chan struct{}
	inCallback atomic.Bool
	started    bool
	shutdown   bool
	wg         errgroup.Group
}

// New validates the config and opens an engine. The engine does nothing until
// Start is called.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	host := cfg.Overlay.ID()
	e := &Engine{
		Config:     cfg,
		host:       host,
		L:          cfg.Logger.Named("mcpo").With(host.Field("host")).Sugar(),
		metrics:    telemetry.For(string(host)),
		clusters:   cluster.NewTable(host),
		peers:      peer.NewTable(host),
		groups:     make(map[message.GroupID]struct{}),
		temp:       make(map[node.ID]time.Time),
		seen:       make(map[int][]sighting),
		events:     make(chan func(), cfg.QueueSize),
		deliveries: make(chan func(), cfg.QueueSize),
		closed:     make(chan struct{}),
		delivered:  make(chan struct{}),
	}
	e.backoff = e.newTimer("backoff", 0, e.init)
	e.bootstrapT = e.newTimer("bootstrap", 0, e.bootstrapTimeout)
	e.heartbeat = e.newTimer("heartbeat", cfg.HeartbeatInterval, e.sendHeartbeats)
	e.maintenance = e.newTimer("maintenance", cfg.MaintenanceInterval, e.maintain)
	e.queryT = e.newTimer("query", 0, e.queryTimeout)
	e.structure = e.newTimer("structure", 0, e.reconnect)
	e.collision = e.newTimer("collision", cfg.CollisionCheckInterval, e.checkCollision)
	e.bindHandlers()
	return e, nil
}

// Host returns the ID of the local node.
func (e *Engine) Host() node.ID { return e.host }

// Start binds the engine to its overlay service and begins rendezvous
// discovery after the configured back-off.
func (e *Engine) Start() error {
	if e.started {
		return errors.New("[engine] - already started")
	}
	if err := e.Overlay.Bind(e.Service, e.receive); err != nil {
		return errors.Wrapf(err, "[engine] - failed to bind service %s", e.Service)
	}
	e.started = true
	e.wg.Go(func() error { e.run(); return nil })
	go e.deliver()
	return e.do(func() {
		e.setState(StateInit)
		e.backoff.start(e.Backoff)
	})
}

// Close gracefully leaves every layer, stops all timers and waits for the
// event loop to exit. Called from a Receiver callback, Close does not wait for
// the callback goroutine, which is the caller.
func (e *Engine) Close() error {
	if !e.started {
		return nil
	}
	err := e.do(func() {
		e.gracefulLeave(cluster.NoLayer)
		e.stopTimers()
		e.shutdown = true
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	uErr := e.Overlay.Unbind(e.Service)
	close(e.closed)
	_ = e.wg.Wait()
	if !e.inCallback.Load() {
		<-e.delivered
	}
	return uErr
}

func (e *Engine) run() {
	for {
		select {
		case f := <-e.events:
			f()
		case <-e.closed:
			return
		}
	}
}

func (e *Engine) deliver() {
	defer close(e.delivered)
	for {
		select {
		case f := <-e.deliveries:
			e.inCallback.Store(true)
			f()
			e.inCallback.Store(false)
		case <-e.closed:
			return
		}
	}
}

// post queues f on the event loop, blocking until there is room.
func (e *Engine) post(f func()) bool {
	select {
	case e.events <- f:
		return true
	case <-e.closed:
		return false
	}
}

// do runs f on the event loop and waits for it to complete.
func (e *Engine) do(f func()) error {
	var (
		done = make(chan struct{})
		err  error
	)
	if !e.post(func() {
		defer close(done)
		if e.shutdown {
			err = ErrClosed
			return
		}
		f()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return err
	case <-e.closed:
		return ErrClosed
	}
}

// notify hands an application callback to the delivery goroutine. Callbacks
// may call back into the engine, so the loop never waits on a full delivery
// queue; the callback is dropped instead.
func (e *Engine) notify(f func()) {
	select {
	case e.deliveries <- f:
	default:
		e.L.Warnw("delivery queue full, dropping callback")
		e.metrics.Dropped("delivery_full")
	}
}

func (e *Engine) stopTimers() {
	for _, t := range []*timer{
		e.backoff,
		e.bootstrapT,
		e.heartbeat,
		e.maintenance,
		e.queryT,
		e.structure,
		e.collision,
	} {
		t.stop()
	}
}

func (e *Engine) now() time.Time { return e.Clock.Now() }

func (e *Engine) setState(s State) {
	if e.state != s {
		e.L.Debugw("state transition", "from", e.state, "to", s)
	}
	e.state = s
	e.metrics.SetState(int(s))
}

// Layer is a snapshot of one cluster the engine knows about.
type Layer struct {
	Layer   int
	Leader  node.ID
	Members node.Group
}

// Snapshot is a point in time view of the engine's position in the hierarchy.
type Snapshot struct {
	Host   node.ID
	State  State
	RP     node.ID
	Layers []Layer
	Groups []message.GroupID
}

// Layer returns the snapshot of the given layer, or an empty one.
func (s Snapshot) Layer(layer int) Layer {
	for _, l := range s.Layers {
		if l.Layer == layer {
			return l
		}
	}
	return Layer{Layer: layer}
}

// IsLeader returns true if the host led the given layer.
func (s Snapshot) IsLeader(layer int) bool {
	l := s.Layer(layer)
	return l.Leader == s.Host && l.Members.Contains(s.Host)
}

// Snapshot returns the current view of the engine.
func (e *Engine) Snapshot() (s Snapshot, err error) {
	err = e.do(func() { s = e.snapshot() })
	return s, err
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{Host: e.host, State: e.state, RP: e.rp}
	for l := 0; l < e.clusters.Depth(); l++ {
		c := e.clusters.Peek(l)
		if c.Empty() {
			continue
		}
		s.Layers = append(s.Layers, Layer{Layer: l, Leader: c.Leader(), Members: c.Members()})
	}
	for g := range e.groups {
		s.Groups = append(s.Groups, g)
	}
	sort.Slice(s.Groups, func(i, j int) bool { return s.Groups[i] < s.Groups[j] })
	return s
}

func (e *Engine) sendContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.SendTimeout)
}
