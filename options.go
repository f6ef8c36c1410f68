package mcpo

import (
	"time"

	"github.com/arya-analytics/mcpo/internal/engine"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	// dirname is the directory a pebble backed rendezvous store is opened in.
	// It cannot be combined with WithStore.
	dirname string
	// engine is the configuration of the protocol engine.
	engine engine.Config
	// propagation overrides the engine's timing.
	propagation PropagationConfig
}

func newOptions(ov Overlay, opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.engine.Overlay = ov
	mergeDefaultOptions(o)
	return o
}

func validateOptions(o *options) error {
	if o.engine.Overlay == nil {
		return errors.New("[mcpo] - an overlay is required")
	}
	if o.engine.Store != nil && o.dirname != "" {
		return errors.New("[mcpo] - a store and a store directory are mutually exclusive")
	}
	return o.engine.Validate()
}

func mergeDefaultOptions(o *options) {
	def := defaultOptions()

	// |||| PROPAGATION ||||

	o.propagation.apply(&o.engine)

	// |||| ENGINE ||||

	o.engine = o.engine.Merge(def.engine)
}

func defaultOptions() *options {
	return &options{engine: engine.DefaultConfig()}
}

// PropagationConfig tunes how quickly the hierarchy reacts to change. Zero
// fields keep their defaults.
type PropagationConfig struct {
	// Backoff is the delay between open and the rendezvous lookup.
	Backoff time.Duration
	// BootstrapTimeout is how long to wait for a rendezvous reply before
	// self-electing.
	BootstrapTimeout time.Duration
	// HeartbeatInterval is the heartbeat period.
	HeartbeatInterval time.Duration
	// MaintenanceInterval is the period of the split, merge and eviction
	// pass.
	MaintenanceInterval time.Duration
	// QueryTimeout bounds a join query.
	QueryTimeout time.Duration
	// StructureTimeout is how long a node waits for a leader heartbeat before
	// rejoining.
	StructureTimeout time.Duration
	// PeerTimeout is the silence after which a peer is evicted.
	PeerTimeout time.Duration
	// CollisionCheckInterval is how often a store backed rendezvous point
	// re-reads the store for a competitor.
	CollisionCheckInterval time.Duration
}

func (p PropagationConfig) apply(cfg *engine.Config) {
	for _, f := range []struct {
		from time.Duration
		to   *time.Duration
	}{
		{p.Backoff, &cfg.Backoff},
		{p.BootstrapTimeout, &cfg.BootstrapTimeout},
		{p.HeartbeatInterval, &cfg.HeartbeatInterval},
		{p.MaintenanceInterval, &cfg.MaintenanceInterval},
		{p.QueryTimeout, &cfg.QueryTimeout},
		{p.StructureTimeout, &cfg.StructureTimeout},
		{p.PeerTimeout, &cfg.PeerTimeout},
		{p.CollisionCheckInterval, &cfg.CollisionCheckInterval},
	} {
		if f.from != 0 {
			*f.to = f.from
		}
	}
}

// WithLogger sets the logger for the service and its engine.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.engine.Logger = logger }
}

// WithK sets the cluster size parameter. Clusters hold between k and 3k-1
// members.
func WithK(k int) Option { return func(o *options) { o.engine.K = k } }

// WithService sets the overlay service the protocol binds to. Nodes only see
// each other if they use the same service.
func WithService(svc ServiceID) Option {
	return func(o *options) { o.engine.Service = svc }
}

// WithReceiver sets the application callbacks.
func WithReceiver(r Receiver) Option { return func(o *options) { o.engine.Receiver = r } }

// WithStore publishes and discovers the rendezvous point through store. The
// caller keeps ownership of the store.
func WithStore(store Store) Option { return func(o *options) { o.engine.Store = store } }

// WithDir opens a pebble rendezvous store in dirname. The service closes it.
func WithDir(dirname string) Option { return func(o *options) { o.dirname = dirname } }

// WithMeasurer replaces ping probing of supercluster peers with an external
// distance provider.
func WithMeasurer(m Measurer) Option { return func(o *options) { o.engine.Measurer = m } }

// WithClock sets the clock every timer is armed on.
func WithClock(c clock.Clock) Option { return func(o *options) { o.engine.Clock = c } }

// WithPropagationConfig overrides the protocol timing.
func WithPropagationConfig(cfg PropagationConfig) Option {
	return func(o *options) { o.propagation = cfg }
}
