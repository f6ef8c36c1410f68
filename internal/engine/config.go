package engine

import (
	"time"

	"github.com/arya-analytics/mcpo/internal/kv"
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/overlay"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Config is used for configuring a protocol engine.
type Config struct {
	// Overlay is the substrate the engine sends and receives through.
	// [Required]
	Overlay overlay.Overlay
	// Service is the ID the engine binds on the overlay. All engines of one
	// multicast instance must use the same service.
	Service overlay.ServiceID
	// Receiver is notified when the engine becomes ready and when group data
	// arrives.
	Receiver Receiver
	// Store is an optional shared key-value store used to publish and
	// discover the rendezvous point. When nil, discovery falls back to
	// overlay broadcast.
	Store kv.Store
	// Measurer is an optional external distance provider that replaces ping
	// probing of supercluster peers.
	Measurer Measurer
	// Logger is the witness of it all.
	Logger *zap.Logger
	// Clock drives every timer the engine arms.
	Clock clock.Clock
	// K is the cluster size parameter. Clusters hold between K and 3K-1
	// members.
	K int
	// Backoff is the delay between start and the rendezvous lookup.
	Backoff time.Duration
	// BootstrapTimeout is how long to wait for a rendezvous reply before
	// self-electing.
	BootstrapTimeout time.Duration
	// HeartbeatInterval sets the heartbeat period.
	HeartbeatInterval time.Duration
	// MaintenanceInterval sets the period of the maintenance pass.
	MaintenanceInterval time.Duration
	// QueryTimeout is how long to wait for a join query or ping response.
	QueryTimeout time.Duration
	// MaxQueryRetries is the number of consecutive query timeouts tolerated
	// before the join is abandoned.
	MaxQueryRetries int
	// StructureTimeout is how long a non-rendezvous node waits for a leader
	// heartbeat before rejoining from layer 0.
	StructureTimeout time.Duration
	// CollisionCheckInterval is the period at which a store backed rendezvous
	// point checks the store for a competing rendezvous point.
	CollisionCheckInterval time.Duration
	// PeerTimeout is the silence after which a peer is evicted.
	PeerTimeout time.Duration
	// TransferGrace is the window after a leader transfer during which leader
	// heartbeats for the transferred layer are ignored.
	TransferGrace time.Duration
	// CollisionWindow bounds the alternating leader heartbeat detector.
	CollisionWindow time.Duration
	// TempPeerTTL is how long a temporary peering lasts without release.
	TempPeerTTL time.Duration
	// RendezvousTTL is the lifetime of the rendezvous entry in the store.
	RendezvousTTL time.Duration
	// SendTimeout bounds every overlay send and store operation.
	SendTimeout time.Duration
	// SuperclusterProcDistance is the fraction by which a supercluster peer
	// must be closer than the current leader before migrating. Zero selects
	// the default.
	SuperclusterProcDistance float64
	// SuperclusterMinOffset is the minimum migration gain as a fraction of the
	// mean supercluster distance. Zero selects the default.
	SuperclusterMinOffset float64
	// ReplaceProcDistance is the fraction by which a candidate leader must
	// improve on the current leader's max distance. Zero selects the default.
	ReplaceProcDistance float64
	// ReplaceMeanFraction scales the mean cluster distance into the minimum
	// improvement a replacement leader must offer. Zero selects the default.
	ReplaceMeanFraction float64
	// ReplaceMinOffset is the floor of the minimum replacement improvement.
	ReplaceMinOffset time.Duration
	// QueueSize is the capacity of the engine's event queue.
	QueueSize int
}

// Merge fills the zero fields of cfg from def. A zero threshold fraction is
// indistinguishable from an unset one, so it too takes the default; pass a
// small positive fraction to make a threshold negligible.
func (cfg Config) Merge(def Config) Config {
	if cfg.Service == "" {
		cfg.Service = def.Service
	}
	if cfg.Receiver == nil {
		cfg.Receiver = def.Receiver
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.K == 0 {
		cfg.K = def.K
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.BootstrapTimeout == 0 {
		cfg.BootstrapTimeout = def.BootstrapTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = def.MaintenanceInterval
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	if cfg.MaxQueryRetries == 0 {
		cfg.MaxQueryRetries = def.MaxQueryRetries
	}
	if cfg.StructureTimeout == 0 {
		cfg.StructureTimeout = def.StructureTimeout
	}
	if cfg.CollisionCheckInterval == 0 {
		cfg.CollisionCheckInterval = def.CollisionCheckInterval
	}
	if cfg.PeerTimeout == 0 {
		cfg.PeerTimeout = def.PeerTimeout
	}
	if cfg.TransferGrace == 0 {
		cfg.TransferGrace = def.TransferGrace
	}
	if cfg.CollisionWindow == 0 {
		cfg.CollisionWindow = def.CollisionWindow
	}
	if cfg.TempPeerTTL == 0 {
		cfg.TempPeerTTL = def.TempPeerTTL
	}
	if cfg.RendezvousTTL == 0 {
		cfg.RendezvousTTL = def.RendezvousTTL
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.SuperclusterProcDistance == 0 {
		cfg.SuperclusterProcDistance = def.SuperclusterProcDistance
	}
	if cfg.SuperclusterMinOffset == 0 {
		cfg.SuperclusterMinOffset = def.SuperclusterMinOffset
	}
	if cfg.ReplaceProcDistance == 0 {
		cfg.ReplaceProcDistance = def.ReplaceProcDistance
	}
	if cfg.ReplaceMeanFraction == 0 {
		cfg.ReplaceMeanFraction = def.ReplaceMeanFraction
	}
	if cfg.ReplaceMinOffset == 0 {
		cfg.ReplaceMinOffset = def.ReplaceMinOffset
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = def.QueueSize
	}
	return cfg
}

// Validate returns an error if the config cannot run an engine.
func (cfg Config) Validate() error {
	if cfg.Overlay == nil {
		return errors.New("[engine] - overlay is required")
	}
	if cfg.Overlay.ID().IsZero() {
		return errors.New("[engine] - overlay must provide a node id")
	}
	if cfg.Service == "" {
		return errors.New("[engine] - service is required")
	}
	if cfg.K < 2 {
		return errors.Newf("[engine] - k must be at least 2, got %d", cfg.K)
	}
	if cfg.PeerTimeout <= cfg.HeartbeatInterval {
		return errors.Newf(
			"[engine] - peer timeout %s must exceed the heartbeat interval %s",
			cfg.PeerTimeout,
			cfg.HeartbeatInterval,
		)
	}
	if cfg.QueueSize < 1 {
		return errors.New("[engine] - queue size must be positive")
	}
	for name, v := range map[string]float64{
		"supercluster proc distance": cfg.SuperclusterProcDistance,
		"supercluster min offset":    cfg.SuperclusterMinOffset,
		"replace proc distance":      cfg.ReplaceProcDistance,
		"replace mean fraction":      cfg.ReplaceMeanFraction,
	} {
		if v < 0 {
			return errors.Newf("[engine] - %s must not be negative, got %v", name, v)
		}
	}
	return nil
}

// DefaultConfig returns the protocol's default timing and sizing.
func DefaultConfig() Config {
	return Config{
		Service:                  "mcpo",
		Receiver:                 NopReceiver{},
		Logger:                   zap.NewNop(),
		Clock:                    clock.New(),
		K:                        2,
		Backoff:                  5 * time.Millisecond,
		BootstrapTimeout:         2 * time.Second,
		HeartbeatInterval:        2 * time.Second,
		MaintenanceInterval:      3300 * time.Millisecond,
		QueryTimeout:             2 * time.Second,
		MaxQueryRetries:          3,
		StructureTimeout:         5 * time.Second,
		CollisionCheckInterval:   10 * time.Second,
		PeerTimeout:              10 * time.Second,
		TransferGrace:            1 * time.Second,
		CollisionWindow:          5 * time.Second,
		TempPeerTTL:              15 * time.Second,
		RendezvousTTL:            time.Hour,
		SendTimeout:              2 * time.Second,
		SuperclusterProcDistance: 0.3,
		SuperclusterMinOffset:    1.0,
		ReplaceProcDistance:      0.3,
		ReplaceMeanFraction:      0.05,
		ReplaceMinOffset:         50 * time.Millisecond,
		QueueSize:                1024,
	}
}

// Receiver is the application surface of the engine. Callbacks run on a
// dedicated goroutine in order and may call back into the engine.
type Receiver interface {
	// OnServiceReady is called once, the first time the engine joins the
	// hierarchy.
	OnServiceReady()
	// OnReceiveData is called for every delivered payload.
	OnReceiveData(payload []byte, group message.GroupID)
}

// NopReceiver discards every callback.
type NopReceiver struct{}

func (NopReceiver) OnServiceReady() {}

func (NopReceiver) OnReceiveData([]byte, message.GroupID) {}
