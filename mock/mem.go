package mock

import (
	"time"

	"github.com/arya-analytics/mcpo"
	omock "github.com/arya-analytics/mcpo/internal/overlay/mock"
	"github.com/arya-analytics/mcpo/kv/pebblekv"
	"github.com/cockroachdb/pebble/vfs"
)

// FastPropagation is timing tuned for in-memory tests.
var FastPropagation = mcpo.PropagationConfig{
	Backoff:                time.Millisecond,
	BootstrapTimeout:       100 * time.Millisecond,
	HeartbeatInterval:      20 * time.Millisecond,
	MaintenanceInterval:    33 * time.Millisecond,
	QueryTimeout:           100 * time.Millisecond,
	StructureTimeout:       250 * time.Millisecond,
	PeerTimeout:            150 * time.Millisecond,
	CollisionCheckInterval: 100 * time.Millisecond,
}

// NewMemBuilder returns a builder whose services share an in-memory network
// and an in-memory rendezvous store.
func NewMemBuilder(defaultOpts ...mcpo.Option) (*Builder, error) {
	db, err := pebblekv.Open(pebblekv.Config{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &Builder{
		DefaultOptions: append([]mcpo.Option{
			mcpo.WithPropagationConfig(FastPropagation),
		}, defaultOpts...),
		Network: omock.NewNetwork(),
		Store:   db,
		Nodes:   make(map[mcpo.NodeID]mcpo.Service),
		db:      db,
	}, nil
}
