// Package mock builds multicast services over an in-memory overlay network
// for tests.
package mock

import (
	"os"
	"sort"
	"strconv"

	"github.com/arya-analytics/mcpo"
	omock "github.com/arya-analytics/mcpo/internal/overlay/mock"
	"github.com/arya-analytics/mcpo/kv/pebblekv"
	"github.com/cockroachdb/errors"
)

// Builder opens services that share one in-memory network and one rendezvous
// store.
type Builder struct {
	// DataDir is the parent of the temporary directory the shared rendezvous
	// store is written to. It is ignored if Store is set.
	DataDir        string
	DefaultOptions []mcpo.Option
	// Network routes frames between the services. Kill and Cut on it simulate
	// crashes and partitions.
	Network *omock.Network
	// Store is the rendezvous store shared by every service. When nil the
	// builder opens a pebble store in a temporary directory.
	Store  mcpo.Store
	Nodes  map[mcpo.NodeID]mcpo.Service
	db     *pebblekv.DB
	tmpDir string
}

func (b *Builder) Dir() string {
	if b.tmpDir == "" {
		var err error
		b.tmpDir, err = os.MkdirTemp(b.DataDir, "mcpo")
		if err != nil {
			panic(err)
		}
	}
	return b.tmpDir
}

// New opens a service with the next free node ID.
func (b *Builder) New(opts ...mcpo.Option) (mcpo.Service, error) {
	if b.Network == nil {
		b.Network = omock.NewNetwork()
	}
	if b.Nodes == nil {
		b.Nodes = make(map[mcpo.NodeID]mcpo.Service)
	}
	if b.Store == nil {
		db, err := pebblekv.Open(pebblekv.Config{Dirname: b.Dir()})
		if err != nil {
			return nil, err
		}
		b.db, b.Store = db, db
	}
	id := mcpo.NodeID("node-" + strconv.Itoa(len(b.Nodes)+1))
	opts = append(append([]mcpo.Option{mcpo.WithStore(b.Store)}, b.DefaultOptions...), opts...)
	svc, err := mcpo.Open(b.Network.Route(id), opts...)
	if err != nil {
		return nil, err
	}
	b.Nodes[id] = svc
	return svc, nil
}

// NewN opens n services.
func (b *Builder) NewN(n int, opts ...mcpo.Option) ([]mcpo.Service, error) {
	svcs := make([]mcpo.Service, 0, n)
	for i := 0; i < n; i++ {
		svc, err := b.New(opts...)
		if err != nil {
			return svcs, err
		}
		svcs = append(svcs, svc)
	}
	return svcs, nil
}

// Close closes every service and the store the builder opened. Closing a
// service twice is harmless.
func (b *Builder) Close() error {
	ids := make([]mcpo.NodeID, 0, len(b.Nodes))
	for id := range b.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var err error
	for _, id := range ids {
		err = errors.CombineErrors(err, b.Nodes[id].Close())
	}
	if b.db != nil {
		err = errors.CombineErrors(err, b.db.Close())
		b.db = nil
	}
	return err
}

// Cleanup removes the temporary directory the builder wrote to.
func (b *Builder) Cleanup() error {
	if b.tmpDir == "" {
		return nil
	}
	return os.RemoveAll(b.tmpDir)
}
