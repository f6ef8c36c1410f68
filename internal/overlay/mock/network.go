// Package mock implements an in-memory overlay network for tests.
package mock

import (
	"context"
	"sync"

	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/overlay"
	"github.com/cockroachdb/errors"
)

// Entry is a record of a frame handed to the network.
type Entry struct {
	From, To  node.ID
	Service   overlay.ServiceID
	Data      []byte
	Broadcast bool
	Dropped   bool
}

// Network routes frames between in-memory overlays synchronously. Links can be
// cut to simulate partitions and node failures.
type Network struct {
	mu      sync.RWMutex
	routes  map[node.ID]*Overlay
	order   node.Group
	cut     map[[2]node.ID]bool
	down    map[node.ID]bool
	entries []Entry
}

// NewNetwork opens a network with no routes.
func NewNetwork() *Network {
	return &Network{
		routes: make(map[node.ID]*Overlay),
		cut:    make(map[[2]node.ID]bool),
		down:   make(map[node.ID]bool),
	}
}

// Route attaches a new overlay with the given identity to the network.
func (n *Network) Route(id node.ID) *Overlay {
	n.mu.Lock()
	defer n.mu.Unlock()
	o := &Overlay{net: n, id: id}
	if _, ok := n.routes[id]; !ok {
		n.order = append(n.order, id)
	}
	n.routes[id] = o
	delete(n.down, id)
	return o
}

// Kill silently drops every frame to and from id, as if the node crashed.
func (n *Network) Kill(id node.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[id] = true
}

// Revive undoes Kill.
func (n *Network) Revive(id node.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.down, id)
}

// Cut drops frames in both directions between a and b.
func (n *Network) Cut(a, b node.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[[2]node.ID{a, b}], n.cut[[2]node.ID{b, a}] = true, true
}

// Heal restores every cut link.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut = make(map[[2]node.ID]bool)
}

// Entries returns a copy of the frames handed to the network so far.
func (n *Network) Entries() []Entry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Entry, len(n.entries))
	copy(out, n.entries)
	return out
}

func (n *Network) resolve(from, to node.ID, svc overlay.ServiceID, data []byte, broadcast bool) (*Overlay, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	dst, ok := n.routes[to]
	reachable := ok && !n.down[from] && !n.down[to] && !n.cut[[2]node.ID{from, to}]
	n.entries = append(n.entries, Entry{
		From:      from,
		To:        to,
		Service:   svc,
		Data:      data,
		Broadcast: broadcast,
		Dropped:   !reachable,
	})
	return dst, reachable
}

func (n *Network) peers(of node.ID) node.Group {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.order.WhereNot(of)
}

// Overlay is a single node's attachment to a Network. It implements
// overlay.Overlay.
type Overlay struct {
	net      *Network
	id       node.ID
	handlers overlay.Handlers
}

var _ overlay.Overlay = (*Overlay)(nil)

// ID implements overlay.Overlay.
func (o *Overlay) ID() node.ID { return o.id }

// Send implements overlay.Overlay.
func (o *Overlay) Send(ctx context.Context, to node.ID, svc overlay.ServiceID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.deliver(to, svc, data, false)
}

// Broadcast implements overlay.Overlay.
func (o *Overlay) Broadcast(ctx context.Context, svc overlay.ServiceID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, to := range o.net.peers(o.id) {
		_ = o.deliver(to, svc, data, true)
	}
	return nil
}

func (o *Overlay) deliver(to node.ID, svc overlay.ServiceID, data []byte, broadcast bool) error {
	dst, ok := o.net.resolve(o.id, to, svc, data, broadcast)
	if dst == nil {
		return errors.Wrapf(overlay.ErrUnreachable, "no route to %s", to)
	}
	if !ok {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	dst.handlers.Dispatch(svc, o.id, buf)
	return nil
}

// Bind implements overlay.Overlay.
func (o *Overlay) Bind(svc overlay.ServiceID, h overlay.Handler) error {
	return o.handlers.Bind(svc, h)
}

// Unbind implements overlay.Overlay.
func (o *Overlay) Unbind(svc overlay.ServiceID) error { return o.handlers.Unbind(svc) }
