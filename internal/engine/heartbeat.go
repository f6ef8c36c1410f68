package engine

import (
	"context"
	"time"

	"github.com/arya-analytics/mcpo/internal/cluster"
	"github.com/arya-analytics/mcpo/internal/distance"
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/peer"
)

// Measurer is an external distance provider. When configured it replaces ping
// probing of supercluster peers; its results are folded into the same moving
// average as heartbeat samples.
type Measurer interface {
	// Measure returns the one-way latency to the given peer.
	Measure(ctx context.Context, to node.ID) (time.Duration, error)
}

// sendHeartbeats emits one heartbeat round over every layer the host belongs
// to, highest first, and then pings the supercluster.
func (e *Engine) sendHeartbeats() {
	for _, l := range e.clusters.MemberLayers() {
		c := e.clusters.At(l)
		for _, m := range c.Members().WhereNot(e.host) {
			e.sendHeartbeat(l, m)
		}
	}
	e.pingSupercluster()
}

// sendHeartbeat sends the host's view of layer to a single member. Leaders
// also carry the supercluster.
func (e *Engine) sendHeartbeat(layer int, to node.ID) {
	now := e.now()
	info := e.peers.Ensure(to, now)
	if info == nil {
		return
	}
	var (
		c       = e.clusters.At(layer)
		members = c.Members()
		variant = message.VariantHeartbeat
		hb      = message.Heartbeat{
			Seq:         info.NextSeq(now),
			ResponseSeq: info.LastRecvSeq,
			Delay:       uint32(info.Delay(now).Milliseconds()),
			Members:     members,
			Distances:   e.wireDistances(members),
		}
	)
	if c.Leader() == e.host {
		variant = message.VariantLeaderHeartbeat
		if sup := e.clusters.Peek(layer + 1); !sup.Empty() {
			hb.SuperLeader = sup.Leader()
			hb.SuperMembers = sup.Members()
		}
	}
	e.sendLayer(to, variant, layer, hb)
}

func (e *Engine) wireDistances(members node.Group) []uint32 {
	out := make([]uint32, len(members))
	for i, m := range members {
		out[i] = e.peers.Distance(m).Wire()
	}
	return out
}

// pingSupercluster measures the distance to the members of the cluster above
// the host's top layer, the candidates for migration.
func (e *Engine) pingSupercluster() {
	top := e.clusters.HighestLayer()
	if top == cluster.NoLayer {
		return
	}
	var (
		now     = e.now()
		leader  = e.clusters.Peek(top).Leader()
		targets = e.clusters.Peek(top+1).Members().WhereNot(e.host, leader)
	)
	for _, t := range targets {
		info := e.peers.Ensure(t, now)
		if e.Measurer != nil {
			e.measure(t)
			continue
		}
		info.PingStart = now
		e.sendLayer(t, message.VariantPing, top+1, nil)
	}
}

func (e *Engine) measure(to node.ID) {
	e.wg.Go(func() error {
		ctx, cancel := e.sendContext()
		defer cancel()
		d, err := e.Measurer.Measure(ctx, to)
		if err != nil {
			e.L.Debugw("measurement failed", "to", to, "error", err)
			return nil
		}
		e.post(func() { e.submit(to, d) })
		return nil
	})
}

// submit folds an externally measured or pinged sample into the estimate for
// a peer. A successful measurement proves the peer alive.
func (e *Engine) submit(id node.ID, d time.Duration) {
	e.peers.Submit(id, d, e.now())
	e.peers.Touch(id, e.now())
	e.metrics.ObserveDistance(d)
}

func (e *Engine) handlePing(msg message.Message) {
	e.sendLayer(msg.Source, message.VariantPingResponse, int(msg.Layer), nil)
}

func (e *Engine) handlePingResponse(msg message.Message) {
	info, ok := e.peers.Get(msg.Source)
	if !ok || info.PingStart.IsZero() {
		return
	}
	rtt := e.now().Sub(info.PingStart)
	info.PingStart = time.Time{}
	e.submit(msg.Source, rtt/2)
}

// observe applies the distance and liveness content of a heartbeat.
func (e *Engine) observe(from node.ID, hb message.Heartbeat) {
	now := e.now()
	info := e.peers.Ensure(from, now)
	if info == nil {
		return
	}
	dists := make([]distance.Value, len(hb.Distances))
	for i, w := range hb.Distances {
		dists[i] = distance.FromWire(w)
	}
	obs := peer.Observation{
		Seq:         hb.Seq,
		ResponseSeq: hb.ResponseSeq,
		Delay:       time.Duration(hb.Delay) * time.Millisecond,
		Members:     hb.Members,
		Distances:   dists,
	}
	if info.Observe(obs, now) {
		e.metrics.ObserveDistance(info.Distance.Duration())
	}
}
