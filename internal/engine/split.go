package engine

import (
	"github.com/arya-analytics/mcpo/internal/distance"
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/telemetry"
)

// split divides an oversized cluster led by the host into two, each under its
// distance center, and places both centers in the supercluster.
func (e *Engine) split(layer int) {
	var (
		c  = e.clusters.At(layer)
		p  = distance.Split(e.peers, c.Members(), 6*e.K-1)
		c1 = p.FirstCenter
		c2 = p.SecondCenter
	)
	e.L.Infow(
		"splitting cluster",
		"layer", layer,
		"size", c.Size(),
		"first", c1,
		"second", c2,
	)
	e.metrics.Event(telemetry.EventSplit)
	if c1 != e.host && c2 != e.host {
		e.gracefulLeave(layer)
		if sup := e.clusters.At(layer + 1); sup.Empty() {
			sup.Add(c1, c2)
			sup.SetLeader(c1)
			e.setRendezvous(c1)
		}
		e.leaderTransfer(layer, c1, p.First)
		e.leaderTransfer(layer, c2, p.Second)
	} else {
		other, otherCenter := p.Other(e.host)
		sup := e.clusters.At(layer + 1)
		if sup.Empty() {
			sup.Add(c1, c2)
			sup.SetLeader(e.host)
		} else {
			sup.Add(otherCenter)
		}
		e.leaderTransfer(layer, otherCenter, other)
	}
	side, center := p.Side(e.host)
	c.Clear()
	c.Add(side...)
	c.SetLeader(center)
	e.sendHeartbeats()
}

// leaderTransfer hands leadership of layer over members to newLeader. The
// transfer carries the host's view of the supercluster so the new leader can
// join it.
func (e *Engine) leaderTransfer(layer int, newLeader node.ID, members node.Group) {
	var (
		sup = e.clusters.Peek(layer + 1)
		hb  = message.Heartbeat{
			Members:      members,
			Distances:    e.wireDistances(members),
			SuperLeader:  sup.Leader(),
			SuperMembers: sup.Members(),
		}
	)
	if sup.Empty() {
		hb.SuperLeader = newLeader
	}
	e.L.Debugw("transferring leadership", "layer", layer, "to", newLeader, "members", members)
	e.metrics.Event(telemetry.EventLeaderTransfer)
	e.sendLayer(newLeader, message.VariantLeaderTransfer, layer, hb)
}

// gracefulLeave exits every layer above bottom, top down. Leadership of a layer
// the host leads passes to the center of the remaining members; when that was
// the top layer the new leader becomes rendezvous point.
func (e *Engine) gracefulLeave(bottom int) {
	for l := e.clusters.Depth() - 1; l > bottom; l-- {
		c := e.clusters.Peek(l)
		if !c.Contains(e.host) {
			continue
		}
		if c.Leader() != e.host {
			e.sendLayer(c.Leader(), message.VariantRemove, l, nil)
			c.Remove(e.host)
			continue
		}
		c.Remove(e.host)
		if c.Empty() {
			continue
		}
		center, _ := distance.Center(e.peers, c.Members())
		c.SetLeader(center)
		e.leaderTransfer(l, center, c.Members())
		if e.clusters.Peek(l + 1).Empty() {
			e.setRendezvous(center)
		}
	}
}
