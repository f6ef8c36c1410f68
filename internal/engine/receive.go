package engine

import (
	"time"

	"github.com/arya-analytics/mcpo/internal/distance"
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/telemetry"
)

// sighting is a leader heartbeat observed on a layer.
type sighting struct {
	from node.ID
	at   time.Time
}

const collisionHistory = 4

func (e *Engine) handleHeartbeat(msg message.Message) {
	var (
		layer = int(msg.Layer)
		from  = msg.Source
		body  = msg.Body.(message.Heartbeat)
	)
	if layer < 0 {
		return
	}
	c := e.clusters.Peek(layer)
	if !c.Contains(from) {
		// A stranger to a leader lost its join request. A known peer that is
		// no longer a member has moved to another cluster.
		if _, known := e.peers.Get(from); known || !e.clusters.IsLeader(layer) {
			return
		}
		e.L.Debugw("admitting unknown member", "from", from, "layer", layer)
		c.Add(from)
	}
	e.observe(from, body)
}

func (e *Engine) handleLeaderHeartbeat(msg message.Message) {
	var (
		layer = int(msg.Layer)
		from  = msg.Source
		body  = msg.Body.(message.Heartbeat)
	)
	if layer < 0 {
		return
	}
	e.observe(from, body)
	if loser := e.detectCollision(layer, from); !loser.IsZero() {
		e.L.Infow("alternating leaders detected, leaving", "layer", layer, "loser", loser, "winner", from)
		e.sendLayer(loser, message.VariantRemove, layer, nil)
	}
	c := e.clusters.Peek(layer)
	if !c.Contains(e.host) {
		e.sendLayer(from, message.VariantRemove, layer, nil)
		return
	}
	if c.Leader() == e.host {
		if e.now().Sub(c.LastTransfer) < e.TransferGrace {
			return
		}
		if !e.yields(from, c.Members().Union(body.Members...)) {
			e.sendHeartbeat(layer, from)
			return
		}
		e.L.Infow("handing layer to competing leader", "layer", layer, "to", from)
		e.leaderTransfer(layer, from, c.Members())
		c.SetLeader(from)
		e.gracefulLeave(layer)
	}
	e.adopt(layer, from, body)
}

// yields decides a leadership conflict between the host and a competing
// leader. A clearly better max distance wins; otherwise the greater ID does,
// matching the rendezvous point rule.
func (e *Engine) yields(to node.ID, members node.Group) bool {
	var (
		ours   = distance.Max(e.peers, e.host, members)
		theirs = distance.Max(e.peers, to, members)
	)
	if ours.Known() && theirs.Known() {
		gap := ours.Duration() - theirs.Duration()
		if gap > e.ReplaceMinOffset || gap < -e.ReplaceMinOffset {
			return gap > 0
		}
	}
	return to.Greater(e.host)
}

// adopt rebuilds the host's view of layer and the supercluster above it from
// a leader heartbeat.
func (e *Engine) adopt(layer int, leader node.ID, hb message.Heartbeat) {
	now := e.now()
	e.clusters.ClearFrom(layer)
	c := e.clusters.At(layer)
	c.Add(hb.Members...)
	for _, m := range hb.Members {
		e.peers.Ensure(m, now)
	}
	c.SetLeader(leader)
	if !hb.Members.Contains(e.host) {
		e.requestJoin(leader, layer)
	}
	if len(hb.SuperMembers) > 0 {
		sup := e.clusters.At(layer + 1)
		sup.Add(hb.SuperMembers...)
		sup.SetLeader(hb.SuperLeader)
	} else if e.rp != leader {
		// A leader without a supercluster is the top of the hierarchy.
		e.setRendezvous(leader)
	}
	e.clusters.Trim()
	if e.rp != e.host {
		e.structure.start(e.StructureTimeout)
	}
}

// detectCollision records a leader heartbeat and returns the losing sender if
// the recent history alternates between two leaders.
func (e *Engine) detectCollision(layer int, from node.ID) node.ID {
	now := e.now()
	h := append(e.seen[layer], sighting{from: from, at: now})
	if len(h) > collisionHistory {
		h = h[len(h)-collisionHistory:]
	}
	e.seen[layer] = h
	if len(h) < collisionHistory || now.Sub(h[0].at) > e.CollisionWindow {
		return node.Unspecified
	}
	a, b := h[0].from, h[1].from
	if a == b || h[2].from != a || h[3].from != b {
		return node.Unspecified
	}
	delete(e.seen, layer)
	return a
}

// handleLeaderTransfer installs the host as leader of a layer and wires it
// into the supercluster carried by the transfer.
func (e *Engine) handleLeaderTransfer(msg message.Message) {
	var (
		layer = int(msg.Layer)
		body  = msg.Body.(message.Heartbeat)
		now   = e.now()
	)
	if layer < 0 {
		return
	}
	c := e.clusters.At(layer)
	if e.clusters.IsLeader(layer) {
		c.Add(body.Members...)
		for _, m := range body.Members {
			e.peers.Ensure(m, now)
		}
		e.sendHeartbeats()
		return
	}
	e.L.Infow("received leadership", "layer", layer, "from", msg.Source)
	e.metrics.Event(telemetry.EventLeaderTransfer)
	c.Clear()
	c.SetLeader(e.host)
	c.Add(body.Members...)
	for _, m := range body.Members {
		if info := e.peers.Ensure(m, now); info != nil {
			info.Touch(now)
		}
	}
	c.LastTransfer = now
	e.clusters.ClearFrom(layer + 1)
	if len(body.SuperMembers) > 0 {
		sup := e.clusters.At(layer + 1)
		sup.Add(body.SuperMembers...)
		sup.Add(e.host)
		leader := body.SuperLeader
		if leader.IsZero() {
			leader, _ = distance.Center(e.peers, sup.Members())
		}
		sup.SetLeader(leader)
		if leader != e.host {
			e.requestJoin(leader, layer+1)
		} else if e.clusters.Peek(layer + 2).Empty() {
			e.becomeRendezvous()
		}
	} else {
		e.becomeRendezvous()
	}
	e.clusters.Trim()
	if e.join.active {
		e.join = joinState{}
		e.queryT.stop()
	}
	if e.state != StateReady {
		e.becomeReady()
	}
	e.sendHeartbeats()
}

func (e *Engine) handleRemove(msg message.Message) {
	layer := int(msg.Layer)
	if layer < 0 || !e.clusters.IsLeader(layer) {
		return
	}
	e.clusters.At(layer).Remove(msg.Source)
	e.sendHeartbeats()
}
