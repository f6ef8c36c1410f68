package engine

import (
	"time"

	"github.com/arya-analytics/mcpo/internal/cluster"
	"github.com/arya-analytics/mcpo/internal/distance"
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/telemetry"
)

// maintain is the periodic maintenance pass. Structural changes end the pass
// early; rendezvous liveness is checked every time.
func (e *Engine) maintain() {
	now := e.now()
	e.expireTemporaryPeers(now)
	e.restructure(now)
	e.checkRendezvous()
	e.recordSizes()
}

func (e *Engine) restructure(now time.Time) {
	e.evict(now)
	if e.state != StateReady {
		return
	}
	if !e.checkConsistency() {
		return
	}
	if e.enforceBounds() {
		return
	}
	if e.reevaluateLeaders() {
		return
	}
	e.migrate()
}

func (e *Engine) expireTemporaryPeers(now time.Time) {
	for id, since := range e.temp {
		if now.Sub(since) > e.TempPeerTTL {
			delete(e.temp, id)
		}
	}
}

// evict drops peers that have been silent for longer than the peer timeout.
// Layers the evicted peer led get their distance center as new leader.
func (e *Engine) evict(now time.Time) {
	var promoted bool
	for _, id := range e.peers.Expired(now, e.PeerTimeout) {
		e.L.Infow("evicting silent peer", "peer", id)
		e.metrics.Event(telemetry.EventEviction)
		e.peers.Remove(id)
		delete(e.temp, id)
		for _, l := range e.clusters.RemoveAll(id) {
			if e.replaceLeader(l) {
				promoted = true
			}
		}
	}
	e.clusters.Trim()
	if promoted {
		e.sendHeartbeats()
	}
}

// replaceLeader elects the center of a layer whose leader was evicted. It
// returns true if the host was promoted.
func (e *Engine) replaceLeader(layer int) bool {
	c := e.clusters.At(layer)
	if c.Empty() {
		return false
	}
	center, _ := distance.Center(e.peers, c.Members())
	c.SetLeader(center)
	if center != e.host {
		if c.Contains(e.host) {
			e.leaderTransfer(layer, center, c.Members())
		}
		return false
	}
	e.L.Infow("promoted after leader eviction", "layer", layer)
	sup := e.clusters.Peek(layer + 1)
	switch {
	case sup.Empty():
		e.becomeRendezvous()
	case sup.Leader().IsZero():
		// The evicted peer led the supercluster too. It is re-elected when
		// the eviction reaches that layer.
		e.clusters.At(layer + 1).Add(e.host)
	case sup.Leader() != e.host:
		e.requestJoin(sup.Leader(), layer+1)
	}
	return true
}

// checkConsistency enforces that the host only belongs to layer L>0 while it
// leads layer L-1. It reports false if the host had to leave a layer.
func (e *Engine) checkConsistency() bool {
	for l := 1; l < e.clusters.Depth(); l++ {
		if !e.clusters.IsMember(l) || e.clusters.IsLeader(l-1) {
			continue
		}
		e.L.Warnw("member of a layer without leading the one below, leaving", "layer", l)
		e.gracefulLeave(l - 1)
		e.clusters.Trim()
		return false
	}
	return true
}

// enforceBounds splits the first oversized and merges the first undersized
// cluster the host leads, highest first.
func (e *Engine) enforceBounds() bool {
	for l := e.clusters.Depth() - 1; l >= 0; l-- {
		if !e.clusters.IsLeader(l) {
			continue
		}
		n := e.clusters.At(l).Size()
		if n > 3*e.K-1 {
			e.split(l)
			return true
		}
		if n < e.K && e.clusters.Peek(l+1).Size() > 1 && e.merge(l) {
			return true
		}
	}
	return false
}

// reevaluateLeaders hands a led layer to its distance center when the center
// improves on the host's max distance by a margin.
func (e *Engine) reevaluateLeaders() bool {
	for l := e.clusters.Depth() - 1; l >= 0; l-- {
		if !e.clusters.IsLeader(l) {
			continue
		}
		var (
			c       = e.clusters.At(l)
			members = c.Members()
		)
		if len(members) < 2 || !distance.Complete(e.peers, members) {
			continue
		}
		candidate, newMax := distance.Center(e.peers, members)
		oldMax := distance.Max(e.peers, e.host, members)
		if candidate == e.host || !newMax.Known() || !oldMax.Known() {
			continue
		}
		var (
			compare    = oldMax.Duration() - time.Duration(e.ReplaceProcDistance*float64(oldMax.Duration()))
			minCompare = time.Duration(e.ReplaceMeanFraction * float64(distance.Mean(e.peers, members)))
		)
		if minCompare < e.ReplaceMinOffset {
			minCompare = e.ReplaceMinOffset
		}
		if newMax.Duration() >= compare || compare-newMax.Duration() <= minCompare {
			continue
		}
		e.L.Infow(
			"replacing leader with distance center",
			"layer", l,
			"candidate", candidate,
			"old_max", oldMax,
			"new_max", newMax,
		)
		e.gracefulLeave(l)
		e.leaderTransfer(l, candidate, members)
		c.SetLeader(candidate)
		if e.clusters.Peek(l + 1).Empty() {
			e.setRendezvous(candidate)
		}
		e.clusters.Trim()
		return true
	}
	return false
}

// migrate moves a plain member of its top layer to a supercluster peer that
// is substantially closer than its current leader.
func (e *Engine) migrate() {
	top := e.clusters.HighestLayer()
	if top == cluster.NoLayer || e.clusters.IsLeader(top) || e.rp == e.host {
		return
	}
	var (
		sup    = e.clusters.Peek(top + 1)
		leader = e.clusters.Peek(top).Leader()
	)
	if sup.Size() <= 1 || leader.IsZero() {
		return
	}
	current, ok := e.peers.Distance(leader).Get()
	if !ok {
		return
	}
	candidate, best := distance.Closest(e.peers, sup.Members().WhereNot(leader))
	if candidate.IsZero() {
		return
	}
	var (
		threshold = current - time.Duration(e.SuperclusterProcDistance*float64(current))
		offset    = time.Duration(e.SuperclusterMinOffset * float64(distance.Mean(e.peers, sup.Members())))
	)
	if best.Duration() >= threshold || threshold-best.Duration() <= offset {
		return
	}
	e.L.Infow(
		"migrating to closer cluster",
		"layer", top,
		"from", leader,
		"to", candidate,
		"current", current,
		"candidate_distance", best,
	)
	e.sendLayer(leader, message.VariantRemove, top, nil)
	e.clusters.ClearFrom(top)
	e.clusters.Trim()
	e.requestJoin(candidate, top)
}

// checkRendezvous keeps the rendezvous role alive. The rendezvous point
// re-announces itself and asserts leadership of every layer it belongs to;
// everyone else keeps the partition timer armed.
func (e *Engine) checkRendezvous() {
	switch e.rp {
	case node.Unspecified:
		if e.state == StateReady {
			e.becomeRendezvous()
		}
	case e.host:
		e.structure.stop()
		e.announceRendezvous()
		for _, l := range e.clusters.MemberLayers() {
			if !e.clusters.IsLeader(l) {
				e.clusters.At(l).SetLeader(e.host)
			}
		}
	default:
		e.collision.stop()
		e.structure.ensureAfter(e.StructureTimeout)
	}
}

func (e *Engine) recordSizes() {
	for l := 0; l < e.clusters.Depth(); l++ {
		size := 0
		if c := e.clusters.Peek(l); c.Contains(e.host) {
			size = c.Size()
		}
		e.metrics.SetClusterSize(l, size)
	}
}
