package engine

import (
	"github.com/arya-analytics/mcpo/internal/distance"
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/telemetry"
)

// merge folds an undersized cluster led by the host into the cluster of the
// nearest supercluster peer. It reports false if no peer has a known
// distance yet.
func (e *Engine) merge(layer int) bool {
	target, d := distance.Closest(e.peers, e.clusters.Peek(layer+1).Members())
	if target.IsZero() {
		e.L.Debugw("no merge target with a known distance", "layer", layer)
		return false
	}
	c := e.clusters.At(layer)
	e.L.Infow("merging cluster", "layer", layer, "size", c.Size(), "into", target, "distance", d)
	e.metrics.Event(telemetry.EventMerge)
	e.gracefulLeave(layer)
	e.clusters.At(layer + 1).Remove(e.host)
	e.sendLayer(target, message.VariantMergeRequest, layer, message.Merge{
		SuperLeader: e.clusters.Peek(layer + 1).Leader(),
		Members:     c.Members(),
	})
	c.SetLeader(target)
	e.peers.Ensure(target, e.now())
	return true
}

// handleMergeRequest absorbs a cluster whose leader is stepping down.
func (e *Engine) handleMergeRequest(msg message.Message) {
	var (
		layer = int(msg.Layer)
		body  = msg.Body.(message.Merge)
		now   = e.now()
	)
	if layer < 0 || !e.clusters.IsLeader(layer) {
		e.L.Debugw("dropping merge request for layer not led", "from", msg.Source, "layer", layer)
		e.metrics.Dropped("no_leader")
		return
	}
	sup := e.clusters.At(layer + 1)
	sup.Remove(msg.Source)
	if sup.Leader() != e.host && !body.SuperLeader.IsZero() && body.SuperLeader != msg.Source {
		sup.SetLeader(body.SuperLeader)
	}
	if sup.Size() == 1 && sup.Contains(e.host) {
		e.becomeRendezvous()
		sup.Clear()
		e.clusters.Trim()
	}
	c := e.clusters.At(layer)
	c.Add(body.Members...)
	c.Add(msg.Source)
	for _, m := range append(body.Members, msg.Source) {
		e.peers.Ensure(m, now)
	}
	e.sendHeartbeats()
}
