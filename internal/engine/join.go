package engine

import (
	"time"

	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
)

// joinState tracks an in-flight walk down the hierarchy.
type joinState struct {
	active bool
	// requested is the layer the join was started for. It may be
	// message.HighestLayer.
	requested int
	// target is the layer the host wants to become a member of.
	target int
	// resolver is the node the outstanding query was sent to, and asked the
	// layer it was asked for.
	resolver node.ID
	asked    int
	sentAt   time.Time
	retries  int
	// evaluating is set while JoinEval requests for evalLayer are in flight.
	evaluating   bool
	evalLayer    int
	evalSentAt   time.Time
	responder    node.ID
	responderRTT time.Duration
	// temporary is set when the host asked the rendezvous point for a
	// temporary peering.
	temporary bool
}

// joinLayer starts walking the hierarchy from the rendezvous point toward
// layer. The walk ends when a leader answers for the target layer.
func (e *Engine) joinLayer(layer int) {
	if e.rp.IsZero() || e.rp == e.host {
		e.becomeRendezvous()
		e.clusters.At(max(layer, 0)).SetLeader(e.host)
		e.becomeReady()
		return
	}
	retries := 0
	if e.join.active {
		retries = e.join.retries
	}
	e.join = joinState{
		active:    true,
		requested: layer,
		target:    max(layer, 0),
		retries:   retries,
		temporary: true,
	}
	e.L.Debugw("joining hierarchy", "layer", layer, "rp", e.rp)
	e.query(e.rp, layer)
	e.sendLayer(e.rp, message.VariantPeerTemporary, int(message.NoLayer), nil)
}

func (e *Engine) query(target node.ID, layer int) {
	e.join.resolver = target
	e.join.asked = layer
	e.join.sentAt = e.now()
	e.join.evaluating = false
	e.peers.Ensure(target, e.now())
	e.sendLayer(target, message.VariantQuery, layer, nil)
	e.queryT.start(e.QueryTimeout)
}

// handleQuery answers for a layer the host leads. Queries for the highest
// layer are answered by the rendezvous point and forwarded to it by everyone
// else.
func (e *Engine) handleQuery(msg message.Message) {
	var (
		layer   = int(msg.Layer)
		highest = e.clusters.HighestLeaderLayer()
	)
	if layer > highest {
		e.L.Debugw("ignoring query above led layers", "from", msg.Source, "layer", layer)
		return
	}
	if layer < 0 {
		if e.rp != e.host {
			if !e.rp.IsZero() && e.rp != msg.Source {
				e.send(e.rp, msg)
			}
			return
		}
		if highest < 0 {
			return
		}
		layer = highest
	}
	e.sendLayer(
		msg.Source,
		message.VariantQueryResponse,
		layer,
		message.Members{Members: e.clusters.At(layer).Members().WhereNot(e.host)},
	)
}

func (e *Engine) handleQueryResponse(msg message.Message) {
	if !e.join.active || e.join.evaluating || !e.expectsResponse(msg) {
		e.L.Debugw("ignoring stale query response", "from", msg.Source, "layer", msg.Layer)
		return
	}
	e.queryT.stop()
	var (
		now   = e.now()
		layer = int(msg.Layer)
		body  = msg.Body.(message.Members)
		rtt   = now.Sub(e.join.sentAt)
	)
	e.join.retries = 0
	if info := e.peers.Ensure(msg.Source, now); info != nil {
		info.Sample(rtt / 2)
	}
	if layer <= e.join.target {
		e.finishJoin(msg.Source, layer, body.Members)
		return
	}
	candidates := body.Members.WhereNot(e.host, msg.Source)
	if len(candidates) == 0 {
		e.query(msg.Source, layer-1)
		return
	}
	e.join.evaluating = true
	e.join.evalLayer = layer
	e.join.evalSentAt = now
	e.join.responder = msg.Source
	e.join.responderRTT = rtt
	for _, c := range append(candidates, msg.Source) {
		e.sendLayer(c, message.VariantJoinEval, layer, nil)
	}
	e.queryT.start(e.QueryTimeout)
}

// expectsResponse returns true if msg answers the outstanding query. Queries
// for the highest layer may be forwarded, so their answer can come from anyone.
func (e *Engine) expectsResponse(msg message.Message) bool {
	if e.join.asked < 0 {
		return true
	}
	return msg.Source == e.join.resolver && int(msg.Layer) == e.join.asked
}

// finishJoin becomes a member of the responder's cluster and enters READY.
func (e *Engine) finishJoin(leader node.ID, layer int, members node.Group) {
	now := e.now()
	c := e.clusters.At(layer)
	c.Add(members...)
	for _, m := range members {
		e.peers.Ensure(m, now)
	}
	e.requestJoin(leader, layer)
	if e.join.temporary && e.rp != leader {
		e.sendLayer(e.rp, message.VariantPeerTemporaryRelease, int(message.NoLayer), nil)
	}
	e.join = joinState{}
	e.L.Infow("joined cluster", "layer", layer, "leader", leader)
	e.becomeReady()
}

func (e *Engine) handleJoinEval(msg message.Message) {
	e.sendLayer(msg.Source, message.VariantJoinEvalResponse, int(msg.Layer), nil)
}

// handleJoinEvalResponse descends through the first evaluated node to answer
// when it is closer than the node that was queried.
func (e *Engine) handleJoinEvalResponse(msg message.Message) {
	if !e.join.evaluating || int(msg.Layer) != e.join.evalLayer {
		return
	}
	e.queryT.stop()
	var (
		rtt  = e.now().Sub(e.join.evalSentAt)
		next = e.join.responder
	)
	if msg.Source != e.join.responder && rtt < e.join.responderRTT {
		next = msg.Source
	}
	if info := e.peers.Ensure(msg.Source, e.now()); info != nil {
		info.Sample(rtt / 2)
	}
	e.query(next, e.join.evalLayer-1)
}

// queryTimeout restarts a stalled join from the rendezvous point and polls
// known peers for a fresher one. After too many consecutive timeouts the join
// is abandoned.
func (e *Engine) queryTimeout() {
	if !e.join.active {
		return
	}
	e.join.retries++
	e.join.evaluating = false
	if e.join.retries > e.MaxQueryRetries {
		e.L.Warnw("join stalled, abandoning", "rp", e.rp, "retries", e.join.retries-1)
		e.join = joinState{}
		if e.state == StateReady {
			e.becomeRendezvous()
			return
		}
		e.rp = node.Unspecified
		e.init()
		return
	}
	e.L.Debugw("query timed out, retrying", "resolver", e.join.resolver, "retry", e.join.retries)
	for _, id := range e.peers.IDs() {
		if id != e.rp {
			e.sendLayer(id, message.VariantPollRP, int(message.NoLayer), nil)
		}
	}
	e.query(e.rp, e.join.requested)
}

// requestJoin asks leader to admit the host into its cluster at layer and
// assumes the request succeeds.
func (e *Engine) requestJoin(leader node.ID, layer int) {
	e.sendLayer(leader, message.VariantJoinRequest, layer, nil)
	e.peers.Ensure(leader, e.now())
	c := e.clusters.At(layer)
	c.Add(e.host)
	c.SetLeader(leader)
	e.heartbeat.ensure()
	e.maintenance.ensure()
}

func (e *Engine) handleJoinRequest(msg message.Message) {
	layer := int(msg.Layer)
	if layer < 0 || !e.clusters.IsLeader(layer) {
		e.L.Debugw("rejecting join request for layer not led", "from", msg.Source, "layer", layer)
		return
	}
	e.clusters.At(layer).Add(msg.Source)
	e.peers.Ensure(msg.Source, e.now())
	e.sendHeartbeats()
}
