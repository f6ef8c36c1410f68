package engine

import (
	"github.com/arya-analytics/mcpo/internal/kv"
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/telemetry"
)

func (e *Engine) rendezvousKey() string { return kv.RendezvousKey(string(e.Service)) }

// init enters INIT and starts looking for a rendezvous point, either through
// the store or by broadcasting a lookup. The bootstrap timer self-elects when
// nothing answers.
func (e *Engine) init() {
	e.setState(StateInit)
	e.bootstrapT.start(e.BootstrapTimeout)
	if e.Store != nil {
		e.lookupStore()
		return
	}
	e.broadcast(message.VariantLookupRP, nil)
}

// lookupStore reads the rendezvous key off the loop and posts the result back
// onto it.
func (e *Engine) lookupStore() {
	key := e.rendezvousKey()
	e.wg.Go(func() error {
		ctx, cancel := e.sendContext()
		defer cancel()
		values, err := e.Store.Get(ctx, key)
		e.post(func() {
			if err != nil {
				e.L.Debugw("rendezvous lookup failed", "key", key, "error", err)
				return
			}
			e.onKeyValue(key, values)
		})
		return nil
	})
}

// onKeyValue handles the result of a store lookup. Every value is a candidate
// rendezvous point; the greatest ID wins.
func (e *Engine) onKeyValue(key string, values [][]byte) {
	if key != e.rendezvousKey() {
		e.L.Debugw("ignoring unrelated key", "key", key)
		e.metrics.Dropped("unrelated_key")
		return
	}
	var found node.ID
	for _, v := range values {
		if id := node.ID(v); id.Greater(found) {
			found = id
		}
	}
	if found.IsZero() {
		return
	}
	if e.rp == e.host && found != e.host && !found.Greater(e.host) {
		// The store holds a weaker rendezvous point. Reclaim the key.
		e.publishRendezvous()
		return
	}
	e.handleRendezvous(found)
}

// handleRendezvous applies a rendezvous point learned from a lookup reply, a
// store read or a poll.
func (e *Engine) handleRendezvous(rp node.ID) {
	if rp.IsZero() || rp == e.host {
		return
	}
	if e.rp == e.host {
		if rp.Greater(e.host) {
			e.yieldTo(rp)
		}
		return
	}
	if e.state != StateInit {
		if e.rp.IsZero() {
			e.setRendezvous(rp)
		}
		return
	}
	e.setRendezvous(rp)
	e.bootstrapT.stop()
	e.structure.start(e.StructureTimeout)
	e.bootstrap()
}

// yieldTo hands the local hierarchy to a competing rendezvous point with a
// greater ID by merging layer 0 into its cluster.
func (e *Engine) yieldTo(rp node.ID) {
	e.L.Infow("yielding rendezvous", "to", rp)
	c := e.clusters.At(0)
	e.sendLayer(rp, message.VariantMergeRequest, 0, message.Merge{Members: c.Members()})
	e.clusters.ClearFrom(1)
	e.clusters.Trim()
	e.peers.Ensure(rp, e.now())
	c.Add(e.host)
	c.SetLeader(rp)
	e.setRendezvous(rp)
	e.collision.stop()
	e.structure.start(e.StructureTimeout)
}

// setRendezvous records id as the rendezvous point and publishes it when the
// host takes the role.
func (e *Engine) setRendezvous(id node.ID) {
	if e.rp != id {
		e.L.Infow("rendezvous point changed", "from", e.rp, "to", id)
		e.metrics.Event(telemetry.EventRendezvous)
	}
	e.rp = id
	if id == e.host {
		e.publishRendezvous()
	}
}

// becomeRendezvous self-elects the host.
func (e *Engine) becomeRendezvous() {
	e.setRendezvous(e.host)
	e.structure.stop()
}

func (e *Engine) publishRendezvous() {
	if e.Store == nil {
		return
	}
	key := e.rendezvousKey()
	e.wg.Go(func() error {
		ctx, cancel := e.sendContext()
		defer cancel()
		if err := e.Store.Put(ctx, key, []byte(e.host), e.RendezvousTTL); err != nil {
			e.L.Warnw("failed to publish rendezvous point", "key", key, "error", err)
		}
		return nil
	})
}

// bootstrap enters BOOTSTRAP. The rendezvous point founds layer 0; everyone
// else walks the hierarchy down from it.
func (e *Engine) bootstrap() {
	e.setState(StateBootstrap)
	e.bootstrapT.stop()
	if e.rp == e.host {
		if !e.clusters.IsLeader(0) {
			c := e.clusters.At(0)
			c.Clear()
			c.SetLeader(e.host)
		}
		e.becomeReady()
		return
	}
	e.joinLayer(int(message.HighestLayer))
	e.structure.start(e.StructureTimeout)
}

func (e *Engine) bootstrapTimeout() {
	e.L.Debugw("no rendezvous point answered, self-electing")
	e.becomeRendezvous()
	e.bootstrap()
}

// becomeReady enters READY, starts the periodic timers and notifies the
// application the first time.
func (e *Engine) becomeReady() {
	e.setState(StateReady)
	e.heartbeat.ensure()
	e.maintenance.ensure()
	if e.notified {
		return
	}
	e.notified = true
	e.L.Infow("service ready", "rp", e.rp)
	e.notify(e.Receiver.OnServiceReady)
}

func (e *Engine) handleLookupRP(msg message.Message) {
	if e.rp != e.host {
		return
	}
	e.sendLayer(msg.Source, message.VariantLookupRPReply, int(message.NoLayer), nil)
}

func (e *Engine) handleLookupRPReply(msg message.Message) { e.handleRendezvous(msg.Source) }

// announceRendezvous re-announces the host as rendezvous point. With a store
// the announcement is a periodic re-read of the key instead.
func (e *Engine) announceRendezvous() {
	if e.Store != nil {
		e.collision.ensure()
		return
	}
	e.broadcast(message.VariantBroadcastRP, nil)
}

func (e *Engine) checkCollision() {
	if e.rp != e.host {
		e.collision.stop()
		return
	}
	e.lookupStore()
}

func (e *Engine) handleBroadcastRP(msg message.Message) {
	from := msg.Source
	switch {
	case e.rp == e.host:
		if from.Greater(e.host) {
			e.yieldTo(from)
		}
	case e.state == StateInit:
		e.handleRendezvous(from)
	default:
		if e.rp != from {
			e.setRendezvous(from)
		}
		e.structure.ensureAfter(e.StructureTimeout)
	}
}

func (e *Engine) handlePollRP(msg message.Message) {
	if e.rp.IsZero() {
		return
	}
	e.sendLayer(
		msg.Source,
		message.VariantPollRPResponse,
		int(message.NoLayer),
		message.Rendezvous{RP: e.rp},
	)
}

// handlePollRPResponse adopts a rendezvous point reported by a peer while the
// host is stuck joining through a different one.
func (e *Engine) handlePollRPResponse(msg message.Message) {
	body := msg.Body.(message.Rendezvous)
	if !e.join.active || body.RP.IsZero() || body.RP == e.rp || body.RP == e.host {
		return
	}
	e.L.Debugw("adopting polled rendezvous point", "rp", body.RP, "from", msg.Source)
	e.setRendezvous(body.RP)
	e.joinLayer(e.join.requested)
}

func (e *Engine) handlePeerTemporary(msg message.Message) {
	if e.rp != e.host {
		return
	}
	e.temp[msg.Source] = e.now()
}

func (e *Engine) handlePeerTemporaryRelease(msg message.Message) {
	delete(e.temp, msg.Source)
}

// reconnect recovers from a partition. It rejoins just above the highest layer
// the host still leads, or from layer 0 when it leads nothing.
func (e *Engine) reconnect() {
	switch {
	case e.rp.IsZero():
		e.becomeRendezvous()
		e.bootstrap()
		return
	case e.rp == e.host:
		return
	}
	e.L.Infow("lost contact with the hierarchy, reconnecting", "rp", e.rp)
	e.metrics.Event(telemetry.EventReconnect)
	layer := e.clusters.HighestLeaderLayer() + 1
	e.clusters.ClearFrom(layer)
	e.clusters.Trim()
	e.setState(StateBootstrap)
	e.joinLayer(layer)
	e.structure.start(e.StructureTimeout)
}
