package engine

import (
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
)

func (e *Engine) bindHandlers() {
	e.handlers = map[message.Variant]func(message.Message){
		message.VariantLookupRP:             e.handleLookupRP,
		message.VariantLookupRPReply:        e.handleLookupRPReply,
		message.VariantBroadcastRP:          e.handleBroadcastRP,
		message.VariantPollRP:               e.handlePollRP,
		message.VariantPollRPResponse:       e.handlePollRPResponse,
		message.VariantPeerTemporary:        e.handlePeerTemporary,
		message.VariantPeerTemporaryRelease: e.handlePeerTemporaryRelease,
		message.VariantQuery:                e.handleQuery,
		message.VariantQueryResponse:        e.handleQueryResponse,
		message.VariantJoinEval:             e.handleJoinEval,
		message.VariantJoinEvalResponse:     e.handleJoinEvalResponse,
		message.VariantJoinRequest:          e.handleJoinRequest,
		message.VariantHeartbeat:            e.handleHeartbeat,
		message.VariantLeaderHeartbeat:      e.handleLeaderHeartbeat,
		message.VariantLeaderTransfer:       e.handleLeaderTransfer,
		message.VariantRemove:               e.handleRemove,
		message.VariantPing:                 e.handlePing,
		message.VariantPingResponse:         e.handlePingResponse,
		message.VariantMergeRequest:         e.handleMergeRequest,
		message.VariantData:                 e.handleData,
	}
}

// receive is the overlay handler. It decodes on the caller's goroutine and
// hands the message to the loop without blocking; a full queue drops the
// message like a lossy link would.
func (e *Engine) receive(from node.ID, data []byte) {
	msg, err := message.Decode(data)
	if err != nil {
		e.L.Debugw("dropping undecodable frame", "from", from, "error", err)
		e.metrics.Dropped("malformed")
		return
	}
	if msg.Source.IsZero() {
		msg.Source = from
	}
	select {
	case e.events <- func() { e.dispatch(msg) }:
	default:
		e.L.Warnw("event queue full, dropping message", "from", from, "variant", msg.Variant)
		e.metrics.Dropped("queue_full")
	}
}

func (e *Engine) dispatch(msg message.Message) {
	if e.shutdown {
		return
	}
	h, ok := e.handlers[msg.Variant]
	if !ok {
		e.L.Debugw("dropping unhandled message", "from", msg.Source, "variant", msg.Variant)
		e.metrics.Dropped("unhandled")
		return
	}
	if msg.Source == e.host {
		e.metrics.Dropped("loopback")
		return
	}
	e.metrics.Received(msg.Variant.String())
	e.peers.Touch(msg.Source, e.now())
	h(msg)
}

// send encodes msg and hands it to the overlay. Failures are logged and
// counted; recovery is left to the timers.
func (e *Engine) send(to node.ID, msg message.Message) {
	if to.IsZero() || to == e.host {
		return
	}
	if msg.Source.IsZero() {
		msg.Source = e.host
	}
	b, err := message.Encode(msg)
	if err != nil {
		e.L.Errorw("failed to encode message", "variant", msg.Variant, "error", err)
		return
	}
	ctx, cancel := e.sendContext()
	defer cancel()
	if err := e.Overlay.Send(ctx, to, e.Service, b); err != nil {
		e.L.Debugw("send failed", "to", to, "variant", msg.Variant, "error", err)
		e.metrics.SendError()
		return
	}
	e.metrics.Sent(msg.Variant.String())
}

func (e *Engine) sendLayer(to node.ID, v message.Variant, layer int, body message.Body) {
	e.send(to, message.Message{Variant: v, Layer: int16(layer), Body: body})
}

func (e *Engine) broadcast(v message.Variant, body message.Body) {
	b, err := message.Encode(message.Message{
		Variant: v,
		Source:  e.host,
		Layer:   message.NoLayer,
		Body:    body,
	})
	if err != nil {
		e.L.Errorw("failed to encode broadcast", "variant", v, "error", err)
		return
	}
	ctx, cancel := e.sendContext()
	defer cancel()
	if err := e.Overlay.Broadcast(ctx, e.Service, b); err != nil {
		e.L.Debugw("broadcast failed", "variant", v, "error", err)
		e.metrics.SendError()
		return
	}
	e.metrics.Sent(v.String())
}
