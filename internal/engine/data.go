package engine

import (
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
)

// JoinGroup subscribes the host to a group. Subscription only filters local
// delivery; the host relays every group's data regardless.
func (e *Engine) JoinGroup(group message.GroupID) error {
	return e.do(func() { e.groups[group] = struct{}{} })
}

// LeaveGroup unsubscribes the host from a group.
func (e *Engine) LeaveGroup(group message.GroupID) error {
	return e.do(func() { delete(e.groups, group) })
}

// SendToGroup disseminates payload to every node in the hierarchy, tagged with
// group. Before the engine is ready the call is a logged no-op.
func (e *Engine) SendToGroup(payload []byte, group message.GroupID) error {
	return e.do(func() { e.disseminate(payload, group) })
}

// SendToAll disseminates payload to every node in the hierarchy.
func (e *Engine) SendToAll(payload []byte) error {
	return e.SendToGroup(payload, "")
}

// Parent returns the leader of the host's layer 0 cluster. It is unspecified
// until the host has joined a group.
func (e *Engine) Parent() (parent node.ID, err error) {
	err = e.do(func() {
		if len(e.groups) > 0 {
			parent = e.clusters.Peek(0).Leader()
		}
	})
	return parent, err
}

// Children returns the members of every layer below the host's highest. It is
// empty until the host has joined a group.
func (e *Engine) Children() (children node.Group, err error) {
	err = e.do(func() {
		if len(e.groups) == 0 {
			return
		}
		for l := 0; l < e.clusters.HighestLayer(); l++ {
			children = children.Union(e.clusters.Peek(l).Members().WhereNot(e.host)...)
		}
	})
	return children, err
}

func (e *Engine) disseminate(payload []byte, group message.GroupID) {
	if e.state != StateReady {
		e.L.Debugw("dropping application data before ready", "group", group, "size", len(payload))
		return
	}
	body := message.Data{Payload: payload}
	for _, l := range e.clusters.MemberLayers() {
		for _, m := range e.clusters.At(l).Members().WhereNot(e.host) {
			e.send(m, message.Message{Variant: message.VariantData, Layer: int16(l), Group: group, Body: body})
		}
	}
	e.relayTemporary(body, group, node.Unspecified)
}

// relayTemporary forwards data to nodes holding a temporary peering with the
// rendezvous point that are not yet members of any of its clusters.
func (e *Engine) relayTemporary(body message.Data, group message.GroupID, except node.ID) {
	if e.rp != e.host {
		return
	}
	for id := range e.temp {
		if id == except || e.inAnyLayer(id) {
			continue
		}
		e.send(id, message.Message{Variant: message.VariantData, Layer: message.NoLayer, Group: group, Body: body})
	}
}

func (e *Engine) inAnyLayer(id node.ID) bool {
	for _, l := range e.clusters.MemberLayers() {
		if e.clusters.Peek(l).Contains(id) {
			return true
		}
	}
	return false
}

// handleData delivers inbound application data if the host subscribes to its
// group, then floods it into every other layer the host belongs to.
func (e *Engine) handleData(msg message.Message) {
	body := msg.Body.(message.Data)
	if _, ok := e.groups[msg.Group]; msg.Group == "" || ok {
		payload, group := body.Payload, msg.Group
		e.notify(func() { e.Receiver.OnReceiveData(payload, group) })
	}
	arrival := int(msg.Layer)
	for _, l := range e.clusters.MemberLayers() {
		if l == arrival {
			continue
		}
		for _, m := range e.clusters.At(l).Members().WhereNot(e.host, msg.Source) {
			e.send(m, message.Message{Variant: message.VariantData, Layer: int16(l), Group: msg.Group, Body: body})
		}
	}
	e.relayTemporary(body, msg.Group, msg.Source)
}
