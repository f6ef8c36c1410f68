// Package mcpo is an application-layer multicast service. Nodes organize
// themselves into a hierarchy of size-bounded clusters over an overlay network;
// data sent to a group floods through every cluster the sender belongs to and
// is relayed layer by layer until it reaches every node.
package mcpo

import (
	"net/http"

	"github.com/arya-analytics/mcpo/internal/engine"
	"github.com/arya-analytics/mcpo/internal/kv"
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/overlay"
	"github.com/arya-analytics/mcpo/internal/telemetry"
)

type (
	NodeID    = node.ID
	Group     = node.Group
	GroupID   = message.GroupID
	Overlay   = overlay.Overlay
	ServiceID = overlay.ServiceID
	Receiver  = engine.Receiver
	Measurer  = engine.Measurer
	Store     = kv.Store
	Snapshot  = engine.Snapshot
	Layer     = engine.Layer
	State     = engine.State
)

const (
	StateInit      = engine.StateInit
	StateBootstrap = engine.StateBootstrap
	StateReady     = engine.StateReady
)

// ErrClosed is returned by calls on a closed service.
var ErrClosed = engine.ErrClosed

// Service is a running multicast participant.
type Service interface {
	// Host returns the identity of the local node.
	Host() NodeID
	// JoinGroup subscribes the node to group.
	JoinGroup(group GroupID) error
	// LeaveGroup unsubscribes the node from group.
	LeaveGroup(group GroupID) error
	// SendToGroup disseminates payload to every subscriber of group.
	SendToGroup(payload []byte, group GroupID) error
	// SendToAll disseminates payload to every node.
	SendToAll(payload []byte) error
	// Parent returns the leader of the node's bottom cluster.
	Parent() (NodeID, error)
	// Children returns the members of every cluster below the node's top one.
	Children() (Group, error)
	// Snapshot returns the node's current position in the hierarchy.
	Snapshot() (Snapshot, error)
	// Close leaves the hierarchy and releases every resource the service
	// opened. It may be called from a Receiver callback.
	Close() error
}

// MetricsHandler serves the protocol metrics of every service in the process.
func MetricsHandler() http.Handler { return telemetry.MetricsHandler() }
