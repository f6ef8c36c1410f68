// Package overlay defines the substrate the clustering protocol runs on: node
// identity plus unicast and broadcast delivery of opaque frames.
package overlay

import (
	"context"

	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/cockroachdb/errors"
)

// ServiceID names a protocol instance bound to an overlay.
type ServiceID string

// Handler is called for every frame delivered to a bound service. Handlers
// must not block.
type Handler func(from node.ID, data []byte)

// Overlay is a best-effort message substrate. Delivery is unordered and may
// drop frames.
type Overlay interface {
	// ID returns the identity of the local node.
	ID() node.ID
	// Send delivers data to the service on node to.
	Send(ctx context.Context, to node.ID, svc ServiceID, data []byte) error
	// Broadcast delivers data to the service on every reachable node except
	// the local one.
	Broadcast(ctx context.Context, svc ServiceID, data []byte) error
	// Bind registers the handler for a service.
	Bind(svc ServiceID, h Handler) error
	// Unbind removes the handler for a service.
	Unbind(svc ServiceID) error
}

var (
	// ErrUnreachable is returned when the destination cannot be resolved.
	ErrUnreachable = errors.New("destination unreachable")
	// ErrAlreadyBound is returned when binding a service twice.
	ErrAlreadyBound = errors.New("service already bound")
	// ErrClosed is returned by an overlay that has been shut down.
	ErrClosed = errors.New("overlay closed")
)
