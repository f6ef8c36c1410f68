// Package node defines the identity of peers in the overlay.
package node

import "go.uber.org/zap"

// ID uniquely identifies a node on the overlay. IDs are totally ordered by
// byte-wise comparison, which is what rendezvous tie-breaks rely on.
type ID string

// Unspecified is the zero ID. It is never assigned to a real node.
const Unspecified ID = ""

// IsZero returns true if the ID is Unspecified.
func (id ID) IsZero() bool { return id == Unspecified }

// Less returns true if id orders before other.
func (id ID) Less(other ID) bool { return id < other }

// Greater returns true if id orders after other.
func (id ID) Greater(other ID) bool { return id > other }

// Field returns a zap field for the ID.
func (id ID) Field(key string) zap.Field { return zap.String(key, string(id)) }

func (id ID) String() string {
	if id.IsZero() {
		return "<unspecified>"
	}
	return string(id)
}
