// Package cluster holds the layered cluster membership of the host.
package cluster

import (
	"time"

	"github.com/arya-analytics/mcpo/internal/node"
)

// Cluster is the membership of a single layer as seen by the host. The leader
// is always either unspecified or a member.
type Cluster struct {
	members node.Group
	leader  node.ID
	// LastTransfer is when leadership of the cluster was last handed to the
	// host.
	LastTransfer time.Time
}

// Members returns a copy of the members in insertion order.
func (c *Cluster) Members() node.Group { return c.members.Copy() }

// Size returns the number of members.
func (c *Cluster) Size() int { return len(c.members) }

// Empty returns true if the cluster has no members.
func (c *Cluster) Empty() bool { return len(c.members) == 0 }

// Contains returns true if id is a member.
func (c *Cluster) Contains(id node.ID) bool { return c.members.Contains(id) }

// Leader returns the leader of the cluster.
func (c *Cluster) Leader() node.ID { return c.leader }

// Add appends the given ids that are not already members.
func (c *Cluster) Add(ids ...node.ID) { c.members = c.members.Union(ids...) }

// Remove drops id from the cluster, clearing the leader if id held it. It
// returns true if id was the leader.
func (c *Cluster) Remove(id node.ID) (wasLeader bool) {
	i := c.members.Index(id)
	if i < 0 {
		return false
	}
	c.members = append(c.members[:i:i], c.members[i+1:]...)
	if c.leader == id {
		c.leader = node.Unspecified
		return true
	}
	return false
}

// SetLeader makes id the leader, adding it as a member if necessary.
func (c *Cluster) SetLeader(id node.ID) {
	if !id.IsZero() {
		c.Add(id)
	}
	c.leader = id
}

// Clear drops every member and the leader.
func (c *Cluster) Clear() {
	c.members = nil
	c.leader = node.Unspecified
}
