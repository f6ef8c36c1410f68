package cluster

import "github.com/arya-analytics/mcpo/internal/node"

// NoLayer is returned by layer queries when the host holds no matching layer.
const NoLayer = -1

// Table is the stack of clusters the host participates in, indexed by layer.
// Layer 0 holds arbitrary peers and layer L+1 holds leaders of layer L. The
// table grows as layers are addressed and has no depth ceiling.
type Table struct {
	host   node.ID
	layers []*Cluster
}

// NewTable opens an empty table for the given host.
func NewTable(host node.ID) *Table { return &Table{host: host} }

// Host returns the ID of the local node.
func (t *Table) Host() node.ID { return t.host }

// At returns the cluster at layer, growing the table as necessary. Negative
// layers are invalid and panic.
func (t *Table) At(layer int) *Cluster {
	for len(t.layers) <= layer {
		t.layers = append(t.layers, &Cluster{})
	}
	return t.layers[layer]
}

// Peek returns the cluster at layer without growing the table. Out of range
// layers read as empty.
func (t *Table) Peek(layer int) *Cluster {
	if layer < 0 || layer >= len(t.layers) {
		return &Cluster{}
	}
	return t.layers[layer]
}

// Depth returns the number of allocated layers.
func (t *Table) Depth() int { return len(t.layers) }

// IsLeader returns true if the host leads the cluster at layer.
func (t *Table) IsLeader(layer int) bool {
	c := t.Peek(layer)
	return c.Contains(t.host) && c.Leader() == t.host
}

// IsMember returns true if the host is a member of the cluster at layer.
func (t *Table) IsMember(layer int) bool { return t.Peek(layer).Contains(t.host) }

// HighestLayer returns the topmost layer the host belongs to, or NoLayer.
func (t *Table) HighestLayer() int {
	for l := len(t.layers) - 1; l >= 0; l-- {
		if t.layers[l].Contains(t.host) {
			return l
		}
	}
	return NoLayer
}

// HighestLeaderLayer returns the topmost layer the host leads, or NoLayer.
func (t *Table) HighestLeaderLayer() int {
	for l := len(t.layers) - 1; l >= 0; l-- {
		if t.IsLeader(l) {
			return l
		}
	}
	return NoLayer
}

// MemberLayers returns every layer the host belongs to, highest first.
func (t *Table) MemberLayers() []int {
	var out []int
	for l := len(t.layers) - 1; l >= 0; l-- {
		if t.layers[l].Contains(t.host) {
			out = append(out, l)
		}
	}
	return out
}

// ClearFrom empties every layer at or above layer.
func (t *Table) ClearFrom(layer int) {
	for l := layer; l < len(t.layers); l++ {
		if l >= 0 {
			t.layers[l].Clear()
		}
	}
}

// RemoveAll drops id from every layer and returns the layers it led.
func (t *Table) RemoveAll(id node.ID) (led []int) {
	for l, c := range t.layers {
		if c.Remove(id) {
			led = append(led, l)
		}
	}
	return led
}

// Trim releases empty layers at the top of the table.
func (t *Table) Trim() {
	for len(t.layers) > 0 && t.layers[len(t.layers)-1].Empty() {
		t.layers = t.layers[:len(t.layers)-1]
	}
}
