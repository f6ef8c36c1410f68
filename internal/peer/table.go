package peer

import (
	"sort"
	"time"

	"github.com/arya-analytics/mcpo/internal/distance"
	"github.com/arya-analytics/mcpo/internal/node"
)

// Table holds a record for every peer the host is in contact with. It
// implements distance.Source. Table is not safe for concurrent use.
type Table struct {
	host  node.ID
	peers map[node.ID]*Info
}

var _ distance.Source = (*Table)(nil)

// NewTable opens an empty table for the given host.
func NewTable(host node.ID) *Table {
	return &Table{host: host, peers: make(map[node.ID]*Info)}
}

// Host implements distance.Source.
func (t *Table) Host() node.ID { return t.host }

// Get returns the record for id.
func (t *Table) Get(id node.ID) (*Info, bool) {
	i, ok := t.peers[id]
	return i, ok
}

// Ensure returns the record for id, creating it if absent. The host never
// gets a record.
func (t *Table) Ensure(id node.ID, now time.Time) *Info {
	if id == t.host || id.IsZero() {
		return nil
	}
	i, ok := t.peers[id]
	if !ok {
		i = newInfo(id, now)
		t.peers[id] = i
	}
	return i
}

// Touch refreshes the liveness of a known peer.
func (t *Table) Touch(id node.ID, now time.Time) {
	if i, ok := t.peers[id]; ok {
		i.Touch(now)
	}
}

// Remove drops the record for id.
func (t *Table) Remove(id node.ID) { delete(t.peers, id) }

// Len returns the number of records.
func (t *Table) Len() int { return len(t.peers) }

// IDs returns the ids of all peers in a stable order.
func (t *Table) IDs() node.Group {
	ids := make(node.Group, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// Expired returns the peers silent for longer than timeout.
func (t *Table) Expired(now time.Time, timeout time.Duration) node.Group {
	var out node.Group
	for _, id := range t.IDs() {
		if t.peers[id].Idle(now) > timeout {
			out = append(out, id)
		}
	}
	return out
}

// Distance implements distance.Source.
func (t *Table) Distance(to node.ID) distance.Value {
	if to == t.host {
		return distance.Of(0)
	}
	if i, ok := t.peers[to]; ok {
		return i.Distance
	}
	return distance.Unknown
}

// Reported implements distance.Source.
func (t *Table) Reported(from, to node.ID) distance.Value {
	if from == t.host {
		return t.Distance(to)
	}
	if i, ok := t.peers[from]; ok {
		if from == to {
			return distance.Of(0)
		}
		return i.Reported(to)
	}
	return distance.Unknown
}

// Submit folds an externally measured sample for id into its estimate.
func (t *Table) Submit(id node.ID, d time.Duration, now time.Time) {
	if i := t.Ensure(id, now); i != nil {
		i.Sample(d)
	}
}
