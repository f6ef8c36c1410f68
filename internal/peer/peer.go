// Package peer tracks per-peer liveness, heartbeat sequencing, and distance
// estimates for the clustering protocol.
package peer

import (
	"time"

	"github.com/arya-analytics/mcpo/internal/distance"
	"github.com/arya-analytics/mcpo/internal/node"
)

// Weight is the share a new sample takes in the moving distance average.
const Weight = 0.1

// RestartWindow is how far behind the last received sequence number a
// heartbeat may fall before the peer is considered restarted. Smaller gaps are
// reordered or redelivered heartbeats.
const RestartWindow = 8

type sent struct {
	seq uint32
	at  time.Time
}

// Info is everything the host knows about a single peer.
type Info struct {
	ID node.ID
	// Distance is the host's estimate of the one-way latency to the peer.
	Distance distance.Value
	// LastSentSeq is the sequence number of the last heartbeat sent to the peer.
	LastSentSeq uint32
	// LastRecvSeq is the sequence number of the last heartbeat received.
	LastRecvSeq uint32
	// LastHeartbeat is when the last heartbeat from the peer arrived.
	LastHeartbeat time.Time
	// LastActivity is when the peer last proved to be alive.
	LastActivity time.Time
	// PingStart is when the outstanding ping was sent.
	PingStart time.Time
	reported  map[node.ID]distance.Value
	ring      [2]sent
	slot      int
}

func newInfo(id node.ID, now time.Time) *Info {
	return &Info{ID: id, LastActivity: now, reported: make(map[node.ID]distance.Value)}
}

// Touch marks the peer as alive at now.
func (i *Info) Touch(now time.Time) { i.LastActivity = now }

// Idle returns how long the peer has been silent.
func (i *Info) Idle(now time.Time) time.Duration { return now.Sub(i.LastActivity) }

// NextSeq allocates the sequence number for an outbound heartbeat and records
// its send time in the two slot ring.
func (i *Info) NextSeq(now time.Time) uint32 {
	i.LastSentSeq++
	i.ring[i.slot] = sent{seq: i.LastSentSeq, at: now}
	i.slot = 1 - i.slot
	return i.LastSentSeq
}

// Delay returns the time elapsed since the last heartbeat from the peer,
// which the host reports back so the peer can subtract it from its RTT.
func (i *Info) Delay(now time.Time) time.Duration {
	if i.LastHeartbeat.IsZero() {
		return 0
	}
	return now.Sub(i.LastHeartbeat)
}

// Reported returns the peer's last reported distance to another node.
func (i *Info) Reported(to node.ID) distance.Value { return i.reported[to] }

// Observation is the distance-relevant content of an inbound heartbeat.
type Observation struct {
	Seq         uint32
	ResponseSeq uint32
	Delay       time.Duration
	Members     node.Group
	Distances   []distance.Value
}

// Observe applies an inbound heartbeat. Redelivered or stale heartbeats only
// refresh liveness. A heartbeat far behind the last one received comes from a
// restarted peer and resets its receive sequence and reported distances. The
// ring of the host's own sends stays, so an echo from the restarted peer still
// yields a sample. It returns true if the distance estimate changed.
func (i *Info) Observe(o Observation, now time.Time) (sampled bool) {
	i.Touch(now)
	if i.restarted(o.Seq) {
		i.reset()
	}
	if i.LastRecvSeq != 0 && !seqAfter(o.Seq, i.LastRecvSeq) {
		return false
	}
	i.LastHeartbeat = now
	i.LastRecvSeq = o.Seq
	for j, m := range o.Members {
		if j < len(o.Distances) {
			i.reported[m] = o.Distances[j]
		}
	}
	for s := range i.ring {
		if i.ring[s].seq == 0 || i.ring[s].seq != o.ResponseSeq {
			continue
		}
		rtt := now.Sub(i.ring[s].at) - o.Delay
		i.ring[s] = sent{}
		i.Sample(rtt / 2)
		return true
	}
	return false
}

func (i *Info) restarted(seq uint32) bool {
	return i.LastRecvSeq != 0 && int32(i.LastRecvSeq-seq) > RestartWindow
}

func (i *Info) reset() {
	i.LastRecvSeq = 0
	i.LastHeartbeat = time.Time{}
	i.reported = make(map[node.ID]distance.Value)
}

// Sample folds a one-way latency sample into the estimate.
func (i *Info) Sample(d time.Duration) { i.Distance = i.Distance.Blend(d, Weight) }

func seqAfter(a, b uint32) bool { return int32(a-b) > 0 }
