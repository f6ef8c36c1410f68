// Package message defines the wire messages exchanged by the clustering
// protocol and their codec.
package message

import (
	"math"

	"github.com/arya-analytics/mcpo/internal/node"
)

// Variant identifies the kind of a message. Values are part of the wire
// format and must not be reordered.
type Variant uint8

const (
	VariantQuery Variant = iota
	VariantQueryResponse
	VariantJoinRequest
	VariantHeartbeat
	VariantLeaderHeartbeat
	VariantLeaderTransfer
	VariantJoinEval
	VariantJoinEvalResponse
	VariantRemove
	VariantPing
	VariantPingResponse
	VariantMergeRequest
	VariantPeerTemporary
	VariantPeerTemporaryRelease
	VariantPollRP
	VariantPollRPResponse
	VariantInvalid
	VariantLookupRP
	VariantLookupRPReply
	VariantData
	VariantBroadcastRP
)

var variantNames = [...]string{
	"query",
	"query_response",
	"join_request",
	"heartbeat",
	"leader_heartbeat",
	"leader_transfer",
	"join_eval",
	"join_eval_response",
	"remove",
	"ping",
	"ping_response",
	"merge_request",
	"peer_temporary",
	"peer_temporary_release",
	"poll_rp",
	"poll_rp_response",
	"invalid",
	"lookup_rp",
	"lookup_rp_reply",
	"data",
	"broadcast_rp",
}

func (v Variant) String() string {
	if int(v) < len(variantNames) {
		return variantNames[v]
	}
	return "unknown"
}

// Valid returns true if v is a variant the protocol handles.
func (v Variant) Valid() bool { return v < VariantBroadcastRP+1 && v != VariantInvalid }

// GroupID names an application group. The empty GroupID addresses no group in
// particular.
type GroupID string

// NoLayer marks a message that does not concern any layer.
const NoLayer int16 = math.MinInt16

// HighestLayer asks the receiver of a query to answer for its highest led
// layer.
const HighestLayer int16 = -1

// Message is a single protocol message.
type Message struct {
	Variant Variant
	Source  node.ID
	Layer   int16
	Group   GroupID
	Body    Body
}

// Body is the variant specific content of a message. The set of bodies is
// closed.
type Body interface{ body() }

// Empty is the body of messages that carry nothing beyond the header.
type Empty struct{}

// Members carries a list of cluster members.
type Members struct {
	Members node.Group
}

// Heartbeat is the body of heartbeats, leader heartbeats and leader
// transfers. Distances hold the sender's estimates to Members, index aligned
// and wire encoded. Delay is in milliseconds. Supercluster fields are only
// set by leaders.
type Heartbeat struct {
	Seq          uint32
	ResponseSeq  uint32
	Delay        uint32
	Members      node.Group
	Distances    []uint32
	SuperLeader  node.ID
	SuperMembers node.Group
}

// Merge asks the receiving leader to absorb the sender's cluster.
type Merge struct {
	SuperLeader node.ID
	Members     node.Group
}

// Data carries an application payload. A decoded payload is never nil.
type Data struct {
	Payload []byte
}

// Rendezvous carries the ID of a rendezvous point.
type Rendezvous struct {
	RP node.ID
}

func (Empty) body()      {}
func (Members) body()    {}
func (Heartbeat) body()  {}
func (Merge) body()      {}
func (Data) body()       {}
func (Rendezvous) body() {}
