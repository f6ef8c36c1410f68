// Package telemetry exposes prometheus metrics for the clustering protocol.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcpo"

var (
	Registry = prometheus.NewRegistry()

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Protocol messages handed to the overlay.",
		},
		[]string{"node", "variant"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Protocol messages accepted from the overlay.",
		},
		[]string{"node", "variant"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages discarded before handling.",
		},
		[]string{"node", "reason"},
	)

	SendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Overlay send failures.",
		},
		[]string{"node"},
	)

	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "structure_events_total",
			Help:      "Hierarchy changes: splits, merges, transfers, evictions and rendezvous changes.",
		},
		[]string{"node", "event"},
	)

	State = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Protocol state (0 init, 1 bootstrap, 2 ready).",
		},
		[]string{"node"},
	)

	ClusterSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cluster_size",
			Help:      "Members of each layer the node belongs to.",
		},
		[]string{"node", "layer"},
	)

	DistanceSamples = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "distance_sample_seconds",
			Help:      "One-way latency samples folded into peer estimates.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"node"},
	)
)

func init() {
	Registry.MustRegister(
		MessagesSent,
		MessagesReceived,
		MessagesDropped,
		SendErrors,
		Events,
		State,
		ClusterSize,
		DistanceSamples,
	)
}

// MetricsHandler exposes the registry. Mount it with
// mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Event names recorded by Node.Event.
const (
	EventSplit          = "split"
	EventMerge          = "merge"
	EventLeaderTransfer = "leader_transfer"
	EventEviction       = "eviction"
	EventRendezvous     = "rendezvous"
	EventReconnect      = "reconnect"
)

// Node records metrics labelled with a single node's identity.
type Node struct {
	id string
}

// For returns the recorder for the given node.
func For(id string) *Node { return &Node{id: id} }

func (n *Node) Sent(variant string) { MessagesSent.WithLabelValues(n.id, variant).Inc() }

func (n *Node) Received(variant string) { MessagesReceived.WithLabelValues(n.id, variant).Inc() }

func (n *Node) Dropped(reason string) { MessagesDropped.WithLabelValues(n.id, reason).Inc() }

func (n *Node) SendError() { SendErrors.WithLabelValues(n.id).Inc() }

func (n *Node) Event(event string) { Events.WithLabelValues(n.id, event).Inc() }

func (n *Node) SetState(s int) { State.WithLabelValues(n.id).Set(float64(s)) }

func (n *Node) SetClusterSize(layer, size int) {
	ClusterSize.WithLabelValues(n.id, strconv.Itoa(layer)).Set(float64(size))
}

func (n *Node) ObserveDistance(d time.Duration) {
	DistanceSamples.WithLabelValues(n.id).Observe(d.Seconds())
}
