package engine

import (
	"context"
	"sync"
	"time"

	"github.com/arya-analytics/mcpo/internal/distance"
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/overlay/mock"
	"github.com/benbjohnson/clock"
	. "github.com/onsi/gomega"
)

const testService = "test"

type delivery struct {
	payload []byte
	group   message.GroupID
}

type recorder struct {
	mu    sync.Mutex
	ready int
	data  []delivery
}

func (r *recorder) OnServiceReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready++
}

func (r *recorder) OnReceiveData(payload []byte, group message.GroupID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, delivery{payload: payload, group: group})
}

type captured struct {
	to  node.ID
	msg message.Message
}

// harness drives a single engine's handlers directly on the test goroutine
// against a mock clock. Every other node is a route that records what it
// receives.
type harness struct {
	net   *mock.Network
	clock *clock.Mock
	recv  *recorder
	e     *Engine
	mu    sync.Mutex
	inbox []captured
}

func newHarness(host node.ID, peers ...node.ID) *harness {
	return newHarnessWith(Config{}, host, peers...)
}

func newHarnessWith(cfg Config, host node.ID, peers ...node.ID) *harness {
	h := &harness{net: mock.NewNetwork(), clock: clock.NewMock(), recv: &recorder{}}
	h.clock.Set(time.Unix(1_000_000, 0))
	for _, p := range peers {
		h.route(p)
	}
	cfg.Overlay = h.net.Route(host)
	cfg.Clock = h.clock
	cfg.Service = testService
	cfg.Receiver = h.recv
	e, err := New(cfg)
	Expect(err).ToNot(HaveOccurred())
	h.e = e
	return h
}

func (h *harness) route(id node.ID) {
	o := h.net.Route(id)
	Expect(o.Bind(testService, func(_ node.ID, data []byte) {
		msg, err := message.Decode(data)
		Expect(err).ToNot(HaveOccurred())
		h.mu.Lock()
		defer h.mu.Unlock()
		h.inbox = append(h.inbox, captured{to: id, msg: msg})
	})).To(Succeed())
}

// sent returns the messages of variant v that reached to.
func (h *harness) sent(to node.ID, v message.Variant) []message.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []message.Message
	for _, c := range h.inbox {
		if c.to == to && c.msg.Variant == v {
			out = append(out, c.msg)
		}
	}
	return out
}

// last returns the most recent message of variant v that reached to.
func (h *harness) last(to node.ID, v message.Variant) message.Message {
	msgs := h.sent(to, v)
	Expect(msgs).ToNot(BeEmpty(), "no %s reached %s", v, to)
	return msgs[len(msgs)-1]
}

func (h *harness) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inbox = nil
}

func (h *harness) deliver(from node.ID, v message.Variant, layer int, body message.Body) {
	if body == nil {
		body = message.Empty{}
	}
	h.e.dispatch(message.Message{Variant: v, Source: from, Layer: int16(layer), Body: body})
}

// form installs a cluster at layer. Members are added in order.
func (h *harness) form(layer int, leader node.ID, members ...node.ID) {
	c := h.e.clusters.At(layer)
	c.Clear()
	c.Add(members...)
	c.SetLeader(leader)
	for _, m := range members {
		h.e.peers.Ensure(m, h.clock.Now())
	}
}

// ready puts the engine in READY with the given rendezvous point without
// running the bootstrap sequence.
func (h *harness) ready(rp node.ID) {
	h.e.rp = rp
	h.e.state = StateReady
	h.e.notified = true
}

func (h *harness) distance(to node.ID, d time.Duration) {
	i := h.e.peers.Ensure(to, h.clock.Now())
	i.Distance = i.Distance.Blend(d, 1)
}

// report makes from report the given distances, as if carried by one of its
// heartbeats.
func (h *harness) report(from node.ID, dists map[node.ID]time.Duration) {
	i := h.e.peers.Ensure(from, h.clock.Now())
	hb := message.Heartbeat{Seq: i.LastRecvSeq + 1}
	for to, d := range dists {
		hb.Members = append(hb.Members, to)
		hb.Distances = append(hb.Distances, distance.Of(d).Wire())
	}
	h.e.observe(from, hb)
}

// callbacks runs the receiver callbacks queued so far.
func (h *harness) callbacks() {
	for {
		select {
		case f := <-h.e.deliveries:
			f()
		default:
			return
		}
	}
}

// drain runs events posted to the loop by timers and background work until
// none arrive for a short while.
func (h *harness) drain() {
	for {
		select {
		case f := <-h.e.events:
			f()
		case <-time.After(20 * time.Millisecond):
			return
		}
	}
}

type measurer struct{ d time.Duration }

func (m measurer) Measure(context.Context, node.ID) (time.Duration, error) { return m.d, nil }
