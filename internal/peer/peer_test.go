package peer_test

import (
	"time"

	"github.com/arya-analytics/mcpo/internal/distance"
	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/peer"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Peer", func() {
	var (
		t0    time.Time
		table *peer.Table
		info  *peer.Info
	)
	BeforeEach(func() {
		t0 = time.Unix(1000, 0)
		table = peer.NewTable("host")
		info = table.Ensure("b", t0)
	})
	Describe("Ensure", func() {
		It("Should never create a record for the host", func() {
			Expect(table.Ensure("host", t0)).To(BeNil())
			Expect(table.Len()).To(Equal(1))
		})
		It("Should return the existing record", func() {
			Expect(table.Ensure("b", t0)).To(BeIdenticalTo(info))
		})
	})
	Describe("Observe", func() {
		It("Should sample half the round trip minus the reported delay", func() {
			seq := info.NextSeq(t0)
			sampled := info.Observe(peer.Observation{
				Seq:         1,
				ResponseSeq: seq,
				Delay:       20 * time.Millisecond,
			}, t0.Add(120*time.Millisecond))
			Expect(sampled).To(BeTrue())
			Expect(table.Distance("b").Duration()).To(Equal(50 * time.Millisecond))
		})
		It("Should blend later samples into the estimate", func() {
			info.Observe(peer.Observation{Seq: 1, ResponseSeq: info.NextSeq(t0)}, t0.Add(200*time.Millisecond))
			t1 := t0.Add(time.Second)
			info.Observe(peer.Observation{Seq: 2, ResponseSeq: info.NextSeq(t1)}, t1.Add(400*time.Millisecond))
			Expect(info.Distance.Duration()).To(Equal(110 * time.Millisecond))
		})
		It("Should not mutate the estimate when a heartbeat is redelivered", func() {
			o := peer.Observation{Seq: 1, ResponseSeq: info.NextSeq(t0)}
			Expect(info.Observe(o, t0.Add(100*time.Millisecond))).To(BeTrue())
			before := info.Distance
			Expect(info.Observe(o, t0.Add(900*time.Millisecond))).To(BeFalse())
			Expect(info.Distance).To(Equal(before))
			Expect(info.LastActivity).To(Equal(t0.Add(900 * time.Millisecond)))
		})
		It("Should not resample a consumed ring slot", func() {
			seq := info.NextSeq(t0)
			info.Observe(peer.Observation{Seq: 1, ResponseSeq: seq}, t0.Add(100*time.Millisecond))
			before := info.Distance
			Expect(info.Observe(peer.Observation{Seq: 2, ResponseSeq: seq}, t0.Add(time.Second))).To(BeFalse())
			Expect(info.Distance).To(Equal(before))
		})
		It("Should record the peer's reported distances", func() {
			info.Observe(peer.Observation{
				Seq:       1,
				Members:   node.Group{"c", "host"},
				Distances: []distance.Value{distance.Of(7 * time.Millisecond), distance.Unknown},
			}, t0)
			Expect(table.Reported("b", "c").Duration()).To(Equal(7 * time.Millisecond))
			Expect(table.Reported("b", "host").Known()).To(BeFalse())
		})
	})
	Describe("Restart", func() {
		var t1 time.Time
		BeforeEach(func() {
			for seq := uint32(1); seq <= 500; seq++ {
				info.Observe(peer.Observation{
					Seq:       seq,
					Members:   node.Group{"c"},
					Distances: []distance.Value{distance.Of(10 * time.Millisecond)},
				}, t0.Add(time.Duration(seq)*time.Millisecond))
			}
			t1 = t0.Add(time.Minute)
		})
		It("Should accept heartbeats from a peer that reset its sequence", func() {
			for seq := uint32(1); seq <= 20; seq++ {
				info.Observe(peer.Observation{
					Seq:       seq,
					Members:   node.Group{"c"},
					Distances: []distance.Value{distance.Of(90 * time.Millisecond)},
				}, t1)
			}
			Expect(info.LastRecvSeq).To(Equal(uint32(20)))
			Expect(table.Reported("b", "c").Duration()).To(Equal(90 * time.Millisecond))
		})
		It("Should sample the round trip after a restart", func() {
			sent := info.NextSeq(t1)
			Expect(info.Observe(peer.Observation{Seq: 1, ResponseSeq: sent}, t1.Add(80*time.Millisecond))).To(BeTrue())
			Expect(info.Distance.Duration()).To(Equal(40 * time.Millisecond))
		})
		It("Should forget distances reported before the restart", func() {
			info.Observe(peer.Observation{Seq: 1}, t1)
			Expect(table.Reported("b", "c").Known()).To(BeFalse())
		})
		It("Should treat a small backward gap as reordering", func() {
			Expect(info.Observe(peer.Observation{
				Seq:       500 - peer.RestartWindow,
				Members:   node.Group{"c"},
				Distances: []distance.Value{distance.Of(90 * time.Millisecond)},
			}, t1)).To(BeFalse())
			Expect(info.LastRecvSeq).To(Equal(uint32(500)))
			Expect(table.Reported("b", "c").Duration()).To(Equal(10 * time.Millisecond))
		})
	})
	Describe("NextSeq", func() {
		It("Should alternate between the two ring slots", func() {
			s1 := info.NextSeq(t0)
			s2 := info.NextSeq(t0.Add(time.Second))
			s3 := info.NextSeq(t0.Add(2 * time.Second))
			Expect([]uint32{s1, s2, s3}).To(Equal([]uint32{1, 2, 3}))
			Expect(info.Observe(peer.Observation{Seq: 1, ResponseSeq: s1}, t0.Add(3*time.Second))).To(BeFalse())
			Expect(info.Observe(peer.Observation{Seq: 2, ResponseSeq: s2}, t0.Add(3*time.Second))).To(BeTrue())
		})
	})
	Describe("Expired", func() {
		It("Should list peers idle past the timeout", func() {
			table.Ensure("c", t0.Add(5*time.Second))
			Expect(table.Expired(t0.Add(11*time.Second), 10*time.Second)).To(Equal(node.Group{"b"}))
		})
	})
})
