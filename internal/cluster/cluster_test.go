package cluster_test

import (
	"github.com/arya-analytics/mcpo/internal/cluster"
	"github.com/arya-analytics/mcpo/internal/node"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Cluster", func() {
	var c *cluster.Cluster
	BeforeEach(func() {
		c = &cluster.Cluster{}
		c.Add("a", "b", "c")
	})
	It("Should preserve insertion order and ignore duplicates", func() {
		c.Add("b", "d")
		Expect(c.Members()).To(Equal(node.Group{"a", "b", "c", "d"}))
	})
	It("Should add the leader as a member", func() {
		c.SetLeader("z")
		Expect(c.Contains("z")).To(BeTrue())
		Expect(c.Leader()).To(Equal(node.ID("z")))
	})
	It("Should clear the leader when it is removed", func() {
		c.SetLeader("b")
		Expect(c.Remove("b")).To(BeTrue())
		Expect(c.Leader()).To(Equal(node.Unspecified))
		Expect(c.Remove("a")).To(BeFalse())
		Expect(c.Members()).To(Equal(node.Group{"c"}))
	})
	It("Should not alias the member slice", func() {
		m := c.Members()
		m[0] = "x"
		Expect(c.Contains("a")).To(BeTrue())
	})
})

var _ = Describe("Table", func() {
	var t *cluster.Table
	BeforeEach(func() {
		t = cluster.NewTable("h")
		t.At(0).Add("a", "h")
		t.At(0).SetLeader("h")
		t.At(1).Add("h", "b")
		t.At(1).SetLeader("b")
	})
	It("Should report the highest layers", func() {
		Expect(t.HighestLayer()).To(Equal(1))
		Expect(t.HighestLeaderLayer()).To(Equal(0))
		Expect(t.MemberLayers()).To(Equal([]int{1, 0}))
	})
	It("Should grow to any depth", func() {
		t.At(12).Add("h")
		Expect(t.Depth()).To(Equal(13))
		Expect(t.HighestLayer()).To(Equal(12))
	})
	It("Should read missing layers as empty without growing", func() {
		Expect(t.Peek(7).Empty()).To(BeTrue())
		Expect(t.Depth()).To(Equal(2))
	})
	It("Should remove a peer from every layer and report what it led", func() {
		Expect(t.RemoveAll("b")).To(Equal([]int{1}))
		Expect(t.At(1).Leader()).To(Equal(node.Unspecified))
	})
	It("Should clear upper layers and trim", func() {
		t.ClearFrom(1)
		t.Trim()
		Expect(t.Depth()).To(Equal(1))
		Expect(t.HighestLayer()).To(Equal(0))
	})
	It("Should report no layer for an empty table", func() {
		Expect(cluster.NewTable("h").HighestLayer()).To(Equal(cluster.NoLayer))
	})
})
