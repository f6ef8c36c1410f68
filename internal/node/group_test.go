package node_test

import (
	"github.com/arya-analytics/mcpo/internal/node"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Group", func() {
	var g node.Group
	BeforeEach(func() { g = node.Group{"a", "b", "c"} })
	Describe("WhereNot", func() {
		It("Should filter the given ids and preserve order", func() {
			Expect(g.WhereNot("b")).To(Equal(node.Group{"a", "c"}))
			Expect(g).To(HaveLen(3))
		})
	})
	Describe("Union", func() {
		It("Should append only new, specified ids", func() {
			Expect(g.Union("c", "d", node.Unspecified)).To(Equal(node.Group{"a", "b", "c", "d"}))
		})
	})
	Describe("Equal", func() {
		It("Should compare groups as sets", func() {
			Expect(g.Equal(node.Group{"c", "a", "b"})).To(BeTrue())
			Expect(g.Equal(node.Group{"a", "b"})).To(BeFalse())
			Expect(g.Equal(node.Group{"a", "b", "d"})).To(BeFalse())
		})
	})
	Describe("Index", func() {
		It("Should return -1 for missing ids", func() {
			Expect(g.Index("b")).To(Equal(1))
			Expect(g.Index("z")).To(Equal(-1))
		})
	})
})
