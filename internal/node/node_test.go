package node_test

import (
	"github.com/arya-analytics/mcpo/internal/node"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ID", func() {
	It("Should order IDs byte-wise", func() {
		Expect(node.ID("a").Less("b")).To(BeTrue())
		Expect(node.ID("b").Greater("a")).To(BeTrue())
		Expect(node.ID("10").Less("9")).To(BeTrue())
	})
	It("Should treat the empty ID as unspecified", func() {
		Expect(node.Unspecified.IsZero()).To(BeTrue())
		Expect(node.ID("x").IsZero()).To(BeFalse())
		Expect(node.Unspecified.String()).To(Equal("<unspecified>"))
	})
})
