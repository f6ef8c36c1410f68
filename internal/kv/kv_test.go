package kv_test

import (
	"github.com/arya-analytics/mcpo/internal/kv"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RendezvousKey", func() {
	It("Should be stable and distinct per service", func() {
		Expect(kv.RendezvousKey("a")).To(Equal(kv.RendezvousKey("a")))
		Expect(kv.RendezvousKey("a")).ToNot(Equal(kv.RendezvousKey("b")))
		Expect(kv.RendezvousKey("a")).To(HavePrefix("mcpo/rp/"))
	})
})
