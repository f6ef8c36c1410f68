package engine

import (
	"github.com/arya-analytics/mcpo/internal/message"
	"github.com/arya-analytics/mcpo/internal/node"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Data", func() {
	var h *harness
	BeforeEach(func() {
		h = newHarness("m", "a", "b", "s")
		h.ready("s")
		h.form(0, "m", "m", "a", "b")
		h.form(1, "s", "s", "m")
	})
	data := func(from node.ID, layer int, group message.GroupID, payload string) {
		h.e.dispatch(message.Message{
			Variant: message.VariantData,
			Source:  from,
			Layer:   int16(layer),
			Group:   group,
			Body:    message.Data{Payload: []byte(payload)},
		})
	}
	Describe("Dissemination", func() {
		It("Should send to every member of every layer the host belongs to", func() {
			h.e.disseminate([]byte("hello"), "g")
			for _, id := range []node.ID{"a", "b"} {
				msg := h.last(id, message.VariantData)
				Expect(msg.Layer).To(Equal(int16(0)))
				Expect(msg.Group).To(Equal(message.GroupID("g")))
				Expect(msg.Body.(message.Data).Payload).To(Equal([]byte("hello")))
			}
			Expect(h.last("s", message.VariantData).Layer).To(Equal(int16(1)))
		})
		It("Should be a no-op before the host is ready", func() {
			h.e.state = StateBootstrap
			h.e.disseminate([]byte("hello"), "")
			Expect(h.sent("a", message.VariantData)).To(BeEmpty())
			Expect(h.sent("s", message.VariantData)).To(BeEmpty())
		})
	})
	Describe("Relay", func() {
		It("Should forward into every layer except the one the data arrived on", func() {
			data("a", 0, "", "hello")
			Expect(h.sent("b", message.VariantData)).To(BeEmpty())
			Expect(h.sent("a", message.VariantData)).To(BeEmpty())
			Expect(h.last("s", message.VariantData).Layer).To(Equal(int16(1)))
		})
		It("Should forward data arriving from above to the layers below", func() {
			data("s", 1, "", "hello")
			Expect(h.sent("a", message.VariantData)).To(HaveLen(1))
			Expect(h.sent("b", message.VariantData)).To(HaveLen(1))
			Expect(h.sent("s", message.VariantData)).To(BeEmpty())
		})
	})
	Describe("Delivery", func() {
		It("Should deliver data addressed to no group", func() {
			data("a", 0, "", "hello")
			h.callbacks()
			Expect(h.recv.data).To(HaveLen(1))
			Expect(h.recv.data[0].payload).To(Equal([]byte("hello")))
		})
		It("Should only deliver group data the host subscribes to", func() {
			h.e.groups["g1"] = struct{}{}
			data("a", 0, "g1", "one")
			data("a", 0, "g2", "two")
			h.callbacks()
			Expect(h.recv.data).To(HaveLen(1))
			Expect(h.recv.data[0].group).To(Equal(message.GroupID("g1")))
			Expect(h.sent("s", message.VariantData)).To(HaveLen(2))
		})
	})
})
