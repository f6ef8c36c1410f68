package engine_test

import (
	"github.com/arya-analytics/mcpo/internal/engine"
	"github.com/arya-analytics/mcpo/internal/overlay/mock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	Describe("Merge", func() {
		It("Should fill zero threshold fractions from the defaults", func() {
			def := engine.DefaultConfig()
			cfg := engine.Config{ReplaceMeanFraction: 0.2}.Merge(def)
			Expect(cfg.SuperclusterProcDistance).To(Equal(def.SuperclusterProcDistance))
			Expect(cfg.SuperclusterMinOffset).To(Equal(def.SuperclusterMinOffset))
			Expect(cfg.ReplaceProcDistance).To(Equal(def.ReplaceProcDistance))
			Expect(cfg.ReplaceMeanFraction).To(Equal(0.2))
		})
	})
	Describe("Validate", func() {
		It("Should reject a negative threshold fraction", func() {
			cfg := engine.Config{
				Overlay:             mock.NewNetwork().Route("n1"),
				ReplaceProcDistance: -0.1,
			}.Merge(engine.DefaultConfig())
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("replace proc distance")))
		})
		It("Should accept the defaults", func() {
			cfg := engine.Config{Overlay: mock.NewNetwork().Route("n1")}.Merge(engine.DefaultConfig())
			Expect(cfg.Validate()).To(Succeed())
		})
	})
})
