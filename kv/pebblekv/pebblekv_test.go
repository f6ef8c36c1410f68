package pebblekv_test

import (
	"context"
	"time"

	"github.com/arya-analytics/mcpo/kv/pebblekv"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/pebble/vfs"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DB", func() {
	var (
		ctx = context.Background()
		clk *clock.Mock
		db  *pebblekv.DB
	)
	BeforeEach(func() {
		clk = clock.NewMock()
		var err error
		db, err = pebblekv.Open(pebblekv.Config{FS: vfs.NewMem(), Clock: clk})
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() { Expect(db.Close()).To(Succeed()) })
	It("Should return nothing for a missing key", func() {
		v, err := db.Get(ctx, "missing")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(BeEmpty())
	})
	It("Should return a value before it expires", func() {
		Expect(db.Put(ctx, "rp", []byte("n1"), time.Hour)).To(Succeed())
		v, err := db.Get(ctx, "rp")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal([][]byte{[]byte("n1")}))
	})
	It("Should hide expired values", func() {
		Expect(db.Put(ctx, "rp", []byte("n1"), time.Minute)).To(Succeed())
		clk.Add(2 * time.Minute)
		v, err := db.Get(ctx, "rp")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(BeEmpty())
	})
	It("Should overwrite an existing value", func() {
		Expect(db.Put(ctx, "rp", []byte("n1"), time.Hour)).To(Succeed())
		Expect(db.Put(ctx, "rp", []byte("n2"), time.Hour)).To(Succeed())
		v, err := db.Get(ctx, "rp")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal([][]byte{[]byte("n2")}))
	})
})
