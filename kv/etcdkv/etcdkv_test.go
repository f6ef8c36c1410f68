package etcdkv_test

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/arya-analytics/mcpo/kv/etcdkv"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store", func() {
	Describe("Config", func() {
		It("Should require endpoints", func() {
			_, err := etcdkv.Open(etcdkv.Config{})
			Expect(err).To(HaveOccurred())
		})
		It("Should merge defaults", func() {
			cfg := etcdkv.Config{Endpoints: []string{"localhost:2379"}}.Merge(etcdkv.DefaultConfig())
			Expect(cfg.DialTimeout).To(Equal(5 * time.Second))
			Expect(cfg.Prefix).To(Equal("/"))
			Expect(cfg.Validate()).To(Succeed())
		})
	})
	Describe("LeaseSeconds", func() {
		It("Should round up to whole seconds", func() {
			Expect(etcdkv.LeaseSeconds(time.Hour)).To(Equal(int64(3600)))
			Expect(etcdkv.LeaseSeconds(1500 * time.Millisecond)).To(Equal(int64(2)))
			Expect(etcdkv.LeaseSeconds(0)).To(Equal(int64(1)))
		})
	})
	Describe("Key", func() {
		It("Should namespace keys with the prefix", func() {
			Expect(etcdkv.Wrap(nil, "/mcpo/").Key("rp")).To(Equal("/mcpo/rp"))
		})
	})
	Describe("Live", func() {
		var store *etcdkv.Store
		BeforeEach(func() {
			endpoints := os.Getenv("MCPO_ETCD_ENDPOINTS")
			if endpoints == "" {
				Skip("MCPO_ETCD_ENDPOINTS is not set")
			}
			var err error
			store, err = etcdkv.Open(etcdkv.Config{
				Endpoints: strings.Split(endpoints, ","),
				Prefix:    "/mcpo-test/",
			})
			Expect(err).ToNot(HaveOccurred())
		})
		AfterEach(func() {
			if store != nil {
				Expect(store.Close()).To(Succeed())
			}
		})
		It("Should read back a value that was put", func() {
			ctx := context.Background()
			Expect(store.Put(ctx, "rp", []byte("a"), time.Minute)).To(Succeed())
			values, err := store.Get(ctx, "rp")
			Expect(err).ToNot(HaveOccurred())
			Expect(values).To(ConsistOf([]byte("a")))
		})
		It("Should return nothing for a missing key", func() {
			values, err := store.Get(context.Background(), "missing")
			Expect(err).ToNot(HaveOccurred())
			Expect(values).To(BeEmpty())
		})
	})
})
