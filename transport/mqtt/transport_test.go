package mqtt_test

import (
	"context"
	"os"
	"sync"

	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/transport/mqtt"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// brokerEnv names a reachable broker. Specs that need one are skipped when it
// is unset.
const brokerEnv = "MCPO_MQTT_BROKER"

type inbox struct {
	mu   sync.Mutex
	from map[node.ID][]string
}

func (i *inbox) handle(from node.ID, data []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.from[from] = append(i.from[from], string(data))
}

func (i *inbox) received(from node.ID) func() []string {
	return func() []string {
		i.mu.Lock()
		defer i.mu.Unlock()
		return append([]string(nil), i.from[from]...)
	}
}

var _ = Describe("Config", func() {
	It("Should fill defaults", func() {
		cfg := mqtt.Config{ID: "a"}.Merge(mqtt.DefaultConfig())
		Expect(cfg.Broker).To(Equal("tcp://127.0.0.1:1883"))
		Expect(cfg.Validate()).To(Succeed())
	})
	It("Should derive topics from the prefix", func() {
		cfg := mqtt.Config{Prefix: "test"}
		Expect(cfg.UnicastTopic("a")).To(Equal("test/node/a"))
		Expect(cfg.BroadcastTopic()).To(Equal("test/all"))
	})
	DescribeTable("Should reject invalid configs", func(cfg mqtt.Config) {
		Expect(cfg.Merge(mqtt.DefaultConfig()).Validate()).ToNot(Succeed())
	},
		Entry("missing id", mqtt.Config{}),
		Entry("id with separator", mqtt.Config{ID: "a/b"}),
		Entry("id with wildcard", mqtt.Config{ID: "a+"}),
		Entry("wildcard prefix", mqtt.Config{ID: "a", Prefix: "x/#"}),
		Entry("bad qos", mqtt.Config{ID: "a", QoS: 3}),
	)
})

var _ = Describe("Transport", func() {
	var (
		ctx  = context.Background()
		a, b *mqtt.Transport
		box  *inbox
	)
	BeforeEach(func() {
		broker := os.Getenv(brokerEnv)
		if broker == "" {
			Skip(brokerEnv + " is not set")
		}
		prefix := "mcpo-test/" + CurrentSpecReport().LeafNodeText
		var err error
		a, err = mqtt.Open(mqtt.Config{Broker: broker, ID: "a", Prefix: prefix, QoS: 1})
		Expect(err).ToNot(HaveOccurred())
		b, err = mqtt.Open(mqtt.Config{Broker: broker, ID: "b", Prefix: prefix, QoS: 1})
		Expect(err).ToNot(HaveOccurred())
		box = &inbox{from: make(map[node.ID][]string)}
		Expect(b.Bind("svc", box.handle)).To(Succeed())
	})
	AfterEach(func() {
		if a != nil {
			Expect(a.Close()).To(Succeed())
			Expect(b.Close()).To(Succeed())
		}
	})
	It("Should deliver a unicast frame", func() {
		Expect(a.Send(ctx, "b", "svc", []byte("hello"))).To(Succeed())
		Eventually(box.received("a")).Should(Equal([]string{"hello"}))
	})
	It("Should not deliver broadcasts back to the sender", func() {
		own := &inbox{from: make(map[node.ID][]string)}
		Expect(a.Bind("svc", own.handle)).To(Succeed())
		Expect(a.Broadcast(ctx, "svc", []byte("all"))).To(Succeed())
		Eventually(box.received("a")).Should(Equal([]string{"all"}))
		Consistently(own.received("a")).Should(BeEmpty())
	})
})
