package grpc_test

import (
	"context"
	"sync"
	"time"

	"github.com/arya-analytics/mcpo/internal/engine"
	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/overlay"
	"github.com/arya-analytics/mcpo/transport/grpc"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type frame struct {
	from node.ID
	data string
}

type inbox struct {
	mu     sync.Mutex
	frames []frame
}

func (i *inbox) handle(from node.ID, data []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.frames = append(i.frames, frame{from: from, data: string(data)})
}

func (i *inbox) received() []frame {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]frame(nil), i.frames...)
}

var _ = Describe("Transport", func() {
	var (
		ctx  = context.Background()
		a, b *grpc.Transport
		box  *inbox
	)
	BeforeEach(func() {
		var err error
		b, err = grpc.Open(grpc.Config{})
		Expect(err).ToNot(HaveOccurred())
		a, err = grpc.Open(grpc.Config{Peers: []node.ID{b.ID()}})
		Expect(err).ToNot(HaveOccurred())
		box = &inbox{}
		Expect(b.Bind("svc", box.handle)).To(Succeed())
	})
	AfterEach(func() {
		Expect(a.Close()).To(Succeed())
		Expect(b.Close()).To(Succeed())
	})
	It("Should use the resolved listen address as identity", func() {
		Expect(a.ID()).ToNot(HaveSuffix(":0"))
		Expect(a.ID()).ToNot(Equal(b.ID()))
	})
	It("Should deliver a frame with the sender's identity", func() {
		Expect(a.Send(ctx, b.ID(), "svc", []byte("hello"))).To(Succeed())
		Eventually(box.received).Should(ConsistOf(frame{from: a.ID(), data: "hello"}))
	})
	It("Should broadcast to configured peers", func() {
		Expect(a.Broadcast(ctx, "svc", []byte("all"))).To(Succeed())
		Eventually(box.received).Should(ConsistOf(frame{from: a.ID(), data: "all"}))
	})
	It("Should learn the nodes that contact it", func() {
		Expect(b.Known()).To(BeEmpty())
		Expect(a.Send(ctx, b.ID(), "svc", []byte("hello"))).To(Succeed())
		Eventually(b.Known).Should(ConsistOf(a.ID()))
		back := &inbox{}
		Expect(a.Bind("svc", back.handle)).To(Succeed())
		Expect(b.Broadcast(ctx, "svc", []byte("back"))).To(Succeed())
		Eventually(back.received).Should(ConsistOf(frame{from: b.ID(), data: "back"}))
	})
	It("Should drop frames for unbound services", func() {
		Expect(a.Send(ctx, b.ID(), "other", []byte("hello"))).To(Succeed())
		Consistently(box.received, 100*time.Millisecond).Should(BeEmpty())
	})
	It("Should refuse to send after close", func() {
		Expect(a.Close()).To(Succeed())
		Expect(a.Send(ctx, b.ID(), "svc", nil)).To(MatchError(overlay.ErrClosed))
	})
	It("Should settle sends that race a close", func() {
		var (
			wg   sync.WaitGroup
			errs = make(chan error, 8*50)
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for j := 0; j < 50; j++ {
					errs <- a.Send(ctx, b.ID(), "svc", []byte("race"))
				}
			}()
		}
		Expect(a.Close()).To(Succeed())
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				Expect(err).To(MatchError(overlay.ErrClosed))
			}
		}
		Expect(a.Send(ctx, b.ID(), "svc", nil)).To(MatchError(overlay.ErrClosed))
	})
	It("Should carry the protocol between two engines", func() {
		cfg := func(t *grpc.Transport) engine.Config {
			return engine.Config{
				Overlay:           t,
				BootstrapTimeout:  200 * time.Millisecond,
				HeartbeatInterval: 50 * time.Millisecond,
				QueryTimeout:      200 * time.Millisecond,
			}
		}
		first, err := engine.New(cfg(b))
		Expect(err).ToNot(HaveOccurred())
		Expect(first.Start()).To(Succeed())
		defer func() { Expect(first.Close()).To(Succeed()) }()
		Eventually(func() engine.State {
			s, _ := first.Snapshot()
			return s.State
		}, time.Second).Should(Equal(engine.StateReady))
		second, err := engine.New(cfg(a))
		Expect(err).ToNot(HaveOccurred())
		Expect(second.Start()).To(Succeed())
		defer func() { Expect(second.Close()).To(Succeed()) }()
		Eventually(func(g Gomega) {
			s, err := second.Snapshot()
			g.Expect(err).ToNot(HaveOccurred())
			g.Expect(s.State).To(Equal(engine.StateReady))
			g.Expect(s.Layer(0).Leader).To(Equal(b.ID()))
		}, 2*time.Second).Should(Succeed())
	})
})
