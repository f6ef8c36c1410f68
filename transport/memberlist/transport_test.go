package memberlist_test

import (
	"context"
	"sync"

	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/overlay"
	"github.com/arya-analytics/mcpo/transport/memberlist"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

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

func open(name string, join ...string) *memberlist.Transport {
	cfg := memberlist.DefaultConfig()
	cfg.Memberlist.Name = name
	cfg.Join = join
	t, err := memberlist.Open(cfg)
	Expect(err).ToNot(HaveOccurred())
	return t
}

var _ = Describe("Transport", func() {
	var (
		ctx     = context.Background()
		a, b, c *memberlist.Transport
		box     *inbox
	)
	BeforeEach(func() {
		a = open("a")
		b = open("b", a.Address())
		c = open("c", a.Address())
		box = &inbox{from: make(map[node.ID][]string)}
		Expect(b.Bind("svc", box.handle)).To(Succeed())
		Eventually(a.Members).Should(HaveLen(3))
		Eventually(c.Members).Should(HaveLen(3))
	})
	AfterEach(func() {
		for _, t := range []*memberlist.Transport{c, b, a} {
			Expect(t.Close()).To(Succeed())
		}
	})
	It("Should require a member name", func() {
		_, err := memberlist.Open(memberlist.Config{})
		Expect(err).To(HaveOccurred())
	})
	It("Should deliver a frame to a named member", func() {
		Expect(a.Send(ctx, "b", "svc", []byte("hello"))).To(Succeed())
		Eventually(box.received("a")).Should(Equal([]string{"hello"}))
	})
	It("Should broadcast to every other member", func() {
		other := &inbox{from: make(map[node.ID][]string)}
		Expect(a.Bind("svc", other.handle)).To(Succeed())
		Expect(c.Broadcast(ctx, "svc", []byte("all"))).To(Succeed())
		Eventually(box.received("c")).Should(Equal([]string{"all"}))
		Eventually(other.received("c")).Should(Equal([]string{"all"}))
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
					errs <- c.Send(ctx, "b", "svc", []byte("race"))
				}
			}()
		}
		Expect(c.Close()).To(Succeed())
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				Expect(err).To(Or(MatchError(overlay.ErrClosed), MatchError(overlay.ErrUnreachable)))
			}
		}
		Expect(c.Send(ctx, "b", "svc", nil)).To(MatchError(overlay.ErrClosed))
	})
	It("Should reject unknown members", func() {
		Expect(a.Send(ctx, "z", "svc", nil)).To(MatchError(overlay.ErrUnreachable))
	})
})
