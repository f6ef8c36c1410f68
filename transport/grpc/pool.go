package grpc

import (
	"sync"

	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/arya-analytics/mcpo/internal/overlay"
	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
)

// pool keeps one client connection per peer.
type pool struct {
	opts  []grpc.DialOption
	mu    sync.Mutex
	conns map[node.ID]*grpc.ClientConn
	done  bool
}

func newPool(opts []grpc.DialOption) *pool {
	return &pool{opts: opts, conns: make(map[node.ID]*grpc.ClientConn)}
}

func (p *pool) acquire(to node.ID) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil, overlay.ErrClosed
	}
	if c, ok := p.conns[to]; ok {
		return c, nil
	}
	c, err := grpc.Dial(string(to), p.opts...)
	if err != nil {
		return nil, err
	}
	p.conns[to] = c
	return c, nil
}

func (p *pool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs error
	for id, c := range p.conns {
		if err := c.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "close connection to %s", id))
		}
	}
	p.conns = make(map[node.ID]*grpc.ClientConn)
	p.done = true
	return errs
}
