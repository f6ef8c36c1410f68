package overlay

import (
	"bytes"
	"sync"

	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-msgpack/codec"
)

// Frame wraps a payload with the routing information substrates without
// native sender identification need to carry.
type Frame struct {
	Source  node.ID
	Service ServiceID
	Data    []byte
}

// EncodeFrame serializes a frame with msgpack.
func EncodeFrame(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, &codec.MsgpackHandle{}).Encode(&f); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses a frame produced by EncodeFrame.
func DecodeFrame(b []byte) (f Frame, err error) {
	if err = codec.NewDecoder(bytes.NewReader(b), &codec.MsgpackHandle{}).Decode(&f); err != nil {
		return f, errors.Wrap(err, "decode frame")
	}
	return f, nil
}

// Handlers is a concurrency safe registry of service handlers shared by the
// overlay implementations.
type Handlers struct {
	mu sync.RWMutex
	m  map[ServiceID]Handler
}

// Bind registers h for svc.
func (hs *Handlers) Bind(svc ServiceID, h Handler) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.m == nil {
		hs.m = make(map[ServiceID]Handler)
	}
	if _, ok := hs.m[svc]; ok {
		return errors.Wrapf(ErrAlreadyBound, "service %s", svc)
	}
	hs.m[svc] = h
	return nil
}

// Unbind removes the handler for svc.
func (hs *Handlers) Unbind(svc ServiceID) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	delete(hs.m, svc)
	return nil
}

// Dispatch hands data to the handler bound to svc. It returns false if no
// handler is bound.
func (hs *Handlers) Dispatch(svc ServiceID, from node.ID, data []byte) bool {
	hs.mu.RLock()
	h, ok := hs.m[svc]
	hs.mu.RUnlock()
	if ok {
		h(from, data)
	}
	return ok
}

// Services returns the bound services.
func (hs *Handlers) Services() []ServiceID {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	out := make([]ServiceID, 0, len(hs.m))
	for svc := range hs.m {
		out = append(out, svc)
	}
	return out
}
