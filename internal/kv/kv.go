// Package kv defines the key-value store the protocol can use to publish and
// discover its rendezvous point.
package kv

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned by stores that distinguish a missing key from an
// empty result.
var ErrNotFound = errors.New("key not found")

// Store is a key-value store with expiring entries. Implementations must be
// safe for concurrent use.
type Store interface {
	// Put sets key to value. The entry expires after ttl.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns every live value stored under key. A missing key returns no
	// values and no error.
	Get(ctx context.Context, key string) ([][]byte, error)
}

// RendezvousKey returns the key the rendezvous point of the given service is
// published under.
func RendezvousKey(service string) string {
	sum := sha1.Sum([]byte("MCPO_RP/" + service))
	return "mcpo/rp/" + hex.EncodeToString(sum[:])
}
