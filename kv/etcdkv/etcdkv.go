// Package etcdkv implements a shared rendezvous store on top of etcd. Entries
// are attached to a lease so they expire with their TTL.
package etcdkv

import (
	"context"
	"time"

	"github.com/arya-analytics/mcpo/internal/kv"
	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Config configures an etcd backed store.
type Config struct {
	// Endpoints are the etcd cluster members to dial.
	Endpoints []string
	// DialTimeout bounds the initial connection.
	DialTimeout time.Duration
	// Prefix namespaces every key written by the store.
	Prefix string
}

// Merge fills the zero fields of cfg from def.
func (cfg Config) Merge(def Config) Config {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	return cfg
}

// Validate returns an error if the config cannot dial a cluster.
func (cfg Config) Validate() error {
	if len(cfg.Endpoints) == 0 {
		return errors.New("[etcdkv] - at least one endpoint is required")
	}
	if cfg.DialTimeout < 0 {
		return errors.New("[etcdkv] - dial timeout must be positive")
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{DialTimeout: 5 * time.Second, Prefix: "/"}
}

// Store is a kv.Store backed by etcd.
type Store struct {
	client *clientv3.Client
	prefix string
	owned  bool
}

var _ kv.Store = (*Store)(nil)

// Open dials an etcd cluster.
func Open(cfg Config) (*Store, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := clientv3.New(clientv3.Config{Endpoints: cfg.Endpoints, DialTimeout: cfg.DialTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "[etcdkv] - dial")
	}
	s := Wrap(c, cfg.Prefix)
	s.owned = true
	return s, nil
}

// Wrap uses an existing client. Closing the store leaves the client open.
func Wrap(c *clientv3.Client, prefix string) *Store {
	return &Store{client: c, prefix: prefix}
}

// Key returns the etcd key a store key is written under.
func (s *Store) Key(key string) string { return s.prefix + key }

// Put implements kv.Store.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	lease, err := s.client.Grant(ctx, LeaseSeconds(ttl))
	if err != nil {
		return errors.Wrapf(err, "[etcdkv] - grant lease for %s", key)
	}
	_, err = s.client.Put(ctx, s.Key(key), string(value), clientv3.WithLease(lease.ID))
	return errors.Wrapf(err, "[etcdkv] - put %s", key)
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) ([][]byte, error) {
	res, err := s.client.Get(ctx, s.Key(key))
	if err != nil {
		return nil, errors.Wrapf(err, "[etcdkv] - get %s", key)
	}
	out := make([][]byte, 0, len(res.Kvs))
	for _, pair := range res.Kvs {
		out = append(out, pair.Value)
	}
	return out, nil
}

// Close releases the client if the store dialed it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// LeaseSeconds converts a TTL to the whole seconds etcd leases are granted
// in, rounding up and never going below one second.
func LeaseSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
