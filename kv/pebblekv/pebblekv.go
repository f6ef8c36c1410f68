// Package pebblekv implements a host-local rendezvous store on top of pebble.
// Entries carry their expiry alongside the value and are filtered on read.
package pebblekv

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/arya-analytics/mcpo/internal/kv"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const expiryLen = 8

// Config configures a pebble backed store.
type Config struct {
	// Dirname is the directory the database lives in.
	Dirname string
	// FS is the filesystem the database is written to. Use vfs.NewMem() for an
	// in-memory store.
	FS vfs.FS
	// Clock is used to stamp and check expiry.
	Clock clock.Clock
}

// Merge fills the zero fields of cfg from def.
func (cfg Config) Merge(def Config) Config {
	if cfg.FS == nil {
		cfg.FS = def.FS
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	return cfg
}

// Validate returns an error if the config cannot open a store.
func (cfg Config) Validate() error {
	if cfg.FS == nil {
		return errors.New("[pebblekv] - fs is required")
	}
	return nil
}

// DefaultConfig returns a disk backed configuration.
func DefaultConfig() Config {
	return Config{FS: vfs.Default, Clock: clock.New()}
}

// DB is a kv.Store backed by pebble.
type DB struct {
	db    *pebble.DB
	clock clock.Clock
}

var _ kv.Store = (*DB)(nil)

// Open opens or creates a store.
func Open(cfg Config) (*DB, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := pebble.Open(cfg.Dirname, &pebble.Options{FS: cfg.FS})
	if err != nil {
		return nil, errors.Wrap(err, "[pebblekv] - open")
	}
	return Wrap(db, cfg.Clock), nil
}

// Wrap wraps an already open pebble database.
func Wrap(db *pebble.DB, c clock.Clock) *DB {
	if c == nil {
		c = clock.New()
	}
	return &DB{db: db, clock: c}
}

// Put implements kv.Store.
func (d *DB) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, expiryLen+len(value))
	binary.BigEndian.PutUint64(buf, uint64(d.clock.Now().Add(ttl).UnixNano()))
	copy(buf[expiryLen:], value)
	return errors.Wrapf(d.db.Set([]byte(key), buf, pebble.Sync), "[pebblekv] - put %s", key)
}

// Get implements kv.Store.
func (d *DB) Get(ctx context.Context, key string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, closer, err := d.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "[pebblekv] - get %s", key)
	}
	defer func() { _ = closer.Close() }()
	if len(b) < expiryLen {
		return nil, errors.Newf("[pebblekv] - corrupt entry for %s", key)
	}
	expiry := time.Unix(0, int64(binary.BigEndian.Uint64(b)))
	if !d.clock.Now().Before(expiry) {
		return nil, nil
	}
	v := make([]byte, len(b)-expiryLen)
	copy(v, b[expiryLen:])
	return [][]byte{v}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }
