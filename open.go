package mcpo

import (
	"github.com/arya-analytics/mcpo/internal/engine"
	"github.com/arya-analytics/mcpo/kv/pebblekv"
	"github.com/cockroachdb/errors"
)

// Open starts a multicast service on ov. The service begins rendezvous
// discovery immediately and becomes ready asynchronously; use WithReceiver to
// be notified.
func Open(ov Overlay, opts ...Option) (Service, error) {
	o := newOptions(ov, opts...)

	if err := validateOptions(o); err != nil {
		return nil, err
	}

	store, err := openStore(o)
	if err != nil {
		return nil, err
	}

	o.engine.Logger.Debug("configuration", o.engine.Overlay.ID().Field("host"))

	e, err := engine.New(o.engine)
	if err != nil {
		return nil, errors.CombineErrors(err, closeStore(store))
	}

	if err := e.Start(); err != nil {
		return nil, errors.CombineErrors(err, closeStore(store))
	}

	return &service{Engine: e, store: store}, nil
}

func openStore(o *options) (*pebblekv.DB, error) {
	if o.engine.Store != nil || o.dirname == "" {
		return nil, nil
	}
	db, err := pebblekv.Open(pebblekv.Config{
		Dirname: o.dirname,
		Clock:   o.engine.Clock,
	})
	if err != nil {
		return nil, err
	}
	o.engine.Store = db
	return db, nil
}

func closeStore(db *pebblekv.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
