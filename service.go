package mcpo

import (
	"github.com/arya-analytics/mcpo/internal/engine"
	"github.com/arya-analytics/mcpo/kv/pebblekv"
	"github.com/cockroachdb/errors"
)

type service struct {
	*engine.Engine
	store *pebblekv.DB
}

var _ Service = (*service)(nil)

// Close implements Service.
func (s *service) Close() error {
	return errors.CombineErrors(s.Engine.Close(), closeStore(s.store))
}
