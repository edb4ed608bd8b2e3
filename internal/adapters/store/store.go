// Package store selects the session store backend from configuration.
package store

import (
	"context"
	"fmt"

	"github.com/dkeye/callsignal/internal/adapters/store/memstore"
	"github.com/dkeye/callsignal/internal/adapters/store/mongostore"
	"github.com/dkeye/callsignal/internal/adapters/store/sqlstore"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/dkeye/callsignal/internal/core"
)

func Open(ctx context.Context, cfg config.StoreConfig) (core.SessionStore, error) {
	var (
		s   core.SessionStore
		err error
	)
	switch cfg.Driver {
	case "mongo":
		s, err = asStore(mongostore.Open(ctx, cfg.URI, cfg.Database, cfg.OpTimeout))
	case "postgres":
		s, err = asStore(sqlstore.Open(ctx, sqlstore.Postgres, cfg.URI, cfg.OpTimeout))
	case "sqlite":
		s, err = asStore(sqlstore.Open(ctx, sqlstore.SQLite, cfg.URI, cfg.OpTimeout))
	case "memory":
		s = memstore.New()
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return s, nil
}

// asStore keeps a failed constructor from leaking a typed nil.
func asStore[S core.SessionStore](s S, err error) (core.SessionStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
