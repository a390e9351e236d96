package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/edge/internal/kv"
	"github.com/appetiteclub/edge/internal/mongo"
	"github.com/appetiteclub/edge/internal/sqlite"
	"github.com/appetiteclub/edge/internal/ticketlog"
	"github.com/aquamarinepk/aqm"
)

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Storage is the set of local backends selected by db.kv.driver. Kitchen
// data always lives in SQLite; the KV documents (sessions, outbox) and the
// ticket log go to mongo when configured.
type Storage struct {
	Driver string
	SQLite *sqlite.Store
	KV     kv.Store
	Log    ticketlog.Mirror

	parts []lifecycle
}

// NewStorage builds the backends without opening them. The service hands
// Lifecycles to aqm; the utility CLI calls Start and Stop itself.
func NewStorage(config *aqm.Config, logger aqm.Logger) (*Storage, error) {
	driver := ""
	if config != nil {
		driver, _ = config.GetString("db.kv.driver")
	}
	return newStorage(config, logger, driver)
}

func newStorage(config *aqm.Config, logger aqm.Logger, driver string) (*Storage, error) {
	store := sqlite.NewStore(config, logger)
	s := &Storage{
		Driver: DriverSQLite,
		SQLite: store,
		KV:     store,
		Log:    store,
		parts:  []lifecycle{store},
	}

	switch driver {
	case "", DriverSQLite:
	case DriverMongo:
		mongoStore := mongo.NewStore(config, logger)
		s.Driver = DriverMongo
		s.KV = mongoStore
		s.Log = mongoStore
		s.parts = append(s.parts, mongoStore)
	default:
		return nil, fmt.Errorf("unknown db.kv.driver %q", driver)
	}
	return s, nil
}

func (s *Storage) Lifecycles() []interface{} {
	out := make([]interface{}, 0, len(s.parts))
	for _, p := range s.parts {
		out = append(out, p)
	}
	return out
}

// Start opens every backend in order. On failure the ones already open are
// closed again.
func (s *Storage) Start(ctx context.Context) error {
	for i, p := range s.parts {
		if err := p.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = s.parts[j].Stop(ctx)
			}
			return err
		}
	}
	return nil
}

func (s *Storage) Stop(ctx context.Context) error {
	var errs []error
	for i := len(s.parts) - 1; i >= 0; i-- {
		errs = append(errs, s.parts[i].Stop(ctx))
	}
	return errors.Join(errs...)
}
