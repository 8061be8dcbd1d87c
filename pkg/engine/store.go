package engine

import (
	"context"
	"fmt"

	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/ethpandaops/bookkeeping/pkg/store/memory"
	"github.com/ethpandaops/bookkeeping/pkg/store/sqlstore"
	"github.com/sirupsen/logrus"
)

// OpenStore opens the configured store. SQL drivers must be registered by the binary.
func OpenStore(ctx context.Context, log logrus.FieldLogger, cfg store.Config) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case store.DriverMemory:
		log.Warn("Using the in-memory store, nothing survives a restart")

		return memory.New(), nil
	default:
		st, err := sqlstore.Open(ctx, log, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
		}

		return st, nil
	}
}
