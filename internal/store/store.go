// Package store opens the persistence backend selected by configuration.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"libraledger/internal/catalog"
	"libraledger/internal/circulation"
	"libraledger/internal/config"
	"libraledger/internal/journal"
	"libraledger/internal/store/boltstore"
	"libraledger/internal/store/pgstore"
)

// Backend is a store usable by every service.
type Backend interface {
	journal.Reader
	Catalog() catalog.Store
	Circulation() circulation.Store
	Close() error
}

var (
	_ Backend = (*boltstore.Store)(nil)
	_ Backend = (*pgstore.Store)(nil)
)

// Open opens the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	switch cfg.Driver {
	case config.DriverBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
