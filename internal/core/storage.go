package core

import (
	"context"
	"fmt"

	"catalogcore/internal/infra/persistence/memory"
	"catalogcore/internal/infra/persistence/postgres"
	"catalogcore/internal/infra/persistence/sqlite"
	"catalogcore/pkg/domain"
)

// StorageDriver identifies a concrete record store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// RecordStore is a domain.RecordStore owning resources that must be released.
type RecordStore interface {
	domain.RecordStore
	Close() error
}

// StorageConfig selects and configures the record store backend.
type StorageConfig struct {
	// Driver defaults to sqlite when empty.
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenRecordStore opens the backend named by cfg.Driver.
func OpenRecordStore(ctx context.Context, cfg StorageConfig) (RecordStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
