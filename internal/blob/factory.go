package blob

import (
	"context"
	"fmt"

	memorystore "catalogcore/internal/infra/blob/memory"
	s3store "catalogcore/internal/infra/blob/s3"
)

// S3Config configures the S3 driver.
type S3Config = s3store.Config

// Config selects and configures a backend.
type Config struct {
	Driver Driver
	S3     S3Config
}

// Open returns the store named by cfg.Driver. An empty driver selects memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		store, err := s3store.New(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }
