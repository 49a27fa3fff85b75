package changelog

import (
	"context"
	"fmt"

	"catalogcore/internal/blob"
)

// Driver values accepted by Open.
const (
	DriverNone   = "none"
	DriverMemory = string(blob.DriverMemory)
	DriverS3     = string(blob.DriverS3)
)

// Config selects where change logs are archived.
type Config struct {
	Driver string
	Prefix string
	S3     blob.S3Config
}

// Open builds the archive named by cfg. It returns nil without error when
// archiving is disabled.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Archive, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverMemory, DriverS3:
		store, err := blob.Open(ctx, blob.Config{Driver: blob.Driver(cfg.Driver), S3: cfg.S3})
		if err != nil {
			return nil, fmt.Errorf("open change log store: %w", err)
		}
		return NewArchive(store, cfg.Prefix, opts...)
	default:
		return nil, fmt.Errorf("unknown change log driver %q", cfg.Driver)
	}
}
