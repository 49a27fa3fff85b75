// Package blob selects a blob storage backend and re-exports its abstractions.
package blob

import (
	"catalogcore/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverMemory is the in-memory driver.
	DriverMemory = core.DriverMemory
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
)

var (
	// ErrExists is returned when writing an existing key.
	ErrExists = core.ErrExists
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = core.ErrNotFound
)
