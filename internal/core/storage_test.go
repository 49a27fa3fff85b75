package core

import (
	"context"
	"path/filepath"
	"testing"

	"catalogcore/internal/infra/persistence/memory"
	"catalogcore/internal/infra/persistence/sqlite"
)

func TestOpenRecordStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenRecordStore(ctx, StorageConfig{Driver: StorageMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := mem.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", mem)
	}

	path := filepath.Join(t.TempDir(), "catalog.db")
	def, err := OpenRecordStore(ctx, StorageConfig{SQLitePath: path})
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	defer func() { _ = def.Close() }()
	sq, ok := def.(*sqlite.Store)
	if !ok || sq.Path() != path {
		t.Fatalf("expected sqlite store at %s, got %T", path, def)
	}

	if _, err := OpenRecordStore(ctx, StorageConfig{Driver: "cassandra"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
