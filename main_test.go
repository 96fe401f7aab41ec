package main

import (
	"context"
	"testing"

	"signal-engine/config"
	"signal-engine/internal/logging"
	"signal-engine/internal/store"
)

func TestBackendFallsBackToFileStore(t *testing.T) {
	// A configured but unusable database must degrade to the file store
	// rather than fail startup.
	cfg := &config.Config{}
	cfg.Database.Enabled = true
	cfg.Database.URL = "not a connection string"
	cfg.DataDir = t.TempDir()

	backend, closeBackend, err := newBackend(context.Background(), cfg, logging.Component("test"))
	if err != nil {
		t.Fatalf("newBackend: %v", err)
	}
	defer closeBackend()

	if _, ok := backend.(*store.FileStore); !ok {
		t.Fatalf("backend = %T, want file store fallback", backend)
	}
}

func TestBackendFileStoreWhenDatabaseDisabled(t *testing.T) {
	cfg := &config.Config{DataDir: t.TempDir()}

	backend, closeBackend, err := newBackend(context.Background(), cfg, logging.Component("test"))
	if err != nil {
		t.Fatalf("newBackend: %v", err)
	}
	defer closeBackend()

	if _, ok := backend.(*store.FileStore); !ok {
		t.Fatalf("backend = %T, want file store", backend)
	}
}
