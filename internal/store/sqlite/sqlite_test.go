package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/manifestsync/internal/store"
	"github.com/JonMunkholm/manifestsync/internal/store/storetest"
)

func openTemp(t *testing.T) store.Backend {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBackendContract(t *testing.T) {
	storetest.Run(t, openTemp)
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manifest.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	u, err := s.CreateUpload(ctx, "a.csv", 0)
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	s.Close()

	// Migrations are idempotent and data survives.
	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if _, err := s.GetUpload(ctx, u.ID); err != nil {
		t.Errorf("GetUpload() after reopen error = %v", err)
	}
}
