package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenSQLiteBootstrapsFaces(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "registry.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='faces';").Scan(&name); err != nil {
		t.Fatalf("faces table missing: %v", err)
	}

	if _, err := db.Exec("INSERT INTO faces (name, name_key, created_at) VALUES ('Bob', 'bob', '2024-01-01T00:00:00Z');"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = db.Exec("INSERT INTO faces (name, name_key, created_at) VALUES ('bOB', 'bob', '2024-01-01T00:00:00Z');")
	if err == nil || !strings.Contains(err.Error(), "UNIQUE") {
		t.Fatalf("expected unique violation on name_key, got %v", err)
	}
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "registry.db")
	for i := 0; i < 2; i++ {
		db, err := OpenSQLite(context.Background(), dbPath)
		if err != nil {
			t.Fatalf("OpenSQLite #%d: %v", i, err)
		}
		_ = db.Close()
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestEnsureLocalFilesystem(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "a", "b", "registry.db")

	var inspected string
	local := func(path string) (string, error) {
		inspected = path
		return "ext4", nil
	}
	if err := ensureLocalFilesystem(dbPath, local); err != nil {
		t.Fatalf("expected local filesystem to pass, got %v", err)
	}
	if inspected != root {
		t.Fatalf("expected nearest existing dir %q, got %q", root, inspected)
	}

	nfs := func(string) (string, error) { return "NFS", nil }
	err := ensureLocalFilesystem(dbPath, nfs)
	if err == nil {
		t.Fatal("expected network filesystem rejection")
	}
	for _, want := range []string{"NFS", "registry.path", "postgres"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to contain %q, got %q", want, err.Error())
		}
	}
}
