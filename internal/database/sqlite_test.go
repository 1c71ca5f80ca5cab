package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenReadOnly_PathWithURICharacters(t *testing.T) {
	ctx := context.Background()
	path, db := newTestStore(t)
	if err := CreateAdmin(ctx, db, Account{Username: "admin", Password: []byte("pw")}, time.Now()); err != nil {
		t.Fatalf("CreateAdmin() error = %v", err)
	}
	db.Close()

	tests := []struct {
		name string
		dir  string
	}{
		{name: "question mark", dir: "we?ird"},
		{name: "fragment", dir: "a#b"},
		{name: "percent escape", dir: "x%20y"},
		{name: "query lookalike", dir: "store?mode=rwc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), tt.dir)
			if err := os.MkdirAll(dir, 0700); err != nil {
				t.Fatal(err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			target := filepath.Join(dir, "db.sqlite3")
			if err := os.WriteFile(target, data, 0600); err != nil {
				t.Fatal(err)
			}

			ro, err := OpenReadOnly(target)
			if err != nil {
				t.Fatalf("OpenReadOnly() error = %v", err)
			}
			defer ro.Close()

			var n int
			if err := ro.QueryRowContext(ctx, `SELECT COUNT(*) FROM users_user`).Scan(&n); err != nil {
				t.Fatalf("query error = %v", err)
			}
			if n != 1 {
				t.Errorf("users = %d, want 1", n)
			}
			if _, err := ro.ExecContext(ctx, `DELETE FROM users_user`); err == nil {
				t.Error("write through read-only connection succeeded, want error")
			}

			got, err := NewAdminChecker().HasAdmin(ctx, target)
			if err != nil || !got {
				t.Errorf("HasAdmin() = (%v, %v), want (true, nil)", got, err)
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 1 {
				t.Errorf("directory has %d entries, want 1", len(entries))
			}
		})
	}
}

func TestOpenReadOnly_MissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "absent.sqlite3")

	db, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly() error = %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err == nil {
		t.Error("Ping() on missing file error = nil, want error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("OpenReadOnly() created %s", path)
	}
}
