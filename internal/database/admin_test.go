package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sealgate/internal/database/migrations"
)

// newTestStore creates a migrated store file and returns its path and an
// open read-write connection.
func newTestStore(t *testing.T) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.sqlite3")
	db, err := OpenConnection(path)
	if err != nil {
		t.Fatalf("OpenConnection() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	return path, db
}

func TestAdminChecker_HasAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("superuser present", func(t *testing.T) {
		path, db := newTestStore(t)
		acct := Account{Username: "admin", Password: []byte("pw")}
		if err := CreateAdmin(ctx, db, acct, time.Now()); err != nil {
			t.Fatalf("CreateAdmin() error = %v", err)
		}

		got, err := NewAdminChecker().HasAdmin(ctx, path)
		if err != nil {
			t.Fatalf("HasAdmin() error = %v", err)
		}
		if !got {
			t.Error("HasAdmin() = false, want true")
		}
	})

	t.Run("inactive superuser still counts", func(t *testing.T) {
		path, db := newTestStore(t)
		_, err := db.Exec(`INSERT INTO users_user (username, password, is_superuser, is_active, date_joined) VALUES ('root', 'x', 1, 0, 'now')`)
		if err != nil {
			t.Fatal(err)
		}

		got, err := NewAdminChecker().HasAdmin(ctx, path)
		if err != nil {
			t.Fatalf("HasAdmin() error = %v", err)
		}
		if !got {
			t.Error("HasAdmin() = false, want true for is_superuser = 1 regardless of is_active")
		}
	})

	t.Run("only regular users", func(t *testing.T) {
		path, db := newTestStore(t)
		_, err := db.Exec(`INSERT INTO users_user (username, password, is_superuser, date_joined) VALUES ('bob', 'x', 0, 'now')`)
		if err != nil {
			t.Fatal(err)
		}

		got, err := NewAdminChecker().HasAdmin(ctx, path)
		if err != nil {
			t.Fatalf("HasAdmin() error = %v", err)
		}
		if got {
			t.Error("HasAdmin() = true, want false")
		}
	})

	t.Run("empty primary table does not fall back", func(t *testing.T) {
		path, db := newTestStore(t)
		if _, err := db.Exec(`CREATE TABLE auth_user (id INTEGER PRIMARY KEY, is_superuser INTEGER)`); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec(`INSERT INTO auth_user (is_superuser) VALUES (1)`); err != nil {
			t.Fatal(err)
		}

		got, err := NewAdminChecker().HasAdmin(ctx, path)
		if err != nil {
			t.Fatalf("HasAdmin() error = %v", err)
		}
		if got {
			t.Error("HasAdmin() = true, want false (primary table answered)")
		}
	})

	t.Run("legacy table fallback", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "legacy.sqlite3")
		db, err := OpenConnection(path)
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		if _, err := db.Exec(`CREATE TABLE auth_user (id INTEGER PRIMARY KEY, is_superuser INTEGER)`); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec(`INSERT INTO auth_user (is_superuser) VALUES (1)`); err != nil {
			t.Fatal(err)
		}

		got, err := NewAdminChecker().HasAdmin(ctx, path)
		if err != nil {
			t.Fatalf("HasAdmin() error = %v", err)
		}
		if !got {
			t.Error("HasAdmin() = false, want true from legacy table")
		}
	})

	t.Run("no user tables", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bare.sqlite3")
		db, err := OpenConnection(path)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec(`CREATE TABLE other (id INTEGER)`); err != nil {
			t.Fatal(err)
		}
		db.Close()

		got, err := NewAdminChecker().HasAdmin(ctx, path)
		if err == nil {
			t.Error("HasAdmin() error = nil, want joined table errors")
		}
		if got {
			t.Error("HasAdmin() = true, want false")
		}
	})

	t.Run("garbage file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "garbage")
		if err := os.WriteFile(path, []byte("this is not a sqlite database at all, just noise....."), 0600); err != nil {
			t.Fatal(err)
		}

		got, _ := NewAdminChecker().HasAdmin(ctx, path)
		if got {
			t.Error("HasAdmin() = true for garbage, want false")
		}
		entries, _ := os.ReadDir(filepath.Dir(path))
		if len(entries) != 1 {
			t.Errorf("directory has %d entries, want 1 (read-only check created files)", len(entries))
		}
	})
}
