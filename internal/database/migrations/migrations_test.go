package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"users", "files", "file_tags", "file_collaborators", "file_versions", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	err := CheckDBMigrationStatus(db)
	if !errors.Is(err, ErrNeedsMigration) {
		t.Errorf("CheckDBMigrationStatus() error = %v, want ErrNeedsMigration", err)
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}

	latest, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	current, dirty, err := Version(db)
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if dirty || current != latest {
		t.Errorf("Version() = %d (dirty=%v), want %d", current, dirty, latest)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`
		INSERT INTO files (id, name, type, path, owner_id, created_at, updated_at)
		VALUES ('file-1', 'a.txt', 'text/plain', '/a.txt', 'no-such-user', 0, 0)
	`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_VersionNumberUniquePerFile(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	stmts := []string{
		`INSERT INTO users (id, email, password_hash, full_name, created_at, updated_at) VALUES ('u1', 'a@x.com', 'h', 'A', 0, 0)`,
		`INSERT INTO files (id, name, type, path, owner_id, created_at, updated_at) VALUES ('f1', 'a.txt', 'text/plain', '/a.txt', 'u1', 0, 0)`,
		`INSERT INTO file_versions (id, file_id, number, created_at, created_by, storage_path) VALUES ('v1', 'f1', 1, 0, 'u1', '/f1/1')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("Exec(%q) error = %v", s, err)
		}
	}

	_, err := db.Exec(`INSERT INTO file_versions (id, file_id, number, created_at, created_by, storage_path) VALUES ('v2', 'f1', 1, 0, 'u1', '/f1/1')`)
	if err == nil {
		t.Error("Expected unique constraint violation for duplicate version number, but insert succeeded")
	}
}

func TestSchema_UserEmailUnique(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO users (id, email, password_hash, full_name, created_at, updated_at) VALUES (?, 'a@x.com', 'h', 'A', 0, 0)`
	if _, err := db.Exec(insert, "u1"); err != nil {
		t.Fatalf("Failed to insert first user: %v", err)
	}
	if _, err := db.Exec(insert, "u2"); err == nil {
		t.Error("Expected unique constraint violation for duplicate email, but insert succeeded")
	}
}

// openTestDB opens an in-memory SQLite database for testing. A single
// connection keeps every statement on the same in-memory database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	return db
}
