package mysql

import (
	"context"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestSplitSQLStatements(t *testing.T) {
	t.Parallel()

	statements := splitSQLStatements("CREATE TABLE a (id INT);\n\nCREATE TABLE b (id INT);\n;")
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(statements), statements)
	}
	if statements[0] != "CREATE TABLE a (id INT)" {
		t.Fatalf("unexpected first statement: %q", statements[0])
	}

	if got := splitSQLStatements("  \n;  ;"); len(got) != 0 {
		t.Fatalf("blank input should yield no statements: %v", got)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"0001_auth_directory.sql": "0001",
		"0002_audit_log.sql":      "0002",
		"0003.sql":                "0003",
		"bootstrap":               "bootstrap",
	}
	for name, want := range cases {
		if got := parseMigrationVersion(name); got != want {
			t.Fatalf("parseMigrationVersion(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestLoadMigrationFilesSortsByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"0002_second.sql": &fstest.MapFile{Data: []byte("CREATE TABLE b (id INT);")},
		"0001_first.sql":  &fstest.MapFile{Data: []byte("CREATE TABLE a (id INT);")},
		"0003_empty.sql":  &fstest.MapFile{Data: []byte("  \n")},
	}

	files, err := loadMigrationFiles(fsys)
	if err != nil {
		t.Fatalf("load migration files failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("empty migrations should be dropped, got %d files", len(files))
	}
	if files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("files not sorted by version: %+v", files)
	}
}

func TestApplyMigrationsSkipsAppliedVersions(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001"))

	fsys := fstest.MapFS{
		"0001_bootstrap.sql": &fstest.MapFile{Data: []byte("CREATE TABLE notes (id BIGINT);")},
	}
	if err := applyMigrationsFS(context.Background(), db, fsys); err != nil {
		t.Fatalf("apply migrations failed: %v", err)
	}

	// 已应用的版本不应再触发任何事务。
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestApplyMigrationsAppliesPending(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001"))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE notes").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX idx_notes").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("0002", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	fsys := fstest.MapFS{
		"0001_bootstrap.sql": &fstest.MapFile{Data: []byte("CREATE TABLE a (id BIGINT);")},
		"0002_notes.sql":     &fstest.MapFile{Data: []byte("CREATE TABLE notes (id BIGINT);\nCREATE INDEX idx_notes ON notes (id);")},
	}
	if err := applyMigrationsFS(context.Background(), db, fsys); err != nil {
		t.Fatalf("apply migrations failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("embedded migrations failed to load: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("expected embedded migration files")
	}
	seen := make(map[string]struct{}, len(files))
	for _, file := range files {
		if len(file.statements) == 0 {
			t.Fatalf("migration %s has no statements", file.name)
		}
		if _, dup := seen[file.version]; dup {
			t.Fatalf("duplicate migration version %s", file.version)
		}
		seen[file.version] = struct{}{}
	}
}
