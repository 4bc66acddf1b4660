package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"Aegis-MCP/internal/auth"
)

func TestSQLAuthStoreFindUserByUsername(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "username", "password_hash", "disabled"}).
		AddRow(int64(7), "alice", "salt$hash", 0)
	mock.ExpectQuery("SELECT id, username, password_hash, disabled FROM auth_users").
		WithArgs("alice").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT id, username, password_hash, disabled FROM auth_users").
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)

	store := &SQLAuthStore{db: db}
	user, err := store.FindUserByUsername(context.Background(), " alice ")
	if err != nil {
		t.Fatalf("find user failed: %v", err)
	}
	if user.ID != 7 || user.Username != "alice" || user.Disabled {
		t.Fatalf("unexpected user: %+v", user)
	}

	if _, err := store.FindUserByUsername(context.Background(), "nobody"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing user, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestSQLAuthStoreLoadSubject(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, username, wallet_address, disabled FROM auth_users").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "wallet_address", "disabled"}).
			AddRow(int64(7), "alice", "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", 0))
	mock.ExpectQuery("SELECT r.name FROM auth_roles").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Admin ").AddRow("user"))
	mock.ExpectQuery("SELECT DISTINCT p.name FROM auth_permissions").
		WithArgs(int64(7), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("query:submit").AddRow("tasks:read"))
	mock.ExpectQuery("SELECT surface FROM auth_user_surfaces").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"surface"}).AddRow("read_wallet").AddRow("READ_GMAIL"))
	mock.ExpectQuery("SELECT name, value FROM auth_user_credentials").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}).AddRow("gmail_api_key", "secret-token"))

	store := &SQLAuthStore{db: db}
	subject, err := store.LoadSubject(context.Background(), 7)
	if err != nil {
		t.Fatalf("load subject failed: %v", err)
	}

	if subject.Username != "alice" {
		t.Fatalf("unexpected username: %s", subject.Username)
	}
	if subject.WalletAddress != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Fatalf("unexpected wallet address: %s", subject.WalletAddress)
	}
	if len(subject.Roles) != 2 || subject.Roles[0] != "admin" {
		t.Fatalf("roles should be normalised to lower case: %v", subject.Roles)
	}
	if !subject.HasPermission("QUERY:SUBMIT") {
		t.Fatalf("permission lookup should be case-insensitive: %v", subject.Permissions)
	}
	if len(subject.Surfaces) != 2 || subject.Surfaces[0] != "READ_GMAIL" {
		t.Fatalf("surfaces should be upper case and sorted: %v", subject.Surfaces)
	}
	if !subject.HasSurface(auth.SurfaceReadWallet) || !subject.HasSurface(auth.SurfaceReadGmail) {
		t.Fatalf("surface grants missing: %v", subject.Surfaces)
	}
	if subject.Credentials["gmail_api_key"] != "secret-token" {
		t.Fatalf("unexpected credentials: %v", subject.Credentials)
	}

	rc := subject.Runtime()
	if rc == nil || !rc.Allows(auth.SurfaceReadWallet) {
		t.Fatalf("runtime context should carry the wallet grant")
	}
	if rc.WalletAddress != subject.WalletAddress {
		t.Fatalf("runtime context should carry the wallet address")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestSQLAuthStoreApplySeed(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO auth_users").
		WithArgs("alice", sqlmock.AnyArg(), "0xabc", 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO auth_roles").
		WithArgs("admin", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec("INSERT IGNORE INTO auth_user_roles").
		WithArgs(int64(7), int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO auth_permissions").
		WithArgs("query:submit", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec("INSERT IGNORE INTO auth_user_permissions").
		WithArgs(int64(7), int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT IGNORE INTO auth_user_surfaces").
		WithArgs(int64(7), "READ_GMAIL", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT IGNORE INTO auth_user_surfaces").
		WithArgs(int64(7), "READ_WALLET", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO auth_user_credentials").
		WithArgs(int64(7), "gmail_api_key", "secret", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := &SQLAuthStore{db: db}
	err = store.ApplySeed(context.Background(), auth.Seed{
		Username:      "alice",
		Password:      "s3cret-password",
		Roles:         []string{"Admin", "admin"},
		Permissions:   []string{"query:submit"},
		Surfaces:      []string{"read_wallet", "READ_GMAIL", "READ_GMAILS"},
		Credentials:   map[string]string{"gmail_api_key": "secret"},
		WalletAddress: " 0xabc ",
	})
	if err != nil {
		t.Fatalf("apply seed failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestSQLAuthStoreApplySeedRejectsEmptyUsername(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := &SQLAuthStore{db: db}
	if err := store.ApplySeed(context.Background(), auth.Seed{Username: "  ", Password: "pw"}); err == nil {
		t.Fatalf("expected error for blank username")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no database calls expected: %v", err)
	}
}
