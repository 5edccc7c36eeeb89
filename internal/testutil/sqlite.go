// Package testutil provides an in-memory SQL store with the production
// table layout for repository and service tests.
package testutil

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// schema mirrors database/schema.sql. NOCASE stands in for MySQL's
// case-insensitive utf8mb4_0900_ai_ci collation on the user keys.
const schema = `
CREATE TABLE users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      VARCHAR(100) NOT NULL UNIQUE COLLATE NOCASE,
	email         VARCHAR(255) NOT NULL UNIQUE COLLATE NOCASE,
	password_hash VARCHAR(255) NOT NULL,
	role          VARCHAR(16)  NOT NULL DEFAULT 'user',
	is_active     BOOLEAN      NOT NULL DEFAULT 1,
	created_at    DATETIME     NOT NULL,
	updated_at    DATETIME     NOT NULL
);
CREATE TABLE refresh_tokens (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER     NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token_hash CHAR(64)    NOT NULL UNIQUE,
	created_at DATETIME    NOT NULL,
	expires_at DATETIME    NOT NULL,
	revoked_at DATETIME    NULL
);
CREATE INDEX idx_refresh_tokens_user ON refresh_tokens(user_id);
CREATE TABLE files (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id     INTEGER      NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	filename     VARCHAR(255) NOT NULL,
	storage_path VARCHAR(512) NOT NULL UNIQUE,
	content_type VARCHAR(255) NOT NULL,
	size         BIGINT       NOT NULL,
	uploaded_at  DATETIME     NOT NULL
);
`

var seq atomic.Int64

// OpenDB returns a fresh in-memory database with the schema applied. The
// pool is pinned to one connection so every query sees the same database
// and concurrent writers are serialized like row locks would serialize them.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:filevault_%d?mode=memory&cache=shared&_foreign_keys=on", seq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
