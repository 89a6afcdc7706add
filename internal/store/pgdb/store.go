// Package pgdb provides a store.Store backed by a postgres database.
package pgdb

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"code.teamsync.org/golang/internal/store"
)

// PGDB is implemented by pgx.Tx, pgx.Conn & pgxpool.Pool
// accessing a postgres database through this common interface simplifies testing
type PGDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

//go:embed authstore_schema.sql
var schemaScriptTpl string

// Migrate creates the authstore relation inside dbschema.
// It errors if the schema script can not be applied.
func Migrate(pgconn *pgx.Conn, dbschema string) error {
	schemaName := pgx.Identifier{dbschema}.Sanitize()
	schemaScript := strings.ReplaceAll(schemaScriptTpl, "${schema_name}", schemaName)

	_, err := pgconn.Exec(context.Background(), schemaScript)

	return wrapError(err, "failed db schema initialization") // nil if err is nil...
}

// PGStore is a store.Store that keeps each key path in one authstore row.
type PGStore struct {
	DB PGDB
}

// New returns a PGStore connected to dsn.
// It errors if the connection pool can not be created.
func New(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if nil != err {
		return nil, wrapError(err, "failed connection pool creation")
	}

	return &PGStore{DB: pool}, nil
}

// Save upserts value under keyPath.
// It errors if the database rejects the write.
func (self *PGStore) Save(ctx context.Context, keyPath []string, value []byte) error {
	_, err := self.DB.Exec(
		ctx,
		`INSERT INTO authstore (path, value) VALUES ($1, $2)
		 ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value`,
		store.JoinPath(keyPath), value,
	)

	return wrapError(err, "failed DB.Exec") // nil if err is nil
}

// Load returns the value stored under keyPath.
// It errors with store.ErrNotFound if the key path has no row.
func (self *PGStore) Load(ctx context.Context, keyPath []string) ([]byte, error) {
	var value []byte
	err := self.DB.QueryRow(
		ctx,
		`SELECT value FROM authstore WHERE path = $1`,
		store.JoinPath(keyPath),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapError(store.ErrNotFound, "no value under key %q", store.JoinPath(keyPath))
	}
	if nil != err {
		return nil, wrapError(err, "failed DB.QueryRow")
	}

	return value, nil
}

var _ store.Store = &PGStore{}
