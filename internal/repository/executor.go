package repository

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx).
// Queries are written with ? placeholders and passed through Rebind.
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	Rebind(query string) string
}

func get(ctx context.Context, db DBExecutor, dest any, query string, args ...any) error {
	err := db.GetContext(ctx, dest, db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// execOne runs a guarded update and reports whether exactly one row changed.
func execOne(ctx context.Context, db DBExecutor, query string, args ...any) (bool, error) {
	result, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}
