package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SchemaKey contextKey = "db_schema"
	DBConnKey contextKey = "db_conn"
	DBTxKey   contextKey = "db_tx"
)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrNoConn is returned by WithTx when the context carries no connection.
var ErrNoConn = errors.New("no database connection in context")

// SchemaMiddleware pins one pooled connection to the request and points its
// search_path at schema. Repositories pick the connection up via ConnFromContext.
func SchemaMiddleware(pool *pgxpool.Pool, schema string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !schemaPattern.MatchString(schema) {
				return echo.NewHTTPError(http.StatusInternalServerError, "invalid schema identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "schema resolution failed")
			}

			ctx = context.WithValue(ctx, SchemaKey, schema)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("db", conn)

			return next(c)
		}
	}
}

// ConnFromContext retrieves the request-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// SchemaFromContext retrieves the schema name from context.
func SchemaFromContext(ctx context.Context) string {
	s, _ := ctx.Value(SchemaKey).(string)
	return s
}

// TxFromContext returns the transaction started by WithTx or RunInTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the request connection and stores it in
// the returned context. The caller commits or rolls back.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, ErrNoConn
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// TxStarter is satisfied by *pgxpool.Pool and *pgxpool.Conn.
type TxStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RunInTx runs fn inside a single transaction. An enclosing transaction in
// ctx is reused, so nested calls join the outer unit of work.
func RunInTx(ctx context.Context, starter TxStarter, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var (
		tx  pgx.Tx
		err error
	)
	if conn := ConnFromContext(ctx); conn != nil {
		tx, err = conn.Begin(ctx)
	} else if starter != nil {
		tx, err = starter.Begin(ctx)
	} else {
		return ErrNoConn
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateSchema creates schema if missing and runs all migrations against it.
// If migrationsDir is empty, migrations are skipped.
func CreateSchema(ctx context.Context, pool *pgxpool.Pool, schema string, migrationsDir string) error {
	if !schemaPattern.MatchString(schema) {
		return fmt.Errorf("invalid schema identifier: %s", schema)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		migrator := NewMigrator(pool, migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
