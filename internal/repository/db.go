package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"atomic-ledger/internal/errors"
)

// SQLExecutor represents both sql.DB and sql.Tx
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	_ SQLExecutor = (*sql.DB)(nil)
	_ SQLExecutor = (*sql.Tx)(nil)
)

// PoolOptions configures the database/sql connection pool.
type PoolOptions struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres through lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, opts PoolOptions) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Postgres error codes the ledger reacts to.
const (
	pqUniqueViolation      pq.ErrorCode = "23505"
	pqForeignKeyViolation  pq.ErrorCode = "23503"
	pqCheckViolation       pq.ErrorCode = "23514"
	pqSerializationFailure pq.ErrorCode = "40001"
	pqDeadlockDetected     pq.ErrorCode = "40P01"
	pqLockNotAvailable     pq.ErrorCode = "55P03"
	pqNumericOutOfRange    pq.ErrorCode = "22003"
)

func asPQError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// translateError turns driver and context errors into AppErrors. Errors that
// are already AppErrors pass through unchanged.
func translateError(logger *slog.Logger, op string, err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		logger.Warn("Database operation cancelled", "op", op, "error", err)
		return errors.ErrRequestTimeout.WithDetails(err.Error())
	}

	if pqErr, ok := asPQError(err); ok {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable, pqCheckViolation:
			logger.Warn("Ledger transaction aborted", "op", op, "pq_code", string(pqErr.Code), "error", err)
			return errors.ErrAborted.WithDetails(pqErr.Message)
		case pqNumericOutOfRange:
			logger.Warn("Amount out of range", "op", op, "error", err)
			return errors.ErrInvalidAmount.WithDetails(pqErr.Message)
		}
	}

	logger.Error("Database operation failed", "op", op, "error", err)
	return errors.NewAppErrorf(errors.InternalError, "failed to %s", op).WithDetails(err.Error())
}
