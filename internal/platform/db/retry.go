package db

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes that indicate a concurrent writer won a race.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// IsConflict reports whether err is a storage conflict worth retrying.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

// RetryOnConflict runs fn until it succeeds, fails with a non-conflict error,
// or maxAttempts is exhausted.
func RetryOnConflict(ctx context.Context, maxAttempts uint64, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond

	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsConflict(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, maxAttempts), ctx)
	return backoff.Retry(op, b)
}
