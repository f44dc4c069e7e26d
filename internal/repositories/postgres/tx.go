package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/lib/pq"

	"github.com/tryathome/orderflow/internal/repositories"
)

const (
	pqUniqueViolation      = "23505"
	pqForeignKeyViolation  = "23503"
	pqCheckViolation       = "23514"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
)

const defaultMaxRetries = 3

// isRetryable reports whether the transaction can be retried from the start.
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
		return true
	}
	return false
}

// classify maps driver failures onto repository error categories. Errors that already carry a
// classification, and domain errors produced inside transactions, pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewNotFoundError(op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation, pqForeignKeyViolation, pqCheckViolation:
			return repositories.NewConflictError(op, err)
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
			return repositories.NewConflictError(op, err)
		}
		if pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57" {
			return repositories.NewUnavailableError(op, err)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return repositories.NewUnavailableError(op, err)
	}
	return err
}

// withTx runs fn in a read-committed transaction, retrying serialization failures and deadlocks
// with jittered exponential backoff.
func withTx(ctx context.Context, db *sql.DB, op string, fn func(tx *sql.Tx) error) error {
	backoff := 50 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := runOnce(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return classify(op, err)
		}
		lastErr = err

		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/4)))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return classify(op, fmt.Errorf("max retries (%d) exceeded: %w", defaultMaxRetries, lastErr))
}

func runOnce(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
