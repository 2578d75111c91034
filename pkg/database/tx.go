package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	defaultMaxAttempts  = 5
	defaultJitterFactor = 0.3

	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// TxOptions tunes transaction isolation and the conflict retry policy.
type TxOptions struct {
	Isolation    sql.IsolationLevel
	MaxAttempts  int
	BaseDelay    time.Duration
	JitterFactor float64
}

// TxFunc is executed inside a transaction. Returning an error rolls the transaction back.
type TxFunc func(ctx context.Context, tx *sqlx.Tx) error

// RetryObserver is notified whenever a transaction is retried after a conflict.
type RetryObserver func(attempt int, err error)

// TxRunner runs functions inside database transactions and retries them on
// serialization failures and deadlocks with exponential backoff.
type TxRunner struct {
	db       *sqlx.DB
	opts     TxOptions
	observer RetryObserver
}

// NewTxRunner constructs a TxRunner.
func NewTxRunner(db *sqlx.DB, opts TxOptions) *TxRunner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay < 0 {
		opts.BaseDelay = 0
	}
	if opts.JitterFactor < 0 || opts.JitterFactor > 1 {
		opts.JitterFactor = defaultJitterFactor
	}
	return &TxRunner{db: db, opts: opts}
}

// OnRetry registers an observer for retried attempts.
func (r *TxRunner) OnRetry(observer RetryObserver) {
	r.observer = observer
}

// Run executes fn in a transaction, committing on success.
func (r *TxRunner) Run(ctx context.Context, fn TxFunc) error {
	var lastErr error
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if r.observer != nil {
				r.observer(attempt, lastErr)
			}
			if err := r.wait(ctx, attempt); err != nil {
				return err
			}
		}

		lastErr = r.runOnce(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (r *TxRunner) runOnce(ctx context.Context, fn TxFunc) (err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: r.opts.Isolation})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *TxRunner) wait(ctx context.Context, attempt int) error {
	delay := r.opts.BaseDelay * time.Duration(1<<(attempt-1))
	if delay > 0 && r.opts.JitterFactor > 0 {
		delay += time.Duration(rand.Float64() * float64(delay) * r.opts.JitterFactor) //nolint:gosec
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryable reports whether err is a transaction conflict worth retrying.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}

// IsUniqueViolation reports whether err was raised by a unique constraint.
// When constraint is non-empty the violated constraint name must match.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
