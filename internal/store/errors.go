package store

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"
)

// pgUniqueViolation is the SQLSTATE raised when two writers race on the same snapshot version.
const pgUniqueViolation = "23505"

// IsSQLiteConflictError checks for SQLITE_BUSY or "database is locked".
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsPostgresConflictError checks for a unique violation reported by lib/pq.
func IsPostgresConflictError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return false
}

// withRetry runs op up to attempts times while isConflict reports a retryable error,
// backing off exponentially from 100ms.
func withRetry(ctx context.Context, name string, attempts int, isConflict func(error) bool, op func() error) error {
	baseDelay := 100 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isConflict(err) || i == attempts-1 {
			return err
		}

		delay := baseDelay * time.Duration(1<<i)
		log.Printf("[store] %s conflict, retrying attempt=%d delay=%s: %v", name, i+1, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
