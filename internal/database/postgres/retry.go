package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/lib/pq"
)

// PostgreSQL error codes the store reacts to.
const (
	codeUniqueViolation      pq.ErrorCode = "23505"
	codeForeignKeyViolation  pq.ErrorCode = "23503"
	codeSerializationFailure pq.ErrorCode = "40001"
	codeDeadlockDetected     pq.ErrorCode = "40P01"
)

func pqError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// isTransient reports whether retrying the whole operation may succeed.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := pqError(err); ok {
		switch {
		case pqErr.Code == codeSerializationFailure, pqErr.Code == codeDeadlockDetected:
			return true
		case pqErr.Code.Class() == "08": // connection exception
			return true
		case pqErr.Code.Class() == "57" && pqErr.Code != "57014": // operator intervention, not query_canceled
			return true
		}
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isConstraint reports whether err is a violation of the named constraint with the given code.
func isConstraint(err error, code pq.ErrorCode, constraint string) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == code && (constraint == "" || pqErr.Constraint == constraint)
}

// retry runs fn until it succeeds, fails permanently or the retry budget is spent.
// Exhausted transient failures are reported as database.ErrStoreUnavailable.
func (p *Pool) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("retrying store operation", "op", op, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(time.Duration(attempt) * p.retryDelay):
			}
		}

		err = fn(ctx)
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, database.ErrStoreUnavailable, err)
}
