package pool

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/types"
)

// IsTransient classifies an error as retry-worthy. Busy/locked conditions
// from sqlite and generic transport failures retry; auth and schema errors
// surface immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var coreErr *types.Error
	if errors.As(err, &coreErr) {
		switch coreErr.Kind {
		case types.ErrTransport, types.ErrResourceExhausted:
			// fall through to message inspection below
		case types.ErrConflict, types.ErrNotFound, types.ErrInvalidInput:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"database is locked",
		"database table is locked",
		"busy",
		"interrupted",
		"i/o error",
		"connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WithRetry runs fn with exponential backoff plus jitter on transient
// failures, capped at the pool's MaxRetries. Non-retryable errors surface
// immediately.
func (p *Pool) WithRetry(ctx context.Context, op string, fn func(h *Handle) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			base := 50 * time.Millisecond * time.Duration(1<<(attempt-1))
			jitter := time.Duration(rand.Int63n(int64(base) / 2))
			logging.PoolDebug("%s: retry %d/%d after %v", op, attempt, p.cfg.MaxRetries, base+jitter)
			select {
			case <-ctx.Done():
				return types.Cancelled()
			case <-time.After(base + jitter):
			}
		}

		h, err := p.Acquire(ctx)
		if err != nil {
			lastErr = err
			if types.IsKind(err, types.ErrCancelled) {
				return err
			}
			continue
		}

		err = fn(h)
		h.Release()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
	}
	return lastErr
}
