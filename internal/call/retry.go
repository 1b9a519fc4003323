package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/mindconnect-server/internal/signaling"
)

// retryable reports whether a signaling failure may be a transient blip.
// Errors can opt out by implementing Retryable() bool.
func retryable(err error) bool {
	switch {
	case errors.Is(err, signaling.ErrSessionNotFound),
		errors.Is(err, signaling.ErrOfferAlreadySet),
		errors.Is(err, signaling.ErrAnswerAlreadySet),
		errors.Is(err, signaling.ErrOfferMissing),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// withRetry runs fn, retrying transient failures up to c.retries times with
// linear backoff. Exhaustion is reported as ErrSessionNotFound.
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := c.backoff * time.Duration(attempt)
			c.log.Debug().Str("op", op).Int("attempt", attempt).Err(lastErr).Msg("retrying signaling operation")
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(wait):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		lastErr = err
	}
	return fmt.Errorf("%s: %w: %w", op, signaling.ErrSessionNotFound, lastErr)
}
