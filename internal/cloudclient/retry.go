package cloudclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/gophercloud/gophercloud/v2"

	"github.com/skyvault-io/skyvault/internal/errs"
)

// RetryConfig controls the exponential-backoff retry loop every cloud
// client operation runs under.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	// BaseDelay is the initial wait before the first retry; it doubles
	// on every subsequent attempt (BaseDelay * 2^attempt).
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff, including jitter.
	MaxDelay time.Duration

	// OperationTimeout bounds the entire call including all retries.
	OperationTimeout time.Duration
}

// DefaultRetryConfig is the §4.1 retry & timeout policy: 30s timeout,
// 3 retries, 1s base delay, exponential with jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       3,
		BaseDelay:        1 * time.Second,
		MaxDelay:         10 * time.Second,
		OperationTimeout: 30 * time.Second,
	}
}

// classify maps a raw transport error to the closed error taxonomy.
// HTTP 413 on snapshot creation is the one terminal, non-retryable
// outcome that is neither success nor a generic failure.
func classify(err error) errs.Kind {
	if err == nil {
		return ""
	}
	var respErr gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &respErr) {
		switch respErr.Actual {
		case http.StatusRequestEntityTooLarge:
			return errs.KindSizeRejected
		case http.StatusUnauthorized:
			return errs.KindAuth
		case http.StatusForbidden:
			return errs.KindForbidden
		case http.StatusNotFound:
			return errs.KindNotFound
		case http.StatusConflict:
			return errs.KindConflict
		case http.StatusTooManyRequests,
			http.StatusRequestTimeout,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return errs.KindTransient
		default:
			return errs.KindInternal
		}
	}
	var notFoundErr gophercloud.ErrDefault404
	if errors.As(err, &notFoundErr) {
		return errs.KindNotFound
	}
	// Unknown transport-level error (DNS, connection reset): treat as
	// transient, same as the teacher's isRetryable fallback.
	return errs.KindTransient
}

func isRetryable(err error) bool {
	return classify(err).Retryable()
}

// ExecuteAction runs operation under the retry config's exponential
// backoff with jitter, honoring ctx cancellation and the operation
// timeout. Non-retryable errors are classified and returned
// immediately as a *errs.CoreError.
func ExecuteAction(ctx context.Context, cfg RetryConfig, opName string, operation func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer cancel()

	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return errs.Wrap(errs.KindTimeout, fmt.Sprintf("%s timed out before attempt %d", opName, attempt+1), ctx.Err())
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			return nil
		}

		kind := classify(lastErr)
		if kind != errs.KindTransient {
			return errs.Wrap(kind, opName, lastErr)
		}

		if attempt == cfg.MaxRetries {
			break
		}

		slog.Warn("transient error, scheduling retry",
			"operation", opName,
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"error", lastErr)

		backoff := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
		jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		sleepDuration := time.Duration(backoff) + jitter
		sleepDuration = min(sleepDuration, cfg.MaxDelay)

		select {
		case <-time.After(sleepDuration):
			continue
		case <-ctx.Done():
			return errs.Wrap(errs.KindTimeout, fmt.Sprintf("%s cancelled during backoff", opName), ctx.Err())
		}
	}

	return errs.Wrap(errs.KindTransient, fmt.Sprintf("%s failed after %d retries", opName, cfg.MaxRetries), lastErr)
}
