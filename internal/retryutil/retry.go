// Package retryutil wraps external calls (metadata service, chat platform)
// in a uniform retry policy: classification-driven backoff for transient
// and rate-limited failures, a single re-authentication attempt on lost
// sessions, and immediate surfacing of everything else.
package retryutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

type Kind int

const (
	KindTransient Kind = iota
	KindRateLimited
	KindAuthLost
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthLost:
		return "auth_lost"
	default:
		return "fatal"
	}
}

var (
	ErrRetriesExhausted = errors.New("retryutil: retries exhausted")
	ErrAuthFailed       = errors.New("retryutil: authentication failed")
)

// StatusCoder is implemented by API errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// RetryAfterer is implemented by rate-limit errors that carry a
// server-requested delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Policy is threaded explicitly into each call site; there is no global
// retry state.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Classify maps an operation error to a Kind. Nil uses Classify.
	ClassifyFunc func(error) Kind

	// Reauth re-establishes the metadata-service session. It is invoked at
	// most once per Do call, on the first KindAuthLost classification. Nil
	// means auth loss is terminal.
	Reauth func(context.Context) error

	// Sleep is replaceable for tests; nil sleeps on a timer honoring ctx.
	Sleep func(context.Context, time.Duration) error
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.ClassifyFunc == nil {
		p.ClassifyFunc = Classify
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// Classify is the default error classification. HTTP-aware errors map by
// status (401/403 auth loss, 429 rate limit, 5xx transient, the rest
// fatal); network timeouts and resets are transient; everything else is
// fatal.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		switch status := sc.HTTPStatus(); {
		case status == 401 || status == 403:
			return KindAuthLost
		case status == 429:
			return KindRateLimited
		case status >= 500:
			return KindTransient
		default:
			return KindFatal
		}
	}
	var ra RetryAfterer
	if errors.As(err, &ra) {
		return KindRateLimited
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransient
	}
	// A response body cut off mid-read is a network failure.
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTransient
	}
	return KindFatal
}

// Do runs op under the policy and returns its value. Transient and
// rate-limited failures are retried with bounded exponential backoff up to
// the attempt budget; auth loss triggers exactly one Reauth then one more
// attempt; fatal errors return immediately.
func Do[T any](ctx context.Context, logger *slog.Logger, name string, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	p = p.normalized()

	reauthed := false
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		kind := p.ClassifyFunc(err)

		switch kind {
		case KindFatal:
			return zero, err
		case KindAuthLost:
			if p.Reauth == nil || reauthed {
				return zero, fmt.Errorf("%w: %s: %v", ErrAuthFailed, name, err)
			}
			reauthed = true
			if logger != nil {
				logger.Warn(name+"_auth_lost", "attempt", attempt+1, "error", err.Error())
			}
			if reauthErr := p.Reauth(ctx); reauthErr != nil {
				return zero, fmt.Errorf("%w: %s: %v", ErrAuthFailed, name, reauthErr)
			}
			// One additional try of the original operation, not counted
			// against the transient budget.
			attempt--
			continue
		case KindTransient, KindRateLimited:
			if attempt == p.MaxAttempts-1 {
				if logger != nil {
					logger.Error(name+"_retries_exhausted", "attempts", p.MaxAttempts, "error", err.Error())
				}
				return zero, fmt.Errorf("%w: %s after %d attempts: %v", ErrRetriesExhausted, name, p.MaxAttempts, err)
			}
			delay := p.backoff(attempt, err)
			if logger != nil {
				logger.Warn(name+"_retry",
					"attempt", attempt+1,
					"max_attempts", p.MaxAttempts,
					"kind", kind.String(),
					"delay", delay.String(),
					"error", err.Error(),
				)
			}
			if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
				return zero, sleepErr
			}
		}
	}
	return zero, fmt.Errorf("%w: %s after %d attempts: %v", ErrRetriesExhausted, name, p.MaxAttempts, lastErr)
}

func (p Policy) backoff(attempt int, err error) time.Duration {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		if d := ra.RetryAfter(); d > 0 {
			if d > p.MaxDelay {
				return p.MaxDelay
			}
			return d
		}
	}
	delay := p.BaseDelay << uint(attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
