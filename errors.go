package phonegate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInput reports a malformed phone number or code, or an
	// unmet flow precondition (MFA not enabled, no such phone number).
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicatePhone reports an enrollment attempt for a phone number
	// already verified on a different account.
	ErrDuplicatePhone = errors.New("phone number already in use")
	// ErrSessionExpired reports a missing, expired, or consumed
	// verification session. Unknown IDs and real expiry are deliberately
	// indistinguishable.
	ErrSessionExpired = errors.New("verification session expired")
	// ErrRateLimited reports an exhausted attempt window. Errors carrying
	// it are *RateLimitError values with the remaining window duration.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrProviderUnavailable reports a dispatch/verify provider failure
	// when fallback acceptance is disabled.
	ErrProviderUnavailable = errors.New("verification provider unavailable")
	// ErrInternal wraps unexpected collaborator failures so callers never
	// observe raw store or issuer error types.
	ErrInternal = errors.New("internal error")
	// ErrEngineNotReady is an exported constant or variable used by the
	// verification engine.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrSessionNotFound is returned by SessionStore implementations for
	// absent or expired records. The Engine maps it to ErrSessionExpired.
	ErrSessionNotFound = errors.New("verification session not found")
	// ErrStoreUnavailable is returned by SessionStore and RateLimiter
	// implementations on backend failure.
	ErrStoreUnavailable = errors.New("verification backend unavailable")
)

// RateLimitError is the concrete error returned when an attempt window is
// exhausted. It unwraps to [ErrRateLimited] and reports how long the
// caller must wait for the window to reset.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// wrapInternal hides raw collaborator errors behind ErrInternal while
// keeping the cause for errors.Is/As and audit logging.
func wrapInternal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

func mapSessionStoreError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return ErrSessionExpired
	default:
		return wrapInternal(err)
	}
}

func mapRateLimiterError(err error) error {
	var rle *RateLimitError
	switch {
	case errors.As(err, &rle):
		return err
	case errors.Is(err, ErrRateLimited):
		return err
	default:
		return wrapInternal(err)
	}
}
