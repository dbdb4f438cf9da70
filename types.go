package phonegate

import (
	"context"
	"time"
)

// FlowType identifies which verification flow a session belongs to.
type FlowType uint8

const (
	// FlowEnrollment verifies a new phone number and enables MFA on the
	// subject account.
	FlowEnrollment FlowType = iota
	// FlowLoginMFA challenges an already-enrolled account at login time.
	FlowLoginMFA
	// FlowPhoneLogin authenticates by phone number alone and mints an
	// auth token on success.
	FlowPhoneLogin
)

func (f FlowType) String() string {
	switch f {
	case FlowEnrollment:
		return "enrollment"
	case FlowLoginMFA:
		return "login_mfa"
	case FlowPhoneLogin:
		return "phone_login"
	default:
		return "unknown"
	}
}

// VerificationSession is one outstanding code challenge. The ID is a
// capability token: knowing it is what entitles a caller to verify or
// resend. At most one provider handle is live at a time; resend replaces
// the handle without extending ExpiresAt.
type VerificationSession struct {
	ID             string
	Flow           FlowType
	UserID         string
	PhoneNumber    string // E.164
	ProviderHandle string
	Consumed       bool
	CreatedAt      int64 // unix seconds
	ExpiresAt      int64 // unix seconds
}

// Expired reports whether the session TTL has lapsed at the given time.
func (s *VerificationSession) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

// SessionStore is keyed storage for verification sessions with TTL-based
// expiry. Get must treat an expired record as not found (returning
// [ErrSessionNotFound]) and should delete it opportunistically.
// ReplaceHandle and MarkConsumed must be atomic with respect to
// concurrent Get calls racing a resend or verify.
type SessionStore interface {
	Create(ctx context.Context, session *VerificationSession, ttl time.Duration) error
	Get(ctx context.Context, id string) (*VerificationSession, error)
	ReplaceHandle(ctx context.Context, id, newHandle string) error
	MarkConsumed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// RateLimiter is a per-subject fixed-window attempt counter. Reserve
// atomically counts an attempt and reports a *RateLimitError when the
// live window's budget is spent; it is the only gate the engine trusts
// under concurrency, so implementations must make it a single atomic
// step per subject (one INCR, one locked section). Check is a read-only
// preview used to fail fast before any other lookup runs; Increment
// records an attempt without gating. Reserve is equivalent to an atomic
// Check-then-Increment.
type RateLimiter interface {
	Check(ctx context.Context, subject string) error
	Increment(ctx context.Context, subject string) error
	Reserve(ctx context.Context, subject string) error
}

// UserRecord is the engine's view of an account in the caller's user
// datastore.
type UserRecord struct {
	ID            string
	PhoneNumber   string // E.164, empty if none on file
	PhoneVerified bool
	MFAEnabled    bool
}

// UserProvider is the interface callers implement to connect the engine
// to their user datastore. Lookups return (nil, nil) when no record
// matches; errors are reserved for backend failures.
type UserProvider interface {
	FindByPhone(ctx context.Context, e164 string) (*UserRecord, error)
	FindByID(ctx context.Context, id string) (*UserRecord, error)
	UpdatePhoneVerification(ctx context.Context, id, e164 string, verified, mfaEnabled bool) error
	IsPhoneOwnedByOther(ctx context.Context, e164, excludingID string) (bool, error)
}

// CodeProvider dispatches verification codes and checks submitted codes
// against the opaque handle returned at dispatch time.
type CodeProvider interface {
	SendCode(ctx context.Context, e164, antiAbuseToken string) (handle string, err error)
	CheckCode(ctx context.Context, handle, code string) (bool, error)
}

// TokenIssuer mints an authentication token for a user who completed
// phone-only login. See the token subpackage for a JWT implementation.
type TokenIssuer interface {
	MintToken(ctx context.Context, userID string) (string, error)
}

// StartResult is returned by the Start* and Resend operations.
type StartResult struct {
	SessionID   string
	MaskedPhone string
}

// EnrollmentResult is returned by ConfirmEnrollment.
type EnrollmentResult struct {
	Verified    bool
	PhoneNumber string
}

// LoginMFAResult is returned by ConfirmLoginMFA. Completing the login
// session is the caller's responsibility.
type LoginMFAResult struct {
	UserID string
}

// PhoneLoginResult is returned by ConfirmPhoneLogin.
type PhoneLoginResult struct {
	User  UserRecord
	Token string
}

// MFAStatus reports whether MFA is enabled for an account and, when a
// verified phone is on file, its masked form.
type MFAStatus struct {
	Enabled     bool
	MaskedPhone string
}
