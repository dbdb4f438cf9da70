package phonegate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/phonegate/phonegate/internal"
)

const fallbackHandlePrefix = "fallback:"

// Engine orchestrates the three verification flows on top of the session
// store, the rate limiter, and the external collaborators.
//
// Engine instances are configured through [Builder.Build] and are
// immutable afterwards; all methods are safe for concurrent use.
type Engine struct {
	config   Config
	sessions SessionStore
	limiter  RateLimiter
	users    UserProvider
	codes    CodeProvider
	tokens   TokenIssuer
	audit    *auditDispatcher
	metrics  *Metrics
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// buffer was saturated with DropIfFull set.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	flow FlowType,
	success bool,
	userID string,
	sessionID string,
	phone string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Flow:      flow.String(),
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if phone != "" {
		event.MaskedPhone = maskPhoneNumber(phone)
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, flow FlowType, userID, phone string, err error) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, flow, false, userID, "", phone, err, nil)
}

// limiterSubject keys the attempt counter. Phone-only login has no
// authenticated caller, so its attempts count against the number being
// targeted; the enrolled flows count against the user.
func limiterSubject(flow FlowType, userID, phone string) string {
	if flow == FlowPhoneLogin {
		return phone
	}
	return userID
}

// checkAttemptBudget is the read-only gate run before a start flow
// touches account or phone state, so a limited caller cannot keep
// probing which numbers are taken or registered. It never counts an
// attempt; the authoritative atomic reservation happens in
// issueChallenge.
func (e *Engine) checkAttemptBudget(
	ctx context.Context,
	flow FlowType,
	eventType string,
	userID string,
	phone string,
	subject string,
) error {
	err := e.limiter.Check(ctx, subject)
	if err == nil {
		return nil
	}
	mapped := mapRateLimiterError(err)
	if isRateLimited(mapped) {
		e.emitRateLimit(ctx, flow, userID, phone, mapped)
	}
	e.emitAudit(ctx, eventType, flow, false, userID, "", phone, mapped, nil)
	return mapped
}

// issueChallenge runs the shared create path: rate-limit reservation,
// provider dispatch (or fallback), session persistence. The reservation
// is one atomic limiter step, so a burst of concurrent calls for the
// same subject can never dispatch past the window budget. Every granted
// reservation leads to a dispatch attempt, so failed dispatches stay
// counted.
func (e *Engine) issueChallenge(
	ctx context.Context,
	flow FlowType,
	eventType string,
	userID string,
	phone string,
	antiAbuseToken string,
) (*VerificationSession, error) {
	subject := limiterSubject(flow, userID, phone)
	if err := e.limiter.Reserve(ctx, subject); err != nil {
		mapped := mapRateLimiterError(err)
		if isRateLimited(mapped) {
			e.emitRateLimit(ctx, flow, userID, phone, mapped)
		}
		e.emitAudit(ctx, eventType, flow, false, userID, "", phone, mapped, nil)
		return nil, mapped
	}

	handle, fellBack, dispatchErr := e.dispatchCode(ctx, phone, antiAbuseToken)

	if dispatchErr != nil {
		e.metricInc(MetricProviderFailure)
		e.emitAudit(ctx, auditEventProviderDispatchFail, flow, false, userID, "", phone, dispatchErr, nil)
		return nil, dispatchErr
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, wrapInternal(err)
	}

	now := time.Now()
	session := &VerificationSession{
		ID:             sid.String(),
		Flow:           flow,
		UserID:         userID,
		PhoneNumber:    phone,
		ProviderHandle: handle,
		CreatedAt:      now.Unix(),
		ExpiresAt:      now.Add(e.config.Session.TTL).Unix(),
	}

	if err := e.sessions.Create(ctx, session, e.config.Session.TTL); err != nil {
		mapped := wrapInternal(err)
		e.emitAudit(ctx, eventType, flow, false, userID, "", phone, mapped, nil)
		return nil, mapped
	}

	if fellBack {
		e.metricInc(MetricProviderFallback)
		e.emitAudit(ctx, auditEventFallbackEngaged, flow, true, userID, session.ID, phone, nil, nil)
	}
	e.emitAudit(ctx, eventType, flow, true, userID, session.ID, phone, nil, nil)

	return session, nil
}

// dispatchCode contacts the provider under the configured timeout. On
// failure the fallback policy decides between a locally minted handle
// (accept-any-code mode) and surfacing ErrProviderUnavailable. No store
// or limiter lock is held across this call.
func (e *Engine) dispatchCode(ctx context.Context, phone, antiAbuseToken string) (string, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.Provider.Timeout)
	defer cancel()

	handle, err := e.codes.SendCode(callCtx, phone, antiAbuseToken)
	if err == nil && handle != "" {
		return handle, false, nil
	}

	if !e.config.Fallback.AcceptAnyCodeOnProviderFailure {
		return "", false, ErrProviderUnavailable
	}

	fid, idErr := internal.NewSessionID()
	if idErr != nil {
		return "", false, wrapInternal(idErr)
	}
	return fallbackHandlePrefix + fid.String(), true, nil
}

// loadLiveSession resolves a session for a verify or resend call.
// Missing, expired, consumed, and wrong-flow sessions all surface the
// same ErrSessionExpired so callers cannot probe for session existence.
func (e *Engine) loadLiveSession(ctx context.Context, sessionID string, flow FlowType) (*VerificationSession, error) {
	// Malformed IDs can never name a stored session; reject them before
	// touching the store, indistinguishably from expiry.
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return nil, ErrSessionExpired
	}

	session, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSessionStoreError(err)
	}
	if session.Consumed || session.Flow != flow {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// checkDispatchedCode validates a well-formed code against the session's
// live handle. Fallback handles accept any well-formed code; a provider
// failure at verify time engages the same policy when enabled.
func (e *Engine) checkDispatchedCode(ctx context.Context, session *VerificationSession, code string) error {
	if strings.HasPrefix(session.ProviderHandle, fallbackHandlePrefix) {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.Provider.Timeout)
	defer cancel()

	ok, err := e.codes.CheckCode(callCtx, session.ProviderHandle, code)
	if err != nil {
		if e.config.Fallback.AcceptAnyCodeOnProviderFailure {
			e.metricInc(MetricProviderFallback)
			e.emitAudit(ctx, auditEventFallbackEngaged, session.Flow, true, session.UserID, session.ID, session.PhoneNumber, nil, func() map[string]string {
				return map[string]string{
					"stage": "verify",
				}
			})
			return nil
		}
		e.metricInc(MetricProviderFailure)
		return ErrProviderUnavailable
	}
	if !ok {
		e.metricInc(MetricCodeRejected)
		return ErrInvalidInput
	}
	return nil
}

func isRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
