package phonegate

import (
	"context"
	"errors"

	"github.com/phonegate/phonegate/internal"
)

// Resend re-dispatches a code for a still-valid session of any flow.
// The session keeps its ID and its original expiry; the new provider
// handle supersedes the old one, so codes from the pre-resend dispatch
// stop verifying. Rate limiting is re-run for the session's subject
// before the provider is contacted.
func (e *Engine) Resend(ctx context.Context, sessionID string) (StartResult, error) {
	if e == nil || e.sessions == nil || e.limiter == nil || e.codes == nil {
		return StartResult{}, ErrEngineNotReady
	}
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return StartResult{}, ErrSessionExpired
	}

	session, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		e.metricInc(MetricSessionExpired)
		return StartResult{}, mapSessionStoreError(err)
	}
	if session.Consumed {
		e.metricInc(MetricSessionExpired)
		return StartResult{}, ErrSessionExpired
	}

	return e.resendToSession(ctx, session)
}

// ResendPhoneLogin resends for a phone-login session, degrading
// gracefully: when the referenced session cannot be found (expired, or
// lost to a race) a brand-new session is created from the phone number
// instead of hard-failing. For a live session it behaves exactly like
// [Engine.Resend].
func (e *Engine) ResendPhoneLogin(
	ctx context.Context,
	sessionID string,
	rawPhone string,
	countryCode string,
	antiAbuseToken string,
) (StartResult, error) {
	if e == nil || e.sessions == nil || e.limiter == nil || e.codes == nil {
		return StartResult{}, ErrEngineNotReady
	}

	if sessionID != "" {
		session, err := e.sessions.Get(ctx, sessionID)
		if err == nil && !session.Consumed && session.Flow == FlowPhoneLogin {
			return e.resendToSession(ctx, session)
		}
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return StartResult{}, wrapInternal(err)
		}
	}

	return e.StartPhoneLogin(ctx, rawPhone, countryCode, antiAbuseToken)
}

func (e *Engine) resendToSession(ctx context.Context, session *VerificationSession) (StartResult, error) {
	subject := limiterSubject(session.Flow, session.UserID, session.PhoneNumber)
	if err := e.limiter.Reserve(ctx, subject); err != nil {
		mapped := mapRateLimiterError(err)
		if isRateLimited(mapped) {
			e.emitRateLimit(ctx, session.Flow, session.UserID, session.PhoneNumber, mapped)
		}
		e.emitAudit(ctx, auditEventResend, session.Flow, false, session.UserID, session.ID, session.PhoneNumber, mapped, nil)
		return StartResult{}, mapped
	}

	handle, fellBack, dispatchErr := e.dispatchCode(ctx, session.PhoneNumber, "")

	if dispatchErr != nil {
		e.metricInc(MetricProviderFailure)
		e.emitAudit(ctx, auditEventProviderDispatchFail, session.Flow, false, session.UserID, session.ID, session.PhoneNumber, dispatchErr, nil)
		return StartResult{}, dispatchErr
	}

	if err := e.sessions.ReplaceHandle(ctx, session.ID, handle); err != nil {
		mapped := mapSessionStoreError(err)
		e.emitAudit(ctx, auditEventResend, session.Flow, false, session.UserID, session.ID, session.PhoneNumber, mapped, nil)
		return StartResult{}, mapped
	}

	if fellBack {
		e.metricInc(MetricProviderFallback)
		e.emitAudit(ctx, auditEventFallbackEngaged, session.Flow, true, session.UserID, session.ID, session.PhoneNumber, nil, nil)
	}

	e.metricInc(MetricResend)
	e.emitAudit(ctx, auditEventResend, session.Flow, true, session.UserID, session.ID, session.PhoneNumber, nil, nil)
	return StartResult{
		SessionID:   session.ID,
		MaskedPhone: maskPhoneNumber(session.PhoneNumber),
	}, nil
}
