package phonegate

import "context"

// StartEnrollment issues a verification challenge to enroll a phone
// number for MFA on the subject account. The phone number must
// normalize to valid E.164 and must not already be verified on a
// different account.
func (e *Engine) StartEnrollment(
	ctx context.Context,
	userID string,
	rawPhone string,
	countryCode string,
	antiAbuseToken string,
) (StartResult, error) {
	if e == nil || e.sessions == nil || e.limiter == nil || e.users == nil || e.codes == nil {
		return StartResult{}, ErrEngineNotReady
	}
	if userID == "" {
		e.metricInc(MetricEnrollmentFailure)
		return StartResult{}, ErrInvalidInput
	}

	phone, err := normalizePhoneNumber(rawPhone, countryCode)
	if err != nil {
		e.metricInc(MetricEnrollmentFailure)
		e.emitAudit(ctx, auditEventEnrollmentStart, FlowEnrollment, false, userID, "", "", ErrInvalidInput, func() map[string]string {
			return map[string]string{
				"reason": "invalid_phone",
			}
		})
		return StartResult{}, ErrInvalidInput
	}

	if err := e.checkAttemptBudget(ctx, FlowEnrollment, auditEventEnrollmentStart, userID, phone, userID); err != nil {
		e.metricInc(MetricEnrollmentFailure)
		return StartResult{}, err
	}

	owned, err := e.users.IsPhoneOwnedByOther(ctx, phone, userID)
	if err != nil {
		e.metricInc(MetricEnrollmentFailure)
		return StartResult{}, wrapInternal(err)
	}
	if owned {
		e.metricInc(MetricEnrollmentDuplicate)
		e.emitAudit(ctx, auditEventEnrollmentStart, FlowEnrollment, false, userID, "", phone, ErrDuplicatePhone, nil)
		return StartResult{}, ErrDuplicatePhone
	}

	session, err := e.issueChallenge(ctx, FlowEnrollment, auditEventEnrollmentStart, userID, phone, antiAbuseToken)
	if err != nil {
		e.metricInc(MetricEnrollmentFailure)
		return StartResult{}, err
	}

	e.metricInc(MetricEnrollmentStart)
	return StartResult{
		SessionID:   session.ID,
		MaskedPhone: maskPhoneNumber(phone),
	}, nil
}

// ConfirmEnrollment verifies a submitted code. On success the phone
// number is persisted on the subject's record, the phone is marked
// verified with MFA enabled, and the session is retired.
func (e *Engine) ConfirmEnrollment(ctx context.Context, sessionID, code string) (EnrollmentResult, error) {
	if e == nil || e.sessions == nil || e.users == nil || e.codes == nil {
		return EnrollmentResult{}, ErrEngineNotReady
	}
	// Code shape is checked before touching any session state.
	if !isVerificationCode(code, e.config.Code.Digits) {
		e.metricInc(MetricEnrollmentFailure)
		e.emitAudit(ctx, auditEventEnrollmentConfirm, FlowEnrollment, false, "", sessionID, "", ErrInvalidInput, func() map[string]string {
			return map[string]string{
				"reason": "malformed_code",
			}
		})
		return EnrollmentResult{}, ErrInvalidInput
	}

	session, err := e.loadLiveSession(ctx, sessionID, FlowEnrollment)
	if err != nil {
		e.metricInc(MetricEnrollmentFailure)
		e.metricInc(MetricSessionExpired)
		e.emitAudit(ctx, auditEventEnrollmentConfirm, FlowEnrollment, false, "", sessionID, "", err, nil)
		return EnrollmentResult{}, err
	}

	if err := e.checkDispatchedCode(ctx, session, code); err != nil {
		e.metricInc(MetricEnrollmentFailure)
		e.emitAudit(ctx, auditEventEnrollmentConfirm, FlowEnrollment, false, session.UserID, session.ID, session.PhoneNumber, err, nil)
		return EnrollmentResult{}, err
	}

	if err := e.users.UpdatePhoneVerification(ctx, session.UserID, session.PhoneNumber, true, true); err != nil {
		e.metricInc(MetricEnrollmentFailure)
		mapped := wrapInternal(err)
		e.emitAudit(ctx, auditEventEnrollmentConfirm, FlowEnrollment, false, session.UserID, session.ID, session.PhoneNumber, mapped, nil)
		return EnrollmentResult{}, mapped
	}

	// The user record is already updated; replaying this confirm only
	// re-applies the same idempotent write. Consuming then deleting is
	// best effort here.
	_ = e.sessions.MarkConsumed(ctx, session.ID)
	if err := e.sessions.Delete(ctx, session.ID); err != nil {
		// The side effect is applied; a lingering record only shortens
		// to its TTL. Log through audit and report success.
		e.emitAudit(ctx, auditEventEnrollmentConfirm, FlowEnrollment, true, session.UserID, session.ID, session.PhoneNumber, nil, func() map[string]string {
			return map[string]string{
				"warning": "session_delete_failed",
			}
		})
	} else {
		e.emitAudit(ctx, auditEventEnrollmentConfirm, FlowEnrollment, true, session.UserID, session.ID, session.PhoneNumber, nil, nil)
	}

	e.metricInc(MetricEnrollmentSuccess)
	return EnrollmentResult{
		Verified:    true,
		PhoneNumber: session.PhoneNumber,
	}, nil
}
