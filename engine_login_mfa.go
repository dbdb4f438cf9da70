package phonegate

import "context"

// StartLoginMFA issues a login-time challenge to the verified phone on
// file for the subject. The subject must have MFA enabled and a
// verified phone number; the phone is never taken from caller input.
func (e *Engine) StartLoginMFA(ctx context.Context, userID string) (StartResult, error) {
	if e == nil || e.sessions == nil || e.limiter == nil || e.users == nil || e.codes == nil {
		return StartResult{}, ErrEngineNotReady
	}
	if userID == "" {
		e.metricInc(MetricLoginMFAFailure)
		return StartResult{}, ErrInvalidInput
	}

	if err := e.checkAttemptBudget(ctx, FlowLoginMFA, auditEventLoginMFAStart, userID, "", userID); err != nil {
		e.metricInc(MetricLoginMFAFailure)
		return StartResult{}, err
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		e.metricInc(MetricLoginMFAFailure)
		return StartResult{}, wrapInternal(err)
	}
	if user == nil || !user.MFAEnabled || !user.PhoneVerified || user.PhoneNumber == "" {
		e.metricInc(MetricLoginMFAFailure)
		e.emitAudit(ctx, auditEventLoginMFAStart, FlowLoginMFA, false, userID, "", "", ErrInvalidInput, func() map[string]string {
			return map[string]string{
				"reason": "mfa_not_enrolled",
			}
		})
		return StartResult{}, ErrInvalidInput
	}

	session, err := e.issueChallenge(ctx, FlowLoginMFA, auditEventLoginMFAStart, user.ID, user.PhoneNumber, "")
	if err != nil {
		e.metricInc(MetricLoginMFAFailure)
		return StartResult{}, err
	}

	e.metricInc(MetricLoginMFAStart)
	return StartResult{
		SessionID:   session.ID,
		MaskedPhone: maskPhoneNumber(user.PhoneNumber),
	}, nil
}

// ConfirmLoginMFA verifies a submitted code and retires the session.
// Completing the login (issuing the caller's own session or tokens) is
// the HTTP layer's responsibility.
func (e *Engine) ConfirmLoginMFA(ctx context.Context, sessionID, code string) (LoginMFAResult, error) {
	if e == nil || e.sessions == nil || e.codes == nil {
		return LoginMFAResult{}, ErrEngineNotReady
	}
	if !isVerificationCode(code, e.config.Code.Digits) {
		e.metricInc(MetricLoginMFAFailure)
		e.emitAudit(ctx, auditEventLoginMFAConfirm, FlowLoginMFA, false, "", sessionID, "", ErrInvalidInput, func() map[string]string {
			return map[string]string{
				"reason": "malformed_code",
			}
		})
		return LoginMFAResult{}, ErrInvalidInput
	}

	session, err := e.loadLiveSession(ctx, sessionID, FlowLoginMFA)
	if err != nil {
		e.metricInc(MetricLoginMFAFailure)
		e.metricInc(MetricSessionExpired)
		e.emitAudit(ctx, auditEventLoginMFAConfirm, FlowLoginMFA, false, "", sessionID, "", err, nil)
		return LoginMFAResult{}, err
	}

	if err := e.checkDispatchedCode(ctx, session, code); err != nil {
		e.metricInc(MetricLoginMFAFailure)
		e.emitAudit(ctx, auditEventLoginMFAConfirm, FlowLoginMFA, false, session.UserID, session.ID, session.PhoneNumber, err, nil)
		return LoginMFAResult{}, err
	}

	// Consumption is the commit point: once the flag is set the session
	// cannot verify again, so a failed delete below cannot enable
	// replay.
	if err := e.sessions.MarkConsumed(ctx, session.ID); err != nil {
		e.metricInc(MetricLoginMFAFailure)
		mapped := mapSessionStoreError(err)
		e.emitAudit(ctx, auditEventLoginMFAConfirm, FlowLoginMFA, false, session.UserID, session.ID, session.PhoneNumber, mapped, nil)
		return LoginMFAResult{}, mapped
	}
	if err := e.sessions.Delete(ctx, session.ID); err != nil {
		e.emitAudit(ctx, auditEventLoginMFAConfirm, FlowLoginMFA, true, session.UserID, session.ID, session.PhoneNumber, nil, func() map[string]string {
			return map[string]string{
				"warning": "session_delete_failed",
			}
		})
		e.metricInc(MetricLoginMFASuccess)
		return LoginMFAResult{UserID: session.UserID}, nil
	}

	e.metricInc(MetricLoginMFASuccess)
	e.emitAudit(ctx, auditEventLoginMFAConfirm, FlowLoginMFA, true, session.UserID, session.ID, session.PhoneNumber, nil, nil)
	return LoginMFAResult{UserID: session.UserID}, nil
}

// DisableMFA turns MFA off for the subject. The verified phone stays on
// file so a later re-enable only needs a fresh challenge.
func (e *Engine) DisableMFA(ctx context.Context, userID string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrInvalidInput
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return wrapInternal(err)
	}
	if user == nil {
		return ErrInvalidInput
	}

	if err := e.users.UpdatePhoneVerification(ctx, user.ID, user.PhoneNumber, user.PhoneVerified, false); err != nil {
		return wrapInternal(err)
	}

	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, FlowLoginMFA, true, user.ID, "", user.PhoneNumber, nil, nil)
	return nil
}

// MFAStatus reports whether MFA is enabled for the subject and the
// masked verified phone when one is on file.
func (e *Engine) MFAStatus(ctx context.Context, userID string) (MFAStatus, error) {
	if e == nil || e.users == nil {
		return MFAStatus{}, ErrEngineNotReady
	}
	if userID == "" {
		return MFAStatus{}, ErrInvalidInput
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return MFAStatus{}, wrapInternal(err)
	}
	if user == nil {
		return MFAStatus{}, ErrInvalidInput
	}

	status := MFAStatus{Enabled: user.MFAEnabled}
	if user.PhoneVerified && user.PhoneNumber != "" {
		status.MaskedPhone = maskPhoneNumber(user.PhoneNumber)
	}
	return status, nil
}
