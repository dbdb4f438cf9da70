package phonegate

import "context"

// StartPhoneLogin issues a challenge for phone-number-only login. A
// session is created only when a user record exists for the number;
// unknown numbers are rejected up front without touching the provider.
func (e *Engine) StartPhoneLogin(
	ctx context.Context,
	rawPhone string,
	countryCode string,
	antiAbuseToken string,
) (StartResult, error) {
	if e == nil || e.sessions == nil || e.limiter == nil || e.users == nil || e.codes == nil {
		return StartResult{}, ErrEngineNotReady
	}

	phone, err := normalizePhoneNumber(rawPhone, countryCode)
	if err != nil {
		e.metricInc(MetricPhoneLoginFailure)
		e.emitAudit(ctx, auditEventPhoneLoginStart, FlowPhoneLogin, false, "", "", "", ErrInvalidInput, func() map[string]string {
			return map[string]string{
				"reason": "invalid_phone",
			}
		})
		return StartResult{}, ErrInvalidInput
	}

	if err := e.checkAttemptBudget(ctx, FlowPhoneLogin, auditEventPhoneLoginStart, "", phone, phone); err != nil {
		e.metricInc(MetricPhoneLoginFailure)
		return StartResult{}, err
	}

	user, err := e.users.FindByPhone(ctx, phone)
	if err != nil {
		e.metricInc(MetricPhoneLoginFailure)
		return StartResult{}, wrapInternal(err)
	}
	if user == nil {
		e.metricInc(MetricPhoneLoginFailure)
		e.emitAudit(ctx, auditEventPhoneLoginStart, FlowPhoneLogin, false, "", "", phone, ErrInvalidInput, func() map[string]string {
			return map[string]string{
				"reason": "unknown_phone",
			}
		})
		return StartResult{}, ErrInvalidInput
	}

	session, err := e.issueChallenge(ctx, FlowPhoneLogin, auditEventPhoneLoginStart, user.ID, phone, antiAbuseToken)
	if err != nil {
		e.metricInc(MetricPhoneLoginFailure)
		return StartResult{}, err
	}

	e.metricInc(MetricPhoneLoginStart)
	return StartResult{
		SessionID:   session.ID,
		MaskedPhone: maskPhoneNumber(phone),
	}, nil
}

// ConfirmPhoneLogin verifies a submitted code, resolves the user, and
// mints an authentication token. The session is deliberately left in
// place until its TTL lapses: a late or duplicate verify call can be
// retried idempotently within the remaining window, which also
// tolerates a resend racing the verify.
func (e *Engine) ConfirmPhoneLogin(ctx context.Context, sessionID, code string) (PhoneLoginResult, error) {
	if e == nil || e.sessions == nil || e.users == nil || e.codes == nil {
		return PhoneLoginResult{}, ErrEngineNotReady
	}
	if e.tokens == nil {
		return PhoneLoginResult{}, ErrEngineNotReady
	}
	if !isVerificationCode(code, e.config.Code.Digits) {
		e.metricInc(MetricPhoneLoginFailure)
		e.emitAudit(ctx, auditEventPhoneLoginConfirm, FlowPhoneLogin, false, "", sessionID, "", ErrInvalidInput, func() map[string]string {
			return map[string]string{
				"reason": "malformed_code",
			}
		})
		return PhoneLoginResult{}, ErrInvalidInput
	}

	session, err := e.loadLiveSession(ctx, sessionID, FlowPhoneLogin)
	if err != nil {
		e.metricInc(MetricPhoneLoginFailure)
		e.metricInc(MetricSessionExpired)
		e.emitAudit(ctx, auditEventPhoneLoginConfirm, FlowPhoneLogin, false, "", sessionID, "", err, nil)
		return PhoneLoginResult{}, err
	}

	if err := e.checkDispatchedCode(ctx, session, code); err != nil {
		e.metricInc(MetricPhoneLoginFailure)
		e.emitAudit(ctx, auditEventPhoneLoginConfirm, FlowPhoneLogin, false, session.UserID, session.ID, session.PhoneNumber, err, nil)
		return PhoneLoginResult{}, err
	}

	user, err := e.users.FindByID(ctx, session.UserID)
	if err != nil || user == nil {
		e.metricInc(MetricPhoneLoginFailure)
		mapped := wrapInternal(err)
		if user == nil && err == nil {
			mapped = ErrInternal
		}
		e.emitAudit(ctx, auditEventPhoneLoginConfirm, FlowPhoneLogin, false, session.UserID, session.ID, session.PhoneNumber, mapped, func() map[string]string {
			return map[string]string{
				"reason": "user_resolution_failed",
			}
		})
		return PhoneLoginResult{}, mapped
	}

	token, err := e.tokens.MintToken(ctx, user.ID)
	if err != nil {
		e.metricInc(MetricPhoneLoginFailure)
		mapped := wrapInternal(err)
		e.emitAudit(ctx, auditEventPhoneLoginConfirm, FlowPhoneLogin, false, user.ID, session.ID, session.PhoneNumber, mapped, func() map[string]string {
			return map[string]string{
				"reason": "token_issuance_failed",
			}
		})
		return PhoneLoginResult{}, mapped
	}

	e.metricInc(MetricPhoneLoginSuccess)
	e.emitAudit(ctx, auditEventPhoneLoginConfirm, FlowPhoneLogin, true, user.ID, session.ID, session.PhoneNumber, nil, nil)
	return PhoneLoginResult{
		User:  *user,
		Token: token,
	}, nil
}
