package phonegate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// AuditEvent records one observable engine outcome. Phone numbers are
// always masked before they reach a sink.
type AuditEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	Flow        string            `json:"flow,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	MaskedPhone string            `json:"masked_phone,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the engine's async dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel for consumption by
// the caller's own pipeline.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

const (
	auditEventEnrollmentStart      = "enrollment_start"
	auditEventEnrollmentConfirm    = "enrollment_confirm"
	auditEventLoginMFAStart        = "login_mfa_start"
	auditEventLoginMFAConfirm      = "login_mfa_confirm"
	auditEventPhoneLoginStart      = "phone_login_start"
	auditEventPhoneLoginConfirm    = "phone_login_confirm"
	auditEventResend               = "resend"
	auditEventMFADisabled          = "mfa_disabled"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
	auditEventFallbackEngaged      = "provider_fallback_engaged"
	auditEventProviderDispatchFail = "provider_dispatch_failed"
)

// AuditErrorCode is the stable error label carried in audit events.
type AuditErrorCode string

const (
	auditErrInvalidInput        AuditErrorCode = "invalid_input"
	auditErrDuplicatePhone      AuditErrorCode = "duplicate_phone"
	auditErrSessionExpired      AuditErrorCode = "session_expired"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrProviderUnavailable AuditErrorCode = "provider_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrDuplicatePhone):
		return auditErrDuplicatePhone
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrProviderUnavailable):
		return auditErrProviderUnavailable
	default:
		return auditErrInternal
	}
}
