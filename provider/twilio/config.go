package twilio

import (
	"errors"
	"net/http"
	"time"
)

// Config holds Twilio Verify credentials and HTTP tuning.
type Config struct {
	AccountSID string
	AuthToken  string
	// VerifyServiceSID identifies the Twilio Verify service to dispatch
	// through (VAxxxx...).
	VerifyServiceSID string
	// Channel is the delivery channel, "sms" or "call". Defaults to
	// "sms".
	Channel string
	// BaseURL overrides the Twilio API endpoint, used by tests.
	BaseURL string
	// HTTPClient overrides the transport. When nil a client with
	// RequestTimeout is constructed.
	HTTPClient *http.Client
	// RequestTimeout bounds each API call when HTTPClient is nil.
	RequestTimeout time.Duration
}

func (c *Config) validate() error {
	if c.AccountSID == "" {
		return errors.New("twilio: AccountSID required")
	}
	if c.AuthToken == "" {
		return errors.New("twilio: AuthToken required")
	}
	if c.VerifyServiceSID == "" {
		return errors.New("twilio: VerifyServiceSID required")
	}
	return nil
}
