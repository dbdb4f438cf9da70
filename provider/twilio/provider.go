package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultBaseURL = "https://verify.twilio.com/v2"

// Sentinel errors classifying Twilio API failures. ErrInvalidPhone and
// ErrConfiguration are terminal; ErrGateway covers transient upstream
// conditions a caller may retry.
var (
	ErrConfiguration = errors.New("twilio: configuration rejected")
	ErrInvalidPhone  = errors.New("twilio: phone number rejected")
	ErrGateway       = errors.New("twilio: gateway failure")
)

// Provider calls the Twilio Verify API. Safe for concurrent use.
type Provider struct {
	config  Config
	client  *http.Client
	baseURL string
}

// New validates the configuration and returns a ready Provider.
func New(cfg Config) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Channel == "" {
		cfg.Channel = "sms"
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Provider{
		config:  cfg,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// SendCode starts a verification for the given E.164 number and returns
// the Twilio verification SID as the handle. Each call dispatches a
// fresh code; Twilio invalidates the prior one for the same number.
func (p *Provider) SendCode(ctx context.Context, e164, antiAbuseToken string) (string, error) {
	form := url.Values{}
	form.Set("To", e164)
	form.Set("Channel", p.config.Channel)

	endpoint := fmt.Sprintf("%s/Services/%s/Verifications", p.baseURL, p.config.VerifyServiceSID)

	var body verificationResponse
	if err := p.post(ctx, endpoint, form, &body); err != nil {
		return "", err
	}
	if body.SID == "" {
		return "", fmt.Errorf("%w: response missing verification sid", ErrGateway)
	}
	return body.SID, nil
}

// CheckCode submits a code against a previously issued verification
// handle. A definitive mismatch returns (false, nil); transport and
// gateway failures return an error.
func (p *Provider) CheckCode(ctx context.Context, handle, code string) (bool, error) {
	form := url.Values{}
	form.Set("VerificationSid", handle)
	form.Set("Code", code)

	endpoint := fmt.Sprintf("%s/Services/%s/VerificationCheck", p.baseURL, p.config.VerifyServiceSID)

	var body verificationResponse
	if err := p.post(ctx, endpoint, form, &body); err != nil {
		// Twilio answers 404 when the verification is no longer
		// pending, which includes a code already burned by a prior
		// wrong guess. Treat that as a mismatch, not an outage.
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}

	return body.Status == "approved", nil
}

func (p *Provider) post(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	req.SetBasicAuth(p.config.AccountSID, p.config.AuthToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// Twilio dedupes retried requests on this key.
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("%w: %v", ErrGateway, err)
			}
		}
		return nil
	}

	var errBody twilioErrorResponse
	_ = json.Unmarshal(raw, &errBody)

	return &apiError{
		Status:   resp.StatusCode,
		Code:     errBody.Code,
		Message:  errBody.Message,
		sentinel: classify(resp.StatusCode, errBody.Code),
	}
}

// apiError carries the Twilio error envelope alongside its sentinel
// classification.
type apiError struct {
	Status   int
	Code     int64
	Message  string
	sentinel error
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v (status %d, code %d): %s", e.sentinel, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%v (status %d, code %d)", e.sentinel, e.Status, e.Code)
}

func (e *apiError) Unwrap() error { return e.sentinel }

func classify(status int, code int64) error {
	switch code {
	case 20003:
		return ErrConfiguration
	case 20404, 30008:
		return ErrGateway
	case 21211, 21408, 21614, 60200:
		return ErrInvalidPhone
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrConfiguration
	case status == http.StatusTooManyRequests:
		return ErrGateway
	case status >= 400 && status < 500:
		return ErrInvalidPhone
	}
	return ErrGateway
}

type verificationResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
}

type twilioErrorResponse struct {
	Code     int64  `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int64  `json:"status"`
}
