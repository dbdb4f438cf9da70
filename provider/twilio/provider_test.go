package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := New(Config{
		AccountSID:       "ACtest",
		AuthToken:        "secret",
		VerifyServiceSID: "VAtest",
		BaseURL:          server.URL,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p, server
}

func TestNewValidatesConfig(t *testing.T) {
	cases := []Config{
		{},
		{AccountSID: "AC"},
		{AccountSID: "AC", AuthToken: "t"},
	}
	for i, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestSendCodeSuccess(t *testing.T) {
	var gotPath, gotTo, gotChannel, gotUser string
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm failed: %v", err)
		}
		gotTo = r.PostFormValue("To")
		gotChannel = r.PostFormValue("Channel")
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("expected an idempotency key")
		}

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"sid": "VE123", "status": "pending"})
	})

	handle, err := p.SendCode(context.Background(), "+16502530000", "")
	if err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	if handle != "VE123" {
		t.Fatalf("unexpected handle %q", handle)
	}
	if gotPath != "/Services/VAtest/Verifications" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotTo != "+16502530000" || gotChannel != "sms" {
		t.Fatalf("unexpected form To=%q Channel=%q", gotTo, gotChannel)
	}
	if gotUser != "ACtest" {
		t.Fatalf("unexpected basic auth user %q", gotUser)
	}
}

func TestSendCodeErrorTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		code   int64
		want   error
	}{
		{http.StatusBadRequest, 21211, ErrInvalidPhone},
		{http.StatusBadRequest, 21614, ErrInvalidPhone},
		{http.StatusUnauthorized, 20003, ErrConfiguration},
		{http.StatusTooManyRequests, 0, ErrGateway},
		{http.StatusServiceUnavailable, 0, ErrGateway},
	}
	for _, c := range cases {
		p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"code":    c.code,
				"message": "test failure",
				"status":  c.status,
			})
		})

		_, err := p.SendCode(context.Background(), "+16502530000", "")
		if !errors.Is(err, c.want) {
			t.Fatalf("status %d code %d: expected %v, got %v", c.status, c.code, c.want, err)
		}
	}
}

func TestCheckCodeApproved(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Services/VAtest/VerificationCheck" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = r.ParseForm()
		if r.PostFormValue("VerificationSid") != "VE123" || r.PostFormValue("Code") != "123456" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sid": "VE123", "status": "approved"})
	})

	ok, err := p.CheckCode(context.Background(), "VE123", "123456")
	if err != nil {
		t.Fatalf("CheckCode failed: %v", err)
	}
	if !ok {
		t.Fatal("expected approval")
	}
}

func TestCheckCodeMismatch(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"sid": "VE123", "status": "pending"})
	})

	ok, err := p.CheckCode(context.Background(), "VE123", "000000")
	if err != nil {
		t.Fatalf("CheckCode failed: %v", err)
	}
	if ok {
		t.Fatal("expected rejection for a pending check")
	}
}

func TestCheckCodeConsumedVerification(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 20404, "message": "not found", "status": 404})
	})

	ok, err := p.CheckCode(context.Background(), "VE123", "123456")
	if err != nil {
		t.Fatalf("expected mismatch, got error %v", err)
	}
	if ok {
		t.Fatal("expected rejection for a consumed verification")
	}
}

func TestCheckCodeGatewayFailure(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := p.CheckCode(context.Background(), "VE123", "123456"); !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
}
