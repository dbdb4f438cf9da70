package phonegate

import (
	"errors"
	"time"
)

// Config defines the tunable behavior of the verification engine.
//
// Config instances are intended to be configured during initialization
// and then treated as immutable.
type Config struct {
	Session   SessionConfig
	RateLimit RateLimitConfig
	Code      CodeConfig
	Provider  ProviderConfig
	Fallback  FallbackConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls verification session lifetime and storage keys.
type SessionConfig struct {
	// TTL is fixed from creation; resend does not extend it.
	TTL         time.Duration
	RedisPrefix string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls the per-subject fixed attempt window.
type RateLimitConfig struct {
	MaxAttemptsPerWindow int
	Window               time.Duration
	RedisPrefix          string
}

/*
====================================
CODE CONFIG
====================================
*/

// CodeConfig controls the expected verification code format.
type CodeConfig struct {
	Digits int
}

/*
====================================
PROVIDER CONFIG
====================================
*/

// ProviderConfig bounds calls to the external dispatch/verify provider.
type ProviderConfig struct {
	Timeout time.Duration
}

/*
====================================
FALLBACK CONFIG
====================================
*/

// FallbackConfig controls the provider-failure acceptance policy. With
// AcceptAnyCodeOnProviderFailure set, a failed or timed-out dispatch
// stores a local fallback handle and any well-formed code verifies.
// This trades verification strength for availability and must stay off
// in production builds.
type FallbackConfig struct {
	AcceptAnyCodeOnProviderFailure bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking Engine calls when the
	// buffer is saturated. Dropped counts are observable via
	// [Engine.AuditDropped].
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TTL:         10 * time.Minute,
			RedisPrefix: "pgs",
		},
		RateLimit: RateLimitConfig{
			MaxAttemptsPerWindow: 5,
			Window:               time.Hour,
			RedisPrefix:          "pgr",
		},
		Code: CodeConfig{
			Digits: 6,
		},
		Provider: ProviderConfig{
			Timeout: 10 * time.Second,
		},
		Fallback: FallbackConfig{
			AcceptAnyCodeOnProviderFailure: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DefaultConfig returns the production defaults: 10-minute sessions,
// 5 attempts per hour per subject, 6-digit codes, fallback acceptance
// off.
func DefaultConfig() Config {
	return defaultConfig()
}

// Validate checks the configuration for values the engine cannot run
// with.
func (c Config) Validate() error {
	if c.Session.TTL <= 0 {
		return errors.New("Session.TTL must be positive")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session.RedisPrefix must not be empty")
	}
	if c.RateLimit.MaxAttemptsPerWindow <= 0 {
		return errors.New("RateLimit.MaxAttemptsPerWindow must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit.Window must be positive")
	}
	if c.Code.Digits < 4 || c.Code.Digits > 10 {
		return errors.New("Code.Digits must be between 4 and 10")
	}
	if c.Provider.Timeout <= 0 {
		return errors.New("Provider.Timeout must be positive")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be positive when audit is enabled")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	// All fields are value types; a shallow copy is a deep copy.
	return cfg
}
