package phonegate

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine] from configuration and collaborators.
//
// Builder instances are intended to be configured during initialization
// and then treated as immutable. A Builder is single use: Build may be
// called at most once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	sessions SessionStore
	limiter  RateLimiter
	users    UserProvider
	codes    CodeProvider
	tokens   TokenIssuer
	sink     AuditSink

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the Redis client used to construct the default
// session store and rate limiter. Ignored for a concern when an
// explicit store or limiter was also injected.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSessionStore injects a session store, overriding the Redis
// default.
func (b *Builder) WithSessionStore(store SessionStore) *Builder {
	b.sessions = store
	return b
}

// WithRateLimiter injects a rate limiter, overriding the Redis default.
func (b *Builder) WithRateLimiter(limiter RateLimiter) *Builder {
	b.limiter = limiter
	return b
}

// WithUserProvider injects the caller's user datastore adapter.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.users = up
	return b
}

// WithCodeProvider injects the external code dispatch provider.
func (b *Builder) WithCodeProvider(cp CodeProvider) *Builder {
	b.codes = cp
	return b
}

// WithTokenIssuer injects the token issuer used by phone-only login.
// Optional: without one, ConfirmPhoneLogin returns ErrEngineNotReady
// while the other flows work normally.
func (b *Builder) WithTokenIssuer(ti TokenIssuer) *Builder {
	b.tokens = ti
	return b
}

// WithAuditSink injects the audit destination and enables the
// dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and collaborators and constructs
// the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user provider required")
	}
	if b.codes == nil {
		return nil, errors.New("code provider required")
	}

	sessions := b.sessions
	limiter := b.limiter
	if sessions == nil || limiter == nil {
		if b.redis == nil {
			return nil, errors.New("redis client required when no session store or rate limiter is injected")
		}
		if sessions == nil {
			sessions = NewRedisSessionStore(b.redis, cfg.Session.RedisPrefix)
		}
		if limiter == nil {
			limiter = NewRedisRateLimiter(b.redis, cfg.RateLimit.RedisPrefix, cfg.RateLimit.MaxAttemptsPerWindow, cfg.RateLimit.Window)
		}
	}

	engine := &Engine{
		config:   cfg,
		sessions: sessions,
		limiter:  limiter,
		users:    b.users,
		codes:    b.codes,
		tokens:   b.tokens,
		metrics:  NewMetrics(cfg.Metrics),
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.sink)

	b.built = true

	return engine, nil
}
