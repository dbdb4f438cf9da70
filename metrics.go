package phonegate

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricEnrollmentStart counts enrollment challenges issued.
	MetricEnrollmentStart MetricID = iota
	// MetricEnrollmentSuccess counts completed enrollments.
	MetricEnrollmentSuccess
	// MetricEnrollmentFailure counts failed enrollment operations.
	MetricEnrollmentFailure
	// MetricEnrollmentDuplicate counts enrollment attempts rejected
	// because the phone number belongs to another verified account.
	MetricEnrollmentDuplicate
	// MetricLoginMFAStart counts login-MFA challenges issued.
	MetricLoginMFAStart
	// MetricLoginMFASuccess counts confirmed login-MFA challenges.
	MetricLoginMFASuccess
	// MetricLoginMFAFailure counts failed login-MFA operations.
	MetricLoginMFAFailure
	// MetricPhoneLoginStart counts phone-login challenges issued.
	MetricPhoneLoginStart
	// MetricPhoneLoginSuccess counts confirmed phone logins.
	MetricPhoneLoginSuccess
	// MetricPhoneLoginFailure counts failed phone-login operations.
	MetricPhoneLoginFailure
	// MetricResend counts successful code resends.
	MetricResend
	// MetricRateLimitHit counts requests rejected by the rate limiter.
	MetricRateLimitHit
	// MetricSessionExpired counts operations rejected on absent or
	// lapsed sessions.
	MetricSessionExpired
	// MetricCodeRejected counts well-formed codes rejected by the
	// provider.
	MetricCodeRejected
	// MetricProviderFallback counts dispatches that engaged the
	// fallback acceptance policy.
	MetricProviderFallback
	// MetricProviderFailure counts provider failures surfaced to
	// callers.
	MetricProviderFailure
	// MetricMFADisabled counts MFA disablements.
	MetricMFADisabled
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's in-process counters. All methods are safe
// for concurrent use; disabled metrics cost one branch per call.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates a counter set per the given config.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Snapshot copies all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, metricIDCount),
	}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snap
}
