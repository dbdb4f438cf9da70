// Package phonegate provides a phone-based verification and MFA engine:
// short-lived, single-use verification challenges across three flows
// (MFA enrollment, login-time MFA, and phone-number-only login),
// coordinated with a per-subject rate limiter and an external
// code-dispatch/verification provider.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// phonegate is the public surface. It exposes [Engine], [Builder],
// [Config], the collaborator interfaces ([UserProvider], [CodeProvider],
// [TokenIssuer], [SessionStore], [RateLimiter]) and value types. ID
// generation and other coordination helpers live under internal/ and are
// never exported. Transport (HTTP routing, wire formats) is owned by the
// caller.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store encodings, or provider wire details in
//     its public API.
//   - Hold any store or limiter lock across a provider network call.
//   - Surface raw collaborator error types across the Engine boundary.
package phonegate
