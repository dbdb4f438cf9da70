// Package twilio dispatches and checks verification codes through the
// Twilio Verify REST API. It satisfies the engine's CodeProvider
// contract; the Twilio verification SID is used as the provider handle.
package twilio
