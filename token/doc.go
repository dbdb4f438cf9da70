// Package token mints and verifies the JWT auth tokens issued after a
// successful phone-only login, using configured signing keys and strict
// validation semantics.
package token
