// Package internal holds coordination helpers shared by the phonegate
// engine: identifier generation and encoding. Nothing here is part of
// the public API.
package internal
