// Package token issues and fetches the short-lived credentials that open an
// avatar session.
package token

import (
	"context"
	"errors"
	"fmt"
)

// Source yields a fresh access token per call.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (string, error)

func (f SourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

var (
	ErrEmptyToken    = errors.New("empty access token")
	ErrMissingAPIKey = errors.New("avatar api key not configured")
)

// FetchError reports that no credential could be obtained: the token
// endpoint was unreachable or answered with a failure.
type FetchError struct {
	Endpoint string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch access token from %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
