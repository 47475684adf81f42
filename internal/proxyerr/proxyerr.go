// Package proxyerr defines the error kinds shared across the core
// components, per the error handling design: each kind carries a fixed
// propagation policy (surfaced vs. swallowed-and-logged vs. degraded).
package proxyerr

import "errors"

// Sentinel error kinds. Components wrap these with fmt.Errorf("...: %w", Kind)
// so callers can use errors.Is against the kind while still getting a
// human-readable message.
var (
	// ErrNotFound: inbox id unknown to the credential resolver.
	ErrNotFound = errors.New("inbox id not found")
	// ErrCredentialExpired: OAuth token past expiry.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrUpstreamAuthFailed: LOGIN/AUTH rejected by the upstream server. Not
	// retryable within the request.
	ErrUpstreamAuthFailed = errors.New("upstream authentication failed")
	// ErrUpstreamUnavailable: two rebuild attempts failed, or a deadline was
	// exceeded while establishing a connection. Retryable at the request level.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamProtocolError: a tagged NO/BAD response to an otherwise legal
	// command. The handle that produced it has already been closed.
	ErrUpstreamProtocolError = errors.New("upstream protocol error")
	// ErrStoreUnavailable: the session store could not be reached. Never fails
	// the request on its own.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrDeadlineExceeded: a request-level deadline was breached; the
	// affected handle has been closed.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)
