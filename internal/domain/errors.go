package domain

import "errors"

// Sentinel errors shared across services and handlers. Handlers map these
// to HTTP statuses with generic bodies so internal state never leaks.
var (
	// ErrUnauthenticated covers missing, malformed, invalid and expired
	// tokens alike. Never cached.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrForbidden means the caller is authenticated but lacks the
	// required permission. Evaluated fresh on every call.
	ErrForbidden = errors.New("insufficient permissions")

	// ErrAdminRequired guards privileged operations.
	ErrAdminRequired = errors.New("admin access required")

	// ErrCircuitOpen means the access gate is failing fast because the
	// protected dependency has been failing. Retry later with backoff.
	ErrCircuitOpen = errors.New("service degraded: circuit open")

	// ErrPoolExhausted means transient saturation of the gate's
	// concurrency limit. One immediate retry is acceptable.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrNotFound is returned by repositories for missing rows.
	ErrNotFound = errors.New("not found")
)
