// Package perrors defines the sentinel error taxonomy shared across the
// gateway's pipeline stages (classifier, dispatcher, approval pipeline,
// context store). Callers wrap these with github.com/pkg/errors.Wrap to
// attach call-site context while keeping errors.Is/errors.As working.
package perrors

import "errors"

var (
	// ErrClassifierUnavailable means neither LLM provider answered in time.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrToolUnavailable means a dispatch adapter could not reach its backend.
	ErrToolUnavailable = errors.New("tool unavailable")
	// ErrAuthRequired means the user must connect an account before a tool runs.
	ErrAuthRequired = errors.New("auth required")
	// ErrInvalidRequest means the caller supplied a malformed payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthenticated means the caller failed bearer/shared-token auth.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound means the referenced session, turn, or fact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStoreTransient means a context-store read/write failed but a retry
	// might succeed (connection reset, lock contention).
	ErrStoreTransient = errors.New("store transient error")
	// ErrStoreFatal means a context-store operation failed in a way retries
	// will not fix (schema mismatch, corrupt envelope).
	ErrStoreFatal = errors.New("store fatal error")
	// ErrPendingActionExpired means a confirmation arrived after the
	// 30-minute window closed.
	ErrPendingActionExpired = errors.New("pending action expired")
	// ErrNoPendingAction means a confirmation arrived with nothing pending.
	ErrNoPendingAction = errors.New("no pending action for session")
)
