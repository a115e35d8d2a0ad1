package apperrors

import (
	"fmt"
	"net/http"
	"time"
)

// Factories for the notification/messaging engine's error taxonomy.
// Expected failures (transition, role, not-found, rate limit, content)
// are surfaced to callers verbatim; transport failures are logged and
// swallowed at the broadcast call site; store failures abort the
// operation before any cache or broadcast work happens.

// ErrNotFound converts a repository miss (e.g. gorm.ErrRecordNotFound)
// into a 404 AppError.
func ErrNotFound(err error, resource string) *AppError {
	return Wrap(err, CodeNotFound, resource, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// ErrInvalidTransition reports an illegal job status change.
func ErrInvalidTransition(current, target string) *AppError {
	return New(CodeInvalidTransition, "job",
		fmt.Sprintf("cannot transition job from %q to %q", current, target),
		http.StatusConflict)
}

// ErrForbiddenTransition reports a legal transition attempted by a role
// that is not permitted to perform it.
func ErrForbiddenTransition(role, target string) *AppError {
	return New(CodeForbidden, "job",
		fmt.Sprintf("role %q may not set job status to %q", role, target),
		http.StatusForbidden)
}

// ErrNotParticipant is returned when an actor touches a conversation
// they are not part of.
func ErrNotParticipant(userID string) *AppError {
	return New(CodeForbidden, "chat", "user is not a participant of this conversation", http.StatusForbidden).
		WithDetails(map[string]string{"user_id": userID})
}

// ErrRateLimited carries a retry-after hint in seconds.
func ErrRateLimited(action string, retryAfter time.Duration) *AppError {
	return New(CodeRateLimited, action, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails(map[string]any{"retry_after_seconds": int(retryAfter.Seconds())})
}

// ErrContentRejected is returned when the content validator flags text.
// Nothing is persisted or broadcast for rejected content.
func ErrContentRejected(violations []string) *AppError {
	return New(CodeContentRejected, "moderation", "content rejected", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"violations": violations})
}

// ErrStoreUnavailable wraps a failed primary persistence write. Fatal to
// the operation: no broadcast or cache update may follow it.
func ErrStoreUnavailable(err error) *AppError {
	return Wrap(err, CodeStoreUnavailable, "store", "durable store write failed", http.StatusServiceUnavailable)
}

// ErrTransportUnavailable wraps a broadcast/presence failure. Callers
// log it and carry on; it never fails the overall operation.
func ErrTransportUnavailable(err error) *AppError {
	return Wrap(err, CodeTransportUnavailable, "transport", "broadcast failed", http.StatusServiceUnavailable)
}

func ErrAlreadyExists(err error, domain string) *AppError {
	return Wrap(err, CodeAlreadyExists, domain, "resource already exists", http.StatusConflict)
}

func ErrConflict(err error, domain, message string) *AppError {
	return Wrap(err, CodeConflict, domain, message, http.StatusConflict)
}

func ErrInvalidOperation(domain, message string) *AppError {
	return New(CodeInvalidOperation, domain, message, http.StatusBadRequest)
}
