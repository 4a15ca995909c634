package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrChannelLost reports that a live update channel dropped and could
	// not be resynchronized; the caller must reload and resubscribe.
	ErrChannelLost = errors.New("live channel lost")
)

// ValidationError rejects bad input before any write happens. It is never
// retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func Validation(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CreateConversationError reports a failure partway through the multi-row
// conversation creation. Compensated stages are recorded so operators can
// verify no partial state survived.
type CreateConversationError struct {
	Stage string // "conversation", "participants" or "system_message"
	Err   error
}

func (e *CreateConversationError) Error() string {
	return fmt.Sprintf("create conversation failed at %s stage: %v", e.Stage, e.Err)
}

func (e *CreateConversationError) Unwrap() error { return e.Err }

func IsCreateConversationFailed(err error) bool {
	var ce *CreateConversationError
	return errors.As(err, &ce)
}

// IsTransient classifies store errors that are safe to retry for reads.
// Writes must not be blindly retried: without an idempotency key a retried
// append that already committed would duplicate the message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
