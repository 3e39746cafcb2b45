// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfisherdev/herald/internal/domain/model"
)

// Platform defines the driven port for one communication platform. Adapters
// own all protocol detail; the dispatch core only sees these three
// capabilities. Implementations must be safe for use from the platform's
// dispatch and monitor goroutines.
type Platform interface {
	// ID returns the stable platform identifier ("github", "matrix").
	ID() string

	// Authenticate establishes a session from the credential record. An
	// error is treated as fatal for the platform: it is not started.
	Authenticate(ctx context.Context, creds model.CredentialRecord) error

	// Send delivers one message. A nil return means the platform accepted
	// the message. Errors should be classified with Transient or Fatal;
	// unclassified errors are treated as transient.
	Send(ctx context.Context, msg model.OutboundMessage) error

	// FetchMentions returns mentions of the agent newer than the cursor,
	// oldest first. An empty cursor means "from the beginning" as the
	// platform defines it.
	FetchMentions(ctx context.Context, cursor string) ([]model.Mention, error)
}

// PlatformError wraps a platform operation failure with its retry
// classification.
type PlatformError struct {
	Kind model.FailureKind
	Op   string
	Err  error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable platform failure.
func Transient(op string, err error) error {
	return &PlatformError{Kind: model.FailureTransient, Op: op, Err: err}
}

// Fatal wraps err as a non-retryable platform failure.
func Fatal(op string, err error) error {
	return &PlatformError{Kind: model.FailureFatal, Op: op, Err: err}
}

// KindOf classifies err. Unclassified errors default to transient so that
// plain network failures stay retry-safe.
func KindOf(err error) model.FailureKind {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return model.FailureTransient
}
