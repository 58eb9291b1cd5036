package core

import (
	"errors"
	"fmt"
)

// ConfigurationError marks a programmer or deployment bug: an unknown step
// name, a malformed retry policy, a handler registration gap. It is never
// retried and should fail the process at startup wherever possible.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(message string) *ConfigurationError {
	return &ConfigurationError{Message: message}
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// InfrastructureError marks a failure of the durable queue or its state
// store: connectivity, serialization limits, storage writes. Callers of
// Submit/Enqueue decide whether to retry the whole operation.
type InfrastructureError struct {
	Op      string
	Message string
	Err     error
}

func (e *InfrastructureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("infrastructure error in %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("infrastructure error in %s: %s", e.Op, e.Message)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// NewInfrastructureError creates an InfrastructureError wrapping err.
func NewInfrastructureError(op, message string, err error) *InfrastructureError {
	return &InfrastructureError{Op: op, Message: message, Err: err}
}

// IsInfrastructureError reports whether err is an InfrastructureError.
func IsInfrastructureError(err error) bool {
	var ie *InfrastructureError
	return errors.As(err, &ie)
}

// DuplicateJobError is returned by Enqueue when a job with the same ID is
// already present in its queue. For business-keyed IDs the caller treats
// this as success: the logical execution already exists.
type DuplicateJobError struct {
	JobID string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("job %q already enqueued", e.JobID)
}

// IsDuplicateJob reports whether err indicates an idempotent collision on a
// job ID, returning the existing job's ID when it does.
func IsDuplicateJob(err error) (string, bool) {
	var de *DuplicateJobError
	if errors.As(err, &de) {
		return de.JobID, true
	}
	return "", false
}

// fatalError marks a step failure as a business-rule violation that must
// not be retried.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so handlers and the worker classify it as a FatalFailure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
