package types

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a bounded external wait that expired
var ErrTimeout = errors.New("timed out")

// ConfigurationError is a malformed declaration, duplicate target, or
// unresolved template token. Raised before anything on the host is touched.
type ConfigurationError struct {
	Subject string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Subject, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError builds a ConfigurationError from a format string
func NewConfigurationError(subject, format string, args ...interface{}) error {
	return &ConfigurationError{Subject: subject, Err: fmt.Errorf(format, args...)}
}

// ResourceApplyError is a failure while mutating a host resource
type ResourceApplyError struct {
	Resource string // e.g. "file /etc/ntp.conf", "package nginx"
	Err      error
}

func (e *ResourceApplyError) Error() string {
	return fmt.Sprintf("failed to apply %s: %v", e.Resource, e.Err)
}

func (e *ResourceApplyError) Unwrap() error { return e.Err }

// NewApplyError wraps err as a ResourceApplyError for resource
func NewApplyError(resource string, err error) error {
	return &ResourceApplyError{Resource: resource, Err: err}
}

// ValidationFailure means desired state was written but the host did not
// reach observable health
type ValidationFailure struct {
	Check   string
	Message string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validation %s failed: %s", e.Check, e.Message)
}

// TransportError is a failed exchange with the coordination server
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err is or wraps a ConfigurationError
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsApply reports whether err is or wraps a ResourceApplyError
func IsApply(err error) bool {
	var target *ResourceApplyError
	return errors.As(err, &target)
}

// IsValidation reports whether err is or wraps a ValidationFailure
func IsValidation(err error) bool {
	var target *ValidationFailure
	return errors.As(err, &target)
}

// IsTransport reports whether err is or wraps a TransportError
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}
