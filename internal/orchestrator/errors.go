package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks payloads rejected before any device was contacted.
	ErrValidation = errors.New("validation failed")
	// ErrDeviceCommunication marks a failed device capability call.
	ErrDeviceCommunication = errors.New("device communication failed")
)

// ValidationError describes a payload constraint violation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DeviceError carries the capability's reason for a failed operation.
type DeviceError struct {
	Op     Operation
	Reason string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s on devices failed: %s", e.Op, e.Reason)
}

func (e *DeviceError) Unwrap() error { return ErrDeviceCommunication }

// Reason returns the user-displayable text of err: the device reason for
// device failures, the message otherwise.
func Reason(err error) string {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Reason
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Message
	}
	return err.Error()
}
