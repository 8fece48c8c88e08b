package controller

import (
	"errors"
	"fmt"
)

// ModelNotFoundError reports a request for a model id with no descriptor.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string { return "model not found: " + e.Model }

// IsModelNotFound reports whether err indicates a missing model id.
func IsModelNotFound(err error) bool {
	var mn *ModelNotFoundError
	return errors.As(err, &mn)
}

// NotSupportedError reports a capability the target model does not have.
type NotSupportedError struct {
	Model      string
	Capability Capability
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("model %s does not support %s", e.Model, e.Capability)
}

// IsNotSupported reports whether err indicates a capability mismatch.
func IsNotSupported(err error) bool {
	var ns *NotSupportedError
	return errors.As(err, &ns)
}

// InsufficientMemoryError reports that a model does not fit in device
// memory even after evicting every eligible resident model.
type InsufficientMemoryError struct {
	Model          string
	RequiredBytes  uint64
	AvailableBytes uint64
}

func (e *InsufficientMemoryError) Error() string {
	return fmt.Sprintf("insufficient device memory for %s: requires %d bytes, %d available",
		e.Model, e.RequiredBytes, e.AvailableBytes)
}

// IsInsufficientMemory reports whether err indicates memory exhaustion.
func IsInsufficientMemory(err error) bool {
	var im *InsufficientMemoryError
	return errors.As(err, &im)
}

// UpstreamError reports a transport failure talking to a resident backend.
type UpstreamError struct {
	Model string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("backend for %s: %v", e.Model, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err is a backend transport failure.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
