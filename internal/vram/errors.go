package vram

import (
	"errors"
	"fmt"
)

// EstimationFailedError reports a failed or malformed memory estimate for
// a model.
type EstimationFailedError struct {
	Model string
	Err   error
}

func (e *EstimationFailedError) Error() string {
	return fmt.Sprintf("memory estimation failed for %s: %v", e.Model, e.Err)
}

func (e *EstimationFailedError) Unwrap() error { return e.Err }

// IsEstimationFailed reports whether err came from the estimation tool.
func IsEstimationFailed(err error) bool {
	var ef *EstimationFailedError
	return errors.As(err, &ef)
}

// QueryFailedError reports a failed or malformed device memory query.
type QueryFailedError struct {
	Device int
	Err    error
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("device %d memory query failed: %v", e.Device, e.Err)
}

func (e *QueryFailedError) Unwrap() error { return e.Err }

// IsQueryFailed reports whether err came from the device monitor tool.
func IsQueryFailed(err error) bool {
	var qf *QueryFailedError
	return errors.As(err, &qf)
}
