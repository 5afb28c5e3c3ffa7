package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the pipeline.
var (
	ErrIndexNotFound  = errors.New("index not found")
	ErrVectorCount    = errors.New("vector count does not match chunk count")
	ErrDimensionDrift = errors.New("vector dimension does not match index")
)

// ConfigError reports an invalid or inconsistent parameter. It is fatal for
// the operation that received it and must never be retried: re-running the
// same call with the same inputs cannot succeed.
type ConfigError struct {
	Param   string
	Detail  string
	Wrapped error
}

func (e *ConfigError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("config: %s: %s: %v", e.Param, e.Detail, e.Wrapped)
	}
	return fmt.Sprintf("config: %s: %s", e.Param, e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.Wrapped }

// NewConfigError creates a ConfigError for a named parameter.
func NewConfigError(param, detail string) *ConfigError {
	return &ConfigError{Param: param, Detail: detail}
}

// UpstreamError marks a failed call to an external dependency (embedding
// provider, vector index, generation model). It records which stage failed so
// callers can attribute the fault without parsing message text.
type UpstreamError struct {
	Stage Stage
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError wraps err as a failure of the given stage.
func NewUpstreamError(stage Stage, err error) *UpstreamError {
	return &UpstreamError{Stage: stage, Err: err}
}

// AsConfig reports whether err is (or wraps) a ConfigError.
func AsConfig(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AsUpstream reports whether err is (or wraps) an UpstreamError.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
