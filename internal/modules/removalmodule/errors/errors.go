// Package errors provides structured error handling for the removal module.
// It defines the error taxonomy of the pipeline, sentinel errors, and helpers
// for classifying an error as locally recoverable or fatal to a run.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies an error by the pipeline stage that produced it.
type ErrorType string

const (
	// ErrorTypeInputRejected indicates the validator refused a file.
	ErrorTypeInputRejected ErrorType = "input_rejected"
	// ErrorTypeInvalidArgument indicates a malformed request value, such as
	// a degenerate display rect.
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	// ErrorTypePreconditionFailed indicates processing was requested too early.
	ErrorTypePreconditionFailed ErrorType = "precondition_failed"
	// ErrorTypeCapabilityUnavailable indicates missing surface or encoder primitives.
	ErrorTypeCapabilityUnavailable ErrorType = "capability_unavailable"
	// ErrorTypePlayback indicates a seek or decode failure during a run.
	ErrorTypePlayback ErrorType = "playback"
	// ErrorTypeEncoding indicates the encoder could not finalize the asset.
	ErrorTypeEncoding ErrorType = "encoding"
	// ErrorTypeState indicates an operation that is invalid in the current session state.
	ErrorTypeState ErrorType = "state"
	// ErrorTypeNotFound indicates an unknown session or asset.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeInternal indicates internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Reason narrows an ErrorType to the specific check that failed.
type Reason string

const (
	ReasonType     Reason = "type"
	ReasonSize     Reason = "size"
	ReasonDuration Reason = "duration"
	ReasonNoMasks  Reason = "no_masks"
	ReasonEncoder  Reason = "encoder"
	ReasonSeek     Reason = "seek"
	ReasonDecode   Reason = "decode"
	ReasonFinalize Reason = "finalize"
)

// Sentinel errors for common scenarios
var (
	// ErrUnsupportedType indicates the input is not a video
	ErrUnsupportedType = errors.New("input is not a video")

	// ErrFileTooLarge indicates the input exceeds the byte limit
	ErrFileTooLarge = errors.New("input exceeds size limit")

	// ErrDurationExceeded indicates the probed duration exceeds the limit
	ErrDurationExceeded = errors.New("input exceeds duration limit")

	// ErrNoMasks indicates processing was started without any committed mask
	ErrNoMasks = errors.New("no masks authored")

	// ErrEncoderUnavailable indicates the encoder binary or codec is missing
	ErrEncoderUnavailable = errors.New("encoder unavailable")

	// ErrSeekFailed indicates the source could not be rewound
	ErrSeekFailed = errors.New("seek failed")

	// ErrDecodeFailed indicates a frame could not be decoded
	ErrDecodeFailed = errors.New("decode failed")

	// ErrFinalizeFailed indicates the encoder failed while flushing
	ErrFinalizeFailed = errors.New("finalize failed")

	// ErrInvalidState indicates a session operation in the wrong lifecycle state
	ErrInvalidState = errors.New("invalid session state")

	// ErrSessionNotFound indicates a session ID doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrAssetNotFound indicates a content hash doesn't exist in storage
	ErrAssetNotFound = errors.New("asset not found")

	// ErrCancelled indicates a run was torn down before completion
	ErrCancelled = errors.New("operation cancelled")

	// ErrTimeout indicates a run exceeded its wall-clock budget
	ErrTimeout = errors.New("operation timed out")

	// ErrSessionLimit indicates the manager is at its session capacity
	ErrSessionLimit = errors.New("session limit reached")

	// ErrInvalidGeometry indicates a display rect with no area.
	ErrInvalidGeometry = errors.New("invalid display geometry")

	// ErrInsufficientSpace indicates the content store is below its free-space floor
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// RemovalError provides structured error information with context
type RemovalError struct {
	Type      ErrorType              // Error classification
	Reason    Reason                 // Specific failed check, may be empty
	Op        string                 // Operation that failed (e.g., "validate", "decode_frame")
	SessionID string                 // Related session ID if applicable
	Err       error                  // Underlying error
	Details   map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *RemovalError) Error() string {
	kind := string(e.Type)
	if e.Reason != "" {
		kind += "{" + string(e.Reason) + "}"
	}
	if e.SessionID != "" {
		return fmt.Sprintf("%s error in %s for session %s: %v", kind, e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", kind, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *RemovalError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for sentinel errors
func (e *RemovalError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new RemovalError
func New(errType ErrorType, reason Reason, op string, err error) *RemovalError {
	return &RemovalError{
		Type:    errType,
		Reason:  reason,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithSession adds session context to the error
func (e *RemovalError) WithSession(sessionID string) *RemovalError {
	e.SessionID = sessionID
	return e
}

// WithDetail adds a key-value detail to the error
func (e *RemovalError) WithDetail(key string, value interface{}) *RemovalError {
	e.Details[key] = value
	return e
}

// IsFatal reports whether the error ends the current run. Fatal errors move
// the session to Failed and release every held resource.
func (e *RemovalError) IsFatal() bool {
	switch e.Type {
	case ErrorTypePlayback, ErrorTypeEncoding, ErrorTypeCapabilityUnavailable, ErrorTypeInternal:
		return true
	}
	return false
}

// IsRecoverable reports whether the session survives the error unchanged.
func (e *RemovalError) IsRecoverable() bool {
	return !e.IsFatal()
}

// Error creation helpers

// InputRejected creates a validator rejection
func InputRejected(reason Reason, op string, err error) *RemovalError {
	return New(ErrorTypeInputRejected, reason, op, err)
}

// InvalidArgument creates a malformed-request error
func InvalidArgument(op string, err error) *RemovalError {
	return New(ErrorTypeInvalidArgument, "", op, err)
}

// PreconditionFailed creates a precondition error
func PreconditionFailed(reason Reason, op string, err error) *RemovalError {
	return New(ErrorTypePreconditionFailed, reason, op, err)
}

// CapabilityUnavailable creates a capability error
func CapabilityUnavailable(op string, err error) *RemovalError {
	return New(ErrorTypeCapabilityUnavailable, ReasonEncoder, op, err)
}

// PlaybackError creates a seek or decode error
func PlaybackError(reason Reason, op string, err error) *RemovalError {
	return New(ErrorTypePlayback, reason, op, err)
}

// EncodingError creates an encoder finalize error
func EncodingError(op string, err error) *RemovalError {
	return New(ErrorTypeEncoding, ReasonFinalize, op, err)
}

// StateError creates an invalid-state error
func StateError(op string, err error) *RemovalError {
	return New(ErrorTypeState, "", op, err)
}

// NotFoundError creates a lookup error
func NotFoundError(op string, err error) *RemovalError {
	return New(ErrorTypeNotFound, "", op, err)
}

// InternalError creates an internal system error
func InternalError(op string, err error) *RemovalError {
	return New(ErrorTypeInternal, "", op, err)
}

// Wrap wraps an error with operation context if it's not already a RemovalError
func Wrap(err error, errType ErrorType, op string) error {
	if err == nil {
		return nil
	}

	var rErr *RemovalError
	if errors.As(err, &rErr) {
		return err
	}

	return New(errType, "", op, err)
}

// IsFatal reports whether err is a RemovalError that ends the current run.
// Errors outside the taxonomy are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var rErr *RemovalError
	if errors.As(err, &rErr) {
		return rErr.IsFatal()
	}
	return true
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var rErr *RemovalError
	if errors.As(err, &rErr) {
		return rErr.Type
	}
	return ErrorTypeInternal
}

// GetReason extracts the reason from an error
func GetReason(err error) Reason {
	var rErr *RemovalError
	if errors.As(err, &rErr) {
		return rErr.Reason
	}
	return ""
}

// GetOperation extracts the operation from an error
func GetOperation(err error) string {
	var rErr *RemovalError
	if errors.As(err, &rErr) {
		return rErr.Op
	}
	return "unknown"
}

// GetDetails extracts error details
func GetDetails(err error) map[string]interface{} {
	var rErr *RemovalError
	if errors.As(err, &rErr) {
		return rErr.Details
	}
	return nil
}
