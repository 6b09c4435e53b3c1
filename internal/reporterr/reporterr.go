// Copyright 2025 James Ross
package reporterr

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy from the error handling design.
type Kind string

const (
	KindReadEndpointIsPrimary         Kind = "ReadEndpointIsPrimary"
	KindSourceCollectionNotAllowed    Kind = "SourceCollectionNotAllowed"
	KindArchiveRequiresIncludeFormats Kind = "ArchiveRequiresIncludeFormats"
	KindIncludeFormatsNotAllowed      Kind = "IncludeFormatsNotAllowed"
	KindDuplicateIncludeFormats       Kind = "DuplicateIncludeFormats"
	KindCompressionArchiveConflict    Kind = "CompressionArchiveConflict"
	KindReduceValidation              Kind = "ReduceValidation"
	KindReduceCardinalityExceeded      Kind = "ReduceCardinalityExceeded"
	KindDocumentRowLimitExceeded       Kind = "DocumentRowLimitExceeded"
	KindSnapshotSizeExceeded           Kind = "SnapshotSizeExceeded"
	KindIntegrationRequiredFailure     Kind = "IntegrationRequiredFailure"
	KindIntegrationOptionalFailure     Kind = "IntegrationOptionalFailure"
	KindNotFound                       Kind = "NotFound"
	KindInvalidCron                    Kind = "InvalidCron"
)

// Error is the typed error wrapper threaded through the job processor and
// persisted, via Message, onto the terminal job document.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against a bare Kind sentinel created by New.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs a reporterr.Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a reporterr.Error that attributes an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err is, or wraps, a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsRetryable reports whether the queue should apply its retry/backoff policy
// to this error. Validation and planning failures are not productively
// retryable without a configuration or request change.
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return true
	}
	switch k {
	case KindIntegrationRequiredFailure:
		return true
	case KindReadEndpointIsPrimary, KindSourceCollectionNotAllowed,
		KindArchiveRequiresIncludeFormats, KindIncludeFormatsNotAllowed,
		KindDuplicateIncludeFormats, KindCompressionArchiveConflict,
		KindReduceValidation, KindReduceCardinalityExceeded,
		KindDocumentRowLimitExceeded, KindSnapshotSizeExceeded,
		KindNotFound, KindInvalidCron:
		return false
	default:
		return false
	}
}

// IsPermanent reports whether the error reflects a condition that will not
// resolve itself on retry without an external change (config, request, data).
func IsPermanent(err error) bool {
	return !IsRetryable(err)
}

// ErrorCode returns a stable code for the error, suitable for the job
// document's error.code field: the Kind name (e.g. "ReduceCardinalityExceeded")
// for a typed error, or "UNKNOWN_ERROR" otherwise.
func ErrorCode(err error) string {
	k, ok := KindOf(err)
	if !ok {
		return "UNKNOWN_ERROR"
	}
	return string(k)
}
