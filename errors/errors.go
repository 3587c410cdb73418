// Package errors is the error package used throughout flaked.
//
// It re-exports github.com/cockroachdb/errors so every error carries a stack
// trace and can be decorated with operator hints and details:
//
//	if err := client.Upload(ctx, files, name); err != nil {
//	    return errors.Wrapf(err, "upload to %s failed", host)
//	}
//
//	return errors.WithHint(err, "check settings.sftp.host and port")
//
// The sentinels below classify errors for the control layer. Wrap them to add
// context; test for them with Is or the IsXxxError helpers.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// Operator-facing decoration
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	CombineErrors      = crdb.CombineErrors
)

// Inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

var (
	// ErrNotFound indicates an unknown instrument, job or log file.
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates a malformed control request or configuration.
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates the request collides with current state,
	// e.g. a run for the same job is already in flight.
	ErrConflict = New("conflict")
)

// IsNotFoundError reports whether err is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError reports whether err is or wraps ErrInvalidRequest.
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsConflictError reports whether err is or wraps ErrConflict.
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message.
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// NewConflictError creates a conflict error with a formatted message.
func NewConflictError(format string, args ...interface{}) error {
	return Wrap(ErrConflict, Newf(format, args...).Error())
}

// WrapInvalidRequest marks err as an invalid-request error. The original chain,
// including hints, is preserved.
func WrapInvalidRequest(err error, context string) error {
	if err == nil {
		return nil
	}
	return Wrap(crdb.Mark(err, ErrInvalidRequest), context)
}
