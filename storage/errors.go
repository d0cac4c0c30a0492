// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"errors"
	"fmt"
)

// Code identifies a domain error. The set is closed; adapters and handlers
// never invent codes outside it.
type Code string

// The closed error-code set.
const (
	CodeNotFound     Code = "NotFound"
	CodeConflict     Code = "Conflict"
	CodeUnauthorized Code = "Unauthorized"
	CodeForbidden    Code = "Forbidden"
	CodeValidation   Code = "ValidationError"
	CodeRateLimited  Code = "RateLimited"
	CodeCapability   Code = "CapabilityNotSupported"
	CodeTimeout      Code = "Timeout"
	CodeDatabase     Code = "DatabaseError"
	CodeInternal     Code = "Internal"
)

// Error is a domain error carrying one of the closed codes. Adapter results
// flow upward unchanged; handlers attach context to the message without
// changing the code.
type Error struct {
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a domain error with the given code.
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapCode attaches context to a domain error without changing its code.
// Non-domain errors are classified as Internal.
func WrapCode(err error, format string, args ...interface{}) *Error {
	code := ErrCode(err)
	prefix := fmt.Sprintf(format, args...)
	var msg string
	var domain *Error
	if errors.As(err, &domain) {
		msg = domain.Message
	} else if err != nil {
		msg = err.Error()
	}
	return &Error{Code: code, Message: prefix + ": " + msg}
}

// ErrCode extracts the domain code from an error chain. Unclassified errors
// report Internal.
func ErrCode(err error) Code {
	var domain *Error
	if errors.As(err, &domain) {
		return domain.Code
	}
	return CodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && ErrCode(err) == code
}

// ErrNotFound creates a NotFound error for an entity/id pair.
func ErrNotFound(entity, id string) *Error {
	return NewError(CodeNotFound, "%s %q not found", entity, id)
}

// ErrTxDone is returned when a terminal transaction scope is reused.
func ErrTxDone() *Error {
	return NewError(CodeDatabase, "transaction already finished")
}
