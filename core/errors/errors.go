// Package errors provides coded errors for the match service.
// The error is normally JSON encoded when it crosses the http layer.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	CodeUnknown            int32 = -1
	CodeInvalidParticipant int32 = 1001
	CodeUnknownRole        int32 = 1002
	CodeDuplicateTicket    int32 = 1003
	CodeNotFound           int32 = 1004

	// transient, the caller may retry
	CodeBackend  int32 = 2001
	CodeLockLost int32 = 2002

	// broken locking discipline, never retried
	CodeInvariantViolation int32 = 3001
)

type Error struct {
	Code   int32  `json:"code"`
	Detail string `json:"detail"`

	cause error
}

func (e *Error) Error() string {
	b, _ := json.Marshal(e)
	if e.cause == nil {
		return string(b)
	}
	return string(b) + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New generates a custom error.
func New(code int32, msg string) error {
	return &Error{
		Code:   code,
		Detail: msg,
	}
}

func Newf(code int32, format string, args ...any) error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap keeps err as the cause of a coded error. A nil err yields nil.
func Wrap(code int32, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:   code,
		Detail: msg,
		cause:  err,
	}
}

// Equal tries to compare errors
func Equal(err1 error, err2 error) bool {
	verr1, ok1 := As(err1)
	verr2, ok2 := As(err2)

	if ok1 != ok2 {
		return false
	}

	if !ok1 {
		return err1 == err2
	}

	return verr1.Code == verr2.Code
}

// FromError try to convert go error to *Error
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if verr, ok := As(err); ok {
		return verr
	}
	return &Error{
		Code:   CodeUnknown,
		Detail: err.Error(),
	}
}

// As finds the first error in err's chain that matches *Error
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var merr *Error
	if errors.As(err, &merr) {
		return merr, true
	}
	return nil, false
}

// Code returns the code of the first *Error in the chain, 0 for nil.
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	if verr, ok := As(err); ok {
		return verr.Code
	}
	return CodeUnknown
}

func IsTransient(err error) bool {
	switch Code(err) {
	case CodeBackend, CodeLockLost:
		return true
	}
	return false
}

func IsInvariantViolation(err error) bool {
	return Code(err) == CodeInvariantViolation
}
