/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors carries the control-plane error taxonomy. Every user-visible
// failure resolves to one stable Kind; transient kinds are the only ones the
// retry layers are allowed to recover.
package errors

import (
	stderrors "errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "Validation"
	KindInvalidState      Kind = "InvalidState"
	KindNotFound          Kind = "NotFound"
	KindCapacityExhausted Kind = "CapacityExhausted"
	KindTransient         Kind = "Transient"
	KindFatal             Kind = "Fatal"
)

type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func CapacityExhausted(format string, args ...any) *Error {
	return New(KindCapacityExhausted, format, args...)
}

func Transient(cause error, format string, args ...any) *Error {
	return Wrap(KindTransient, cause, format, args...)
}

func Fatal(cause error, format string, args ...any) *Error {
	return Wrap(KindFatal, cause, format, args...)
}

// KindOf extracts the Kind from err, unwrapping as needed. Errors outside the
// taxonomy report KindTransient so that callers default to retry-safe handling.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the retry layers may recover err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindCapacityExhausted:
		return true
	default:
		return false
	}
}
