package attendance

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a business failure on the wire.
type Code string

const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeNotFound       Code = "NOT_FOUND"
	CodeSessionExpired Code = "SESSION_EXPIRED"
	CodeAlreadyMarked  Code = "ALREADY_MARKED"
	CodeOutOfRange     Code = "OUT_OF_RANGE"
	CodeInternal       Code = "INTERNAL"
)

// FieldError points at one offending request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a business rule failure. Two errors match under errors.Is when
// their codes match, so the package-level values work as sentinels.
type Error struct {
	Code    Code
	Message string
	Fields  []FieldError
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound       = &Error{Code: CodeNotFound, Message: "session not found"}
	ErrSessionExpired = &Error{Code: CodeSessionExpired, Message: "session is not active or has expired"}
	ErrAlreadyMarked  = &Error{Code: CodeAlreadyMarked, Message: "attendance already marked for this session"}
	ErrOutOfRange     = &Error{Code: CodeOutOfRange, Message: "location is outside the allowed radius"}
)

// ErrDuplicateRecord is returned by a Store when the (session, student)
// uniqueness constraint rejects an insert.
var ErrDuplicateRecord = errors.New("duplicate attendance record")

// ErrUnknownReference is returned by a Store when a foreign key (subject or
// student) does not resolve.
var ErrUnknownReference = errors.New("unknown referenced entity")

func validationError(msg string, fields ...FieldError) *Error {
	return &Error{Code: CodeValidation, Message: msg, Fields: fields}
}

func notFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// CodeOf extracts the business code from err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps err to the status code the API answers with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation, CodeSessionExpired:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyMarked:
		return http.StatusConflict
	case CodeOutOfRange:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
