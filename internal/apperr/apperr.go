package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a client-facing failure with an HTTP status and a stable code.
type Error struct {
	Status  int
	Code    string
	Message string
	Title   string
	Detail  string
	Err     error
}

func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message, Title: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail returns a copy carrying detail text.
func (e *Error) WithDetail(detail string) *Error {
	c := *e
	c.Detail = detail
	return &c
}

type item struct {
	Message string  `json:"message"`
	Status  int     `json:"status"`
	Code    string  `json:"code"`
	Title   string  `json:"title"`
	Detail  *string `json:"detail"`
}

// Body is the JSON error document: {errors: [{message, status, code, title, detail}]}.
func (e *Error) Body() map[string]any {
	it := item{
		Message: e.Message,
		Status:  e.Status,
		Code:    e.Code,
		Title:   e.Title,
	}
	if e.Detail != "" {
		d := e.Detail
		it.Detail = &d
	}
	return map[string]any{"errors": []item{it}}
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, "unauthorized", message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, "forbidden", message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, "not found", message)
}

// Invalid wraps a validation failure. An *Error already in err's chain
// keeps its own status and code.
func Invalid(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	e := New(http.StatusBadRequest, "invalid", err.Error())
	e.Err = err
	return e
}

// From converts any error into an *Error, defaulting to a 500.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	e := New(http.StatusInternalServerError, "internal error", "Internal server error")
	e.Err = err
	return e
}
