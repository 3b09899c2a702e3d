// Package apierr defines the error taxonomy of the CRUD pipeline.
//
// Configuration errors abort setup. Every other error carries an HTTP-style
// status and a kind and is delivered through the response dispatcher.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kinds reported in normalized error lists.
const (
	KindGeneral    = "GeneralError"
	KindValidation = "ValidationError"
	KindNotFound   = "NotFoundError"
	KindAccess     = "AccessError"
	KindTimeout    = "TimeoutError"
)

// MsgInsufficientPrivileges is reported when an access check denies an action.
const MsgInsufficientPrivileges = "Insufficient privileges to perform this action."

// StatusError is implemented by errors that map to a response status.
type StatusError interface {
	error
	Status() int
	Kind() string
}

// ConfigError reports missing or malformed manifest wiring.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "configuration: " + e.Msg }

// Configf builds a ConfigError.
func Configf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// Error is a recoverable pipeline error.
type Error struct {
	Code    int
	Name    string
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Status() int   { return e.Code }
func (e *Error) Kind() string  { return e.Name }

// Validation builds a 400 error for missing or malformed input.
func Validation(msg string) *Error {
	return &Error{Code: http.StatusBadRequest, Name: KindValidation, Message: msg}
}

// NotFound builds a 404 error.
func NotFound(msg string) *Error {
	return &Error{Code: http.StatusNotFound, Name: KindNotFound, Message: msg}
}

// AccessDenied builds a 401 error.
func AccessDenied(msg string) *Error {
	if msg == "" {
		msg = MsgInsufficientPrivileges
	}
	return &Error{Code: http.StatusUnauthorized, Name: KindAccess, Message: msg}
}

// Timeout builds a 504 error for requests that were never answered.
func Timeout(msg string) *Error {
	return &Error{Code: http.StatusGatewayTimeout, Name: KindTimeout, Message: msg}
}

// FieldError is one entry of a multi-field validation failure.
type FieldError struct {
	Field   string
	Message string
	Name    string
}

// FieldErrors is a multi-field validation failure raised by a model.
type FieldErrors struct {
	Name   string
	Errors []FieldError
}

func (e *FieldErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", e.Errors[0].Message)
}

func (e *FieldErrors) Status() int { return http.StatusBadRequest }

func (e *FieldErrors) Kind() string {
	if e.Name != "" {
		return e.Name
	}
	return KindValidation
}

// Item is one normalized entry of an error list.
type Item struct {
	Message string `json:"message"`
	Kind    string `json:"type"`
}

// StatusOf returns the status carried by err, or def.
func StatusOf(err error, def int) int {
	var se StatusError
	if errors.As(err, &se) && se.Status() != 0 {
		return se.Status()
	}
	return def
}

// Normalize flattens err into a list of {message, kind} entries.
// Multi-field errors contribute one entry per field.
func Normalize(err error) []Item {
	if err == nil {
		return nil
	}

	var fe *FieldErrors
	if errors.As(err, &fe) && len(fe.Errors) > 0 {
		items := make([]Item, 0, len(fe.Errors))
		for _, f := range fe.Errors {
			kind := f.Name
			if kind == "" {
				kind = fe.Kind()
			}
			items = append(items, Item{Message: f.Message, Kind: kind})
		}
		return items
	}

	kind := KindGeneral
	var se StatusError
	if errors.As(err, &se) && se.Kind() != "" {
		kind = se.Kind()
	}
	return []Item{{Message: err.Error(), Kind: kind}}
}
