package jsonapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/artpar/facet/domain/apierr"
)

// ErrorBuilder provides a fluent API for building Error objects.
type ErrorBuilder struct {
	err Error
}

// NewError creates a new ErrorBuilder with the given status, code, and title.
func NewError(status int, code, title string) *ErrorBuilder {
	return &ErrorBuilder{
		err: Error{
			Status: strconv.Itoa(status),
			Code:   code,
			Title:  title,
		},
	}
}

// Detail sets the error detail message.
func (b *ErrorBuilder) Detail(detail string) *ErrorBuilder {
	b.err.Detail = detail
	return b
}

// Detailf sets the error detail message with formatting.
func (b *ErrorBuilder) Detailf(format string, args ...any) *ErrorBuilder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

// Meta adds metadata to the error.
func (b *ErrorBuilder) Meta(key string, value any) *ErrorBuilder {
	if b.err.Meta == nil {
		b.err.Meta = make(Meta)
	}
	b.err.Meta[key] = value
	return b
}

// Build returns the constructed Error.
func (b *ErrorBuilder) Build() Error {
	return b.err
}

// StatusCode returns the HTTP status code as an int.
func (e Error) StatusCode() int {
	code, _ := strconv.Atoi(e.Status)
	return code
}

// ErrNotFound creates a 404 Not Found error.
func ErrNotFound(detail string) Error {
	return NewError(http.StatusNotFound, "not_found", "Not Found").Detail(detail).Build()
}

// ErrMethodNotAllowed creates a 405 Method Not Allowed error.
func ErrMethodNotAllowed(method string, allowed []string) Error {
	b := NewError(http.StatusMethodNotAllowed, "method_not_allowed", "Method Not Allowed").
		Meta("requested_method", method)
	if len(allowed) == 0 {
		return b.Detailf("The %s method is not allowed for this resource", method).Build()
	}
	return b.Detailf("%s is not supported. Use one of: %s", method, strings.Join(allowed, ", ")).
		Meta("allowed_methods", allowed).
		Build()
}

// ErrInternal creates a 500 Internal Server Error.
func ErrInternal(detail string) Error {
	if detail == "" {
		detail = "An internal error occurred"
	}
	return NewError(http.StatusInternalServerError, "internal_error", "Internal Server Error").Detail(detail).Build()
}

// ErrGatewayTimeout creates a 504 error for a request nobody answered.
func ErrGatewayTimeout(detail string) Error {
	return NewError(http.StatusGatewayTimeout, apierr.KindTimeout, "Gateway Timeout").Detail(detail).Build()
}

// ErrFromItems converts a normalized pipeline error list into error objects
// sharing status, one per item with the item kind as code. An empty list
// yields a single error carrying message.
func ErrFromItems(status int, message string, items []apierr.Item) []Error {
	title := http.StatusText(status)
	if title == "" {
		title = "Error"
	}
	if len(items) == 0 {
		return []Error{NewError(status, apierr.KindGeneral, title).Detail(message).Build()}
	}
	out := make([]Error, 0, len(items))
	for _, it := range items {
		code := it.Kind
		if code == "" {
			code = apierr.KindGeneral
		}
		out = append(out, NewError(status, code, title).Detail(it.Message).Build())
	}
	return out
}
