// Package jsonapi writes JSON:API error and meta documents.
// See https://jsonapi.org for the format.
package jsonapi

// ContentType is the JSON:API media type.
const ContentType = "application/vnd.api+json"

// Document is a top-level JSON:API document. Facet only ever writes errors
// or meta; successful CRUD results go out as plain JSON.
type Document struct {
	Errors []Error `json:"errors,omitempty"`
	Meta   Meta    `json:"meta,omitempty"`
}

// Error is a JSON:API error object.
type Error struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Meta   Meta   `json:"meta,omitempty"`
}

// Meta is free-form metadata.
type Meta map[string]any
