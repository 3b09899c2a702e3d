package jsonapi

import (
	"encoding/json"
	"net/http"
	"strings"
)

// WriteDocument writes doc with the JSON:API content type.
func WriteDocument(w http.ResponseWriter, status int, doc Document) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(doc)
}

// WriteError writes one or more errors. The HTTP status comes from the
// first error; no errors at all is a 500.
func WriteError(w http.ResponseWriter, errs ...Error) {
	if len(errs) == 0 {
		errs = []Error{ErrInternal("")}
	}

	status := errs[0].StatusCode()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteDocument(w, status, NewErrorDocument(errs...))
}

// WriteMeta writes a meta-only document.
func WriteMeta(w http.ResponseWriter, status int, meta Meta) {
	WriteDocument(w, status, NewMetaDocument(meta))
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, ErrNotFound(detail))
}

// WriteMethodNotAllowed writes a 405 and sets the Allow header.
func WriteMethodNotAllowed(w http.ResponseWriter, method string, allowed []string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	WriteError(w, ErrMethodNotAllowed(method, allowed))
}

func WriteInternalError(w http.ResponseWriter, detail string) {
	WriteError(w, ErrInternal(detail))
}
