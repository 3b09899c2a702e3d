// Package respond answers HTTP requests from response events. It listens on
// every "facet:response:" event and writes the payload to the request carried
// by the publisher's context, if that request has not been answered yet.
package respond

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/artpar/facet/core/dispatch"
	"github.com/artpar/facet/core/events"
	"github.com/artpar/facet/core/nodestack"
	"github.com/artpar/facet/pkg/jsonapi"
	"github.com/artpar/facet/ports"
	"github.com/rs/zerolog"
)

// Responder writes response events back to waiting requests.
type Responder struct {
	logger zerolog.Logger
	unsub  func()
}

// New subscribes a responder to bus.
func New(bus ports.Bus, logger zerolog.Logger) *Responder {
	r := &Responder{logger: logger.With().Str("component", "responder").Logger()}
	r.unsub = bus.Subscribe(events.ResponsePrefix+"*", r.handle)
	return r
}

// Close unsubscribes the responder.
func (r *Responder) Close() {
	if r.unsub != nil {
		r.unsub()
	}
}

func (r *Responder) handle(ctx context.Context, ev events.Event) error {
	ns, ok := nodestack.FromContext(ctx)
	if !ok || ns.Response == nil {
		r.logger.Debug().Str("event", ev.Name).Msg("no request to answer")
		return nil
	}
	release, ok := ns.Claim()
	if !ok {
		r.logger.Debug().Str("event", ev.Name).Msg("request already answered")
		return nil
	}
	defer release()

	if ev.Name == events.ResponseError {
		WriteErrorResponse(ns.Response, ev.Data)
		return nil
	}
	return WriteData(ns.Response, StatusFor(ev.Name), ev.Data)
}

// StatusFor returns the status of a success event: 201 for creates, else 200.
func StatusFor(event string) int {
	if strings.HasSuffix(event, ":create") {
		return http.StatusCreated
	}
	return http.StatusOK
}

// WriteData writes data as a JSON body.
func WriteData(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes an error payload as a JSON:API error document.
// Unknown payloads are reported as internal errors.
func WriteErrorResponse(w http.ResponseWriter, payload any) {
	var resp events.ErrorResponse
	switch v := payload.(type) {
	case events.ErrorResponse:
		resp = v
	case *events.ErrorResponse:
		resp = *v
	case error:
		resp = dispatch.NormalizeError(v)
	default:
		resp = dispatch.NormalizeError(errors.New("malformed error response"))
		resp.Status = http.StatusInternalServerError
	}
	if resp.Status == 0 {
		resp.Status = http.StatusBadRequest
	}
	jsonapi.WriteError(w, jsonapi.ErrFromItems(resp.Status, resp.Message, resp.Errors)...)
}
