// Package dispatch delivers operation outcomes.
//
// Exactly one delivery strategy is used per call, chosen by precedence:
// a caller-supplied success callback, then listeners on the bus for the
// result event, then handing the pending result back to the caller.
package dispatch

import (
	"context"
	"errors"

	"github.com/artpar/facet/core/events"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/pkg/pending"
	"github.com/artpar/facet/ports"
	"github.com/rs/zerolog"
)

// Mode is the delivery strategy chosen for one call.
type Mode int

const (
	// ModeReturned hands the pending result to the caller.
	ModeReturned Mode = iota
	// ModeCallback delivers through the caller's callbacks.
	ModeCallback
	// ModeBus emits the outcome on the bus.
	ModeBus
	// ModeDeferred means the strategy is chosen once an access check
	// resolves; Result settles with the eventual outcome.
	ModeDeferred
)

func (m Mode) String() string {
	switch m {
	case ModeReturned:
		return "returned"
	case ModeCallback:
		return "callback"
	case ModeBus:
		return "bus"
	case ModeDeferred:
		return "deferred"
	}
	return "unknown"
}

// SuccessFunc receives a resolved value.
type SuccessFunc func(data any)

// ErrorFunc receives a rejection.
type ErrorFunc func(err error)

// Delivery is the explicit outcome of an operation call.
type Delivery struct {
	Mode Mode

	// Result is set for ModeReturned and ModeDeferred, and for synchronous
	// validation failures.
	Result *pending.Result
}

// ErrNotReturned is returned by Await when the outcome was delivered elsewhere.
var ErrNotReturned = errors.New("result was delivered by callback or bus")

// Await waits for a returned or deferred result.
func (d Delivery) Await(ctx context.Context) (any, error) {
	if d.Result == nil {
		return nil, ErrNotReturned
	}
	return d.Result.Await(ctx)
}

// Dispatcher routes outcomes to callbacks, the bus or the caller.
type Dispatcher struct {
	bus      ports.Bus
	logger   zerolog.Logger
	recorder ports.Recorder
}

// New creates a dispatcher.
func New(bus ports.Bus, logger zerolog.Logger, recorder ports.Recorder) *Dispatcher {
	if recorder == nil {
		recorder = ports.NopRecorder{}
	}
	return &Dispatcher{bus: bus, logger: logger, recorder: recorder}
}

// Respond delivers res. notFound is reported when res resolves to nothing.
func (d *Dispatcher) Respond(ctx context.Context, event, notFound string, res *pending.Result, onSuccess SuccessFunc, onError ErrorFunc) Delivery {
	var delivery Delivery

	switch {
	case onSuccess != nil:
		if onError == nil {
			onError = d.defaultError(ctx)
		}
		res.Then(onSuccess, onError)
		delivery = Delivery{Mode: ModeCallback}

	case d.bus.ListenerCount(event) > 0:
		res.Then(d.defaultSuccess(ctx, event, notFound), d.defaultError(ctx))
		delivery = Delivery{Mode: ModeBus}

	default:
		delivery = Delivery{Mode: ModeReturned, Result: res}
	}

	d.recorder.Delivery(delivery.Mode.String())
	d.logger.Debug().
		Str("event", event).
		Str("mode", delivery.Mode.String()).
		Msg("dispatching result")

	return delivery
}

// Fail reports a synchronous validation failure. The caller's error callback
// receives it if given; otherwise it is emitted on the bus. Either way a
// rejected result is returned.
func (d *Dispatcher) Fail(ctx context.Context, err error, onError ErrorFunc) Delivery {
	if onError != nil {
		onError(err)
		d.recorder.Delivery(ModeCallback.String())
		return Delivery{Mode: ModeCallback, Result: pending.Rejected(err)}
	}
	d.EmitError(ctx, err)
	d.recorder.Delivery(ModeReturned.String())
	return Delivery{Mode: ModeReturned, Result: pending.Rejected(err)}
}

// EmitError publishes err as a normalized error response.
func (d *Dispatcher) EmitError(ctx context.Context, err error) {
	d.bus.Publish(ctx, events.Event{
		Name: events.ResponseError,
		Data: NormalizeError(err),
	})
}

// NormalizeError converts err into the error response payload.
// Errors without a status default to 400.
func NormalizeError(err error) events.ErrorResponse {
	return events.ErrorResponse{
		Status:  apierr.StatusOf(err, 400),
		Message: err.Error(),
		Errors:  apierr.Normalize(err),
	}
}

func (d *Dispatcher) defaultSuccess(ctx context.Context, event, notFound string) SuccessFunc {
	return func(data any) {
		if IsEmpty(data) {
			d.EmitError(ctx, apierr.NotFound(notFound))
			return
		}
		d.bus.Publish(ctx, events.Event{Name: event, Data: data})
	}
}

func (d *Dispatcher) defaultError(ctx context.Context) ErrorFunc {
	return func(err error) {
		d.logger.Debug().Err(err).Msg("operation failed")
		d.EmitError(ctx, err)
	}
}

// IsEmpty reports whether a resolved value means "nothing matched":
// nil, a nil document, or a zero affected count.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case map[string]any:
		return x == nil
	case int:
		return x == 0
	case int64:
		return x == 0
	}
	return false
}
