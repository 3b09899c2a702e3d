package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/facet/core/dispatch"
	"github.com/artpar/facet/core/events"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/pkg/pending"
	"github.com/rs/zerolog"
)

const dataEvent = "facet:response:item:data"

func newDispatcher() (*dispatch.Dispatcher, *events.Bus) {
	bus := events.NewBus(zerolog.Nop())
	return dispatch.New(bus, zerolog.Nop(), nil), bus
}

func capture(bus *events.Bus, name string) <-chan events.Event {
	ch := make(chan events.Event, 4)
	bus.Subscribe(name, func(ctx context.Context, e events.Event) error {
		ch <- e
		return nil
	})
	return ch
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func TestRespond_CallbackWinsOverListeners(t *testing.T) {
	d, bus := newDispatcher()
	emitted := capture(bus, dataEvent)

	got := make(chan any, 1)
	delivery := d.Respond(context.Background(), dataEvent, "none", pending.Resolved("doc"),
		func(v any) { got <- v }, nil)

	if delivery.Mode != dispatch.ModeCallback {
		t.Errorf("mode = %v, want callback", delivery.Mode)
	}
	if delivery.Result != nil {
		t.Error("callback delivery should not return the result")
	}
	if v := receive(t, got); v != "doc" {
		t.Errorf("callback got %v", v)
	}
	select {
	case e := <-emitted:
		t.Errorf("bus received %v despite callback", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRespond_CallbackDefaultsErrorHandler(t *testing.T) {
	d, bus := newDispatcher()
	errs := capture(bus, events.ResponseError)

	d.Respond(context.Background(), dataEvent, "none", pending.Rejected(errors.New("db down")),
		func(v any) { t.Error("success callback called on rejection") }, nil)

	e := receive(t, errs)
	payload := e.Data.(events.ErrorResponse)
	if payload.Status != 400 {
		t.Errorf("status = %d, want 400", payload.Status)
	}
}

func TestRespond_BusListener(t *testing.T) {
	d, bus := newDispatcher()
	emitted := capture(bus, dataEvent)

	delivery := d.Respond(context.Background(), dataEvent, "none", pending.Resolved([]map[string]any{{"a": 1}}), nil, nil)

	if delivery.Mode != dispatch.ModeBus {
		t.Errorf("mode = %v, want bus", delivery.Mode)
	}
	if delivery.Result != nil {
		t.Error("bus delivery should not return the result")
	}
	if _, err := delivery.Await(context.Background()); !errors.Is(err, dispatch.ErrNotReturned) {
		t.Errorf("Await err = %v", err)
	}
	e := receive(t, emitted)
	if docs := e.Data.([]map[string]any); len(docs) != 1 {
		t.Errorf("emitted %v", e.Data)
	}
}

func TestRespond_BusNotFound(t *testing.T) {
	d, bus := newDispatcher()
	capture(bus, dataEvent)
	errs := capture(bus, events.ResponseError)

	d.Respond(context.Background(), dataEvent, "No item matched your criteria.", pending.Resolved(nil), nil, nil)

	payload := receive(t, errs).Data.(events.ErrorResponse)
	if payload.Status != 404 {
		t.Errorf("status = %d, want 404", payload.Status)
	}
	if payload.Message != "No item matched your criteria." {
		t.Errorf("message = %q", payload.Message)
	}
}

func TestRespond_BusZeroCountIsNotFound(t *testing.T) {
	d, bus := newDispatcher()
	capture(bus, "facet:response:item:update")
	errs := capture(bus, events.ResponseError)

	d.Respond(context.Background(), "facet:response:item:update", "nothing updated", pending.Resolved(0), nil, nil)

	if payload := receive(t, errs).Data.(events.ErrorResponse); payload.Status != 404 {
		t.Errorf("status = %d, want 404", payload.Status)
	}
}

func TestRespond_BusFieldErrors(t *testing.T) {
	d, bus := newDispatcher()
	capture(bus, dataEvent)
	errs := capture(bus, events.ResponseError)

	d.Respond(context.Background(), dataEvent, "none", pending.Rejected(&apierr.FieldErrors{
		Errors: []apierr.FieldError{{Message: "a"}, {Message: "b"}},
	}), nil, nil)

	payload := receive(t, errs).Data.(events.ErrorResponse)
	if len(payload.Errors) != 2 {
		t.Errorf("errors = %v, want 2 entries", payload.Errors)
	}
}

func TestRespond_ReturnedWhenNobodyListens(t *testing.T) {
	d, _ := newDispatcher()
	res := pending.Resolved("doc")

	delivery := d.Respond(context.Background(), dataEvent, "none", res, nil, nil)

	if delivery.Mode != dispatch.ModeReturned {
		t.Errorf("mode = %v, want returned", delivery.Mode)
	}
	if delivery.Result != res {
		t.Error("returned result should be the original pending result")
	}
}

func TestFail(t *testing.T) {
	d, bus := newDispatcher()
	errs := capture(bus, events.ResponseError)

	delivery := d.Fail(context.Background(), apierr.Validation("No query conditions were specified"), nil)

	payload := receive(t, errs).Data.(events.ErrorResponse)
	if payload.Status != 400 || payload.Message != "No query conditions were specified" {
		t.Errorf("payload = %+v", payload)
	}
	if _, err := delivery.Await(context.Background()); err == nil {
		t.Error("Fail should return a rejected result")
	}

	var called error
	delivery = d.Fail(context.Background(), errors.New("x"), func(err error) { called = err })
	if called == nil || delivery.Mode != dispatch.ModeCallback {
		t.Errorf("error callback not used: %v %v", called, delivery.Mode)
	}
}

func TestIsEmpty(t *testing.T) {
	var nilDoc map[string]any
	tests := []struct {
		v    any
		want bool
	}{
		{nil, true},
		{nilDoc, true},
		{0, true},
		{int64(0), true},
		{1, false},
		{map[string]any{}, false},
		{[]map[string]any{}, false},
	}
	for _, tt := range tests {
		if got := dispatch.IsEmpty(tt.v); got != tt.want {
			t.Errorf("IsEmpty(%#v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
