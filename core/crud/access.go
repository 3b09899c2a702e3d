package crud

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/facet/core/dispatch"
	"github.com/artpar/facet/core/events"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/pkg/pending"
)

// call is one prepared operation. exec runs the already sanitized model query.
type call struct {
	op        manifest.Op
	event     string
	notFound  string
	exec      func(ctx context.Context) *pending.Result
	bypass    bool
	onSuccess dispatch.SuccessFunc
	onError   dispatch.ErrorFunc
}

// run executes c directly, or behind the access-check gate when an auth
// middleware is active and the resource checks access.
func (s *Service) run(ctx context.Context, c call) dispatch.Delivery {
	if c.bypass || !s.apiAuth.Load() || !s.doAccessCheck.Load() {
		return s.respond(ctx, c, s.execute(ctx, c))
	}
	return s.gate(ctx, c)
}

func (s *Service) execute(ctx context.Context, c call) *pending.Result {
	res := c.exec(ctx)
	go func() {
		outcome := "ok"
		if _, err := res.Await(context.Background()); err != nil {
			outcome = "error"
		}
		s.recorder.Operation(s.EventType(), c.op, outcome)
	}()
	return res
}

func (s *Service) respond(ctx context.Context, c call, res *pending.Result) dispatch.Delivery {
	return s.dispatcher.Respond(ctx, c.event, c.notFound, res, c.onSuccess, c.onError)
}

// gate emits an access check and defers the operation until it is resolved.
// The first decision wins; a check that is never answered, or a request that
// goes away, is denied once the access timeout elapses.
func (s *Service) gate(ctx context.Context, c call) dispatch.Delivery {
	action := events.AccessAction(s.EventType(), accessOp(c.op))
	outer := pending.New()

	var once sync.Once
	decide := func(allow bool, reason string) bool {
		decided := false
		once.Do(func() {
			decided = true
			s.recorder.AccessDecision(action, allow)

			if allow {
				res := s.execute(ctx, c)
				s.respond(ctx, c, res)
				res.Pipe(outer)
				return
			}

			// Denials go to the error callback or the error event even when
			// the success event has listeners.
			s.recorder.Operation(s.EventType(), c.op, "denied")
			s.logger.Warn().Str("action", action).Str("reason", reason).Msg("access denied")
			err := apierr.AccessDenied(reason)
			s.dispatcher.Fail(ctx, err, c.onError)
			pending.Rejected(err).Pipe(outer)
		})
		return decided
	}

	timer := time.AfterFunc(s.accessTimeout, func() {
		decide(false, "Access check timed out.")
	})
	go func() {
		select {
		case <-ctx.Done():
			decide(false, "Request cancelled before access was granted.")
		case <-outer.Done():
		}
	}()

	resolve := func(allow bool) {
		timer.Stop()
		if !decide(allow, apierr.MsgInsufficientPrivileges) {
			s.logger.Debug().Str("action", action).Msg("access check already resolved")
		}
	}

	if s.bus.ListenerCount(events.CheckAccess) == 0 {
		s.logger.Warn().Str("action", action).Msg("no authorizer subscribed")
		resolve(false)
	} else {
		s.bus.Publish(ctx, events.Event{
			Name:     events.CheckAccess,
			Resource: s.EventType(),
			Data:     events.AccessCheck{Action: action, Resolve: resolve},
		})
	}

	return dispatch.Delivery{Mode: dispatch.ModeDeferred, Result: outer}
}

// accessOp names an operation the way access actions do.
func accessOp(op manifest.Op) string {
	if op == manifest.OpRemove {
		return "delete"
	}
	return string(op)
}
