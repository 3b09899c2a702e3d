package crud

import (
	"context"
	"strings"

	"github.com/artpar/facet/core/dispatch"
	"github.com/artpar/facet/core/events"
	"github.com/artpar/facet/domain/apierr"
	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/domain/query"
	"github.com/artpar/facet/pkg/pending"
	"github.com/artpar/facet/ports"
)

// Find returns every document matching q.Conditions. A non-empty q.ID looks
// up a single document by identity instead.
func (s *Service) Find(ctx context.Context, q *query.Query, onSuccess dispatch.SuccessFunc, onError dispatch.ErrorFunc) dispatch.Delivery {
	q = normalize(q)
	fields, err := s.cleanProjection(q.Fields)
	if err != nil {
		return s.fail(ctx, manifest.OpFind, err, onError)
	}
	if q.Options == nil {
		q.Options = map[string]any{}
	}

	var qb ports.QueryBuilder
	if q.ID != "" {
		cond := s.scope(ctx, map[string]any{query.IDField: q.ID})
		qb = s.model.FindOne(cond, fields, q.Options)
	} else {
		qb = s.model.Find(s.scope(ctx, q.Conditions), fields, q.Options)
	}

	return s.run(ctx, call{
		op:        manifest.OpFind,
		event:     s.responseEvent("data"),
		notFound:  s.manifest.ErrorMessage(manifest.MsgFind),
		exec:      qb.Exec,
		onSuccess: onSuccess,
		onError:   onError,
	})
}

// FindOne returns the first document matching q.Conditions.
func (s *Service) FindOne(ctx context.Context, q *query.Query, onSuccess dispatch.SuccessFunc, onError dispatch.ErrorFunc) dispatch.Delivery {
	if q == nil || q.Conditions == nil {
		return s.fail(ctx, manifest.OpFindOne, apierr.Validation(s.manifest.ErrorMessage(manifest.MsgConditions)), onError)
	}
	q = q.Clone()
	fields, err := s.cleanProjection(q.Fields)
	if err != nil {
		return s.fail(ctx, manifest.OpFindOne, err, onError)
	}
	if q.Options == nil {
		q.Options = map[string]any{}
	}
	if _, ok := q.Options["lean"]; !ok {
		q.Options["lean"] = false
	}

	qb := s.model.FindOne(s.scope(ctx, q.Conditions), fields, q.Options)
	for _, path := range q.Populate {
		qb = qb.Populate(path)
	}

	return s.run(ctx, call{
		op:        manifest.OpFindOne,
		event:     s.responseEvent("data"),
		notFound:  s.manifest.ErrorMessage(manifest.MsgFindOne),
		exec:      qb.Exec,
		bypass:    q.InitialAPIAuth,
		onSuccess: onSuccess,
		onError:   onError,
	})
}

// Update applies q.Updates to the documents matching q.Conditions and
// resolves to the affected count.
func (s *Service) Update(ctx context.Context, q *query.Query, onSuccess dispatch.SuccessFunc, onError dispatch.ErrorFunc) dispatch.Delivery {
	if q == nil || q.Conditions == nil {
		return s.fail(ctx, manifest.OpUpdate, apierr.Validation(s.manifest.ErrorMessage(manifest.MsgConditions)), onError)
	}
	if q.Updates == nil {
		return s.fail(ctx, manifest.OpUpdate, apierr.Validation(s.manifest.ErrorMessage(manifest.MsgUpdate)), onError)
	}
	q = q.Clone()
	if q.Options == nil {
		q.Options = map[string]any{}
	}

	updates, err := s.cleanWrite(q.Updates, manifest.VerbPUT)
	if err != nil {
		return s.fail(ctx, manifest.OpUpdate, err, onError)
	}
	if s.tenantID(ctx) != "" {
		updates = stripUpdateField(updates, s.tenant.FieldName())
	}

	qb := s.model.Update(s.scope(ctx, q.Conditions), updates, q.Options)

	return s.run(ctx, call{
		op:        manifest.OpUpdate,
		event:     s.responseEvent("update"),
		notFound:  s.manifest.ErrorMessage(manifest.MsgUpdateMatch),
		exec:      qb.Exec,
		onSuccess: onSuccess,
		onError:   onError,
	})
}

// Create stores data, stamped with the caller's tenant, and resolves to the
// stored document.
func (s *Service) Create(ctx context.Context, data map[string]any, onSuccess dispatch.SuccessFunc, onError dispatch.ErrorFunc) dispatch.Delivery {
	if len(data) == 0 {
		return s.fail(ctx, manifest.OpCreate, apierr.Validation(s.manifest.ErrorMessage(manifest.MsgCreate)), onError)
	}

	doc := query.CloneMap(data)
	if tenant := s.tenantID(ctx); tenant != "" {
		doc[s.tenant.FieldName()] = tenant
	}
	doc, err := s.cleanWrite(doc, manifest.VerbPOST)
	if err != nil {
		return s.fail(ctx, manifest.OpCreate, err, onError)
	}

	return s.run(ctx, call{
		op:        manifest.OpCreate,
		event:     s.responseEvent("create"),
		notFound:  s.manifest.ErrorMessage(manifest.MsgCreateMatch),
		exec:      func(ctx context.Context) *pending.Result { return s.model.Create(ctx, doc) },
		onSuccess: onSuccess,
		onError:   onError,
	})
}

// Remove deletes the documents matching conditions and resolves to the
// removed count. Empty conditions are rejected like absent ones.
func (s *Service) Remove(ctx context.Context, conditions map[string]any, onSuccess dispatch.SuccessFunc, onError dispatch.ErrorFunc) dispatch.Delivery {
	if conditions == nil {
		return s.fail(ctx, manifest.OpRemove, apierr.Validation(s.manifest.ErrorMessage(manifest.MsgRemove)), onError)
	}

	qb := s.model.Remove(s.scope(ctx, conditions))

	return s.run(ctx, call{
		op:        manifest.OpRemove,
		event:     s.responseEvent("remove"),
		notFound:  s.manifest.ErrorMessage(manifest.MsgRemoveMatch),
		exec:      qb.Exec,
		onSuccess: onSuccess,
		onError:   onError,
	})
}

func normalize(q *query.Query) *query.Query {
	if q == nil {
		return &query.Query{Conditions: map[string]any{}, Options: map[string]any{}}
	}
	q = q.Clone()
	if q.Conditions == nil {
		q.Conditions = map[string]any{}
	}
	return q
}

func (s *Service) scope(ctx context.Context, conditions map[string]any) map[string]any {
	return query.ScopeConditions(conditions, s.tenantID(ctx), s.tenant)
}

func (s *Service) cleanProjection(fields string) (string, error) {
	cleaned, err := query.CleanFields(fields, manifest.VerbGET, s.strip)
	if err != nil {
		return "", err
	}
	return cleaned.(string), nil
}

func (s *Service) cleanWrite(doc map[string]any, verb manifest.Verb) (map[string]any, error) {
	cleaned, err := query.CleanFields(doc, verb, s.strip)
	if err != nil {
		return nil, err
	}
	return cleaned.(map[string]any), nil
}

// stripUpdateField removes field, and any dotted path below it, from a plain
// update and from every operator block ($set, $unset, $inc, ...). Operator
// blocks left empty are dropped.
func stripUpdateField(updates map[string]any, field string) map[string]any {
	out := make(map[string]any, len(updates))
	for k, v := range updates {
		if !strings.HasPrefix(k, "$") {
			if !touches(k, field) {
				out[k] = v
			}
			continue
		}
		block, ok := v.(map[string]any)
		if !ok {
			out[k] = v
			continue
		}
		kept := make(map[string]any, len(block))
		for path, arg := range block {
			if !touches(path, field) {
				kept[path] = arg
			}
		}
		if len(kept) > 0 {
			out[k] = kept
		}
	}
	return out
}

func touches(path, field string) bool {
	return path == field || strings.HasPrefix(path, field+".")
}

func (s *Service) responseEvent(suffix string) string {
	return events.ResponseEvent(s.manifest.APIEventType(), suffix)
}

func (s *Service) fail(ctx context.Context, op manifest.Op, err error, onError dispatch.ErrorFunc) dispatch.Delivery {
	s.recorder.Operation(s.EventType(), op, "invalid")
	s.logger.Debug().Err(err).Str("op", string(op)).Msg("rejected query")
	return s.dispatcher.Fail(ctx, err, onError)
}
