package query

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Match reports whether doc satisfies conditions.
//
// Supported operators: $and, $or, $nor at the top level; $eq, $ne, $in, $nin,
// $exists, $gt, $gte, $lt, $lte per field. Dotted keys walk nested documents.
func Match(doc, conditions map[string]any) bool {
	for key, cond := range conditions {
		switch key {
		case "$and":
			for _, c := range toClauses(cond) {
				m, ok := c.(map[string]any)
				if !ok || !Match(doc, m) {
					return false
				}
			}
		case "$or":
			clauses := toClauses(cond)
			if len(clauses) == 0 {
				continue
			}
			matched := false
			for _, c := range clauses {
				if m, ok := c.(map[string]any); ok && Match(doc, m) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case "$nor":
			for _, c := range toClauses(cond) {
				if m, ok := c.(map[string]any); ok && Match(doc, m) {
					return false
				}
			}
		default:
			val, exists := lookup(doc, key)
			if !matchField(val, exists, cond) {
				return false
			}
		}
	}
	return true
}

func matchField(val any, exists bool, cond any) bool {
	ops, ok := cond.(map[string]any)
	if !ok || !isOperatorMap(ops) {
		return exists && equal(val, cond)
	}

	for op, arg := range ops {
		switch op {
		case "$eq":
			if !exists || !equal(val, arg) {
				return false
			}
		case "$ne":
			if exists && equal(val, arg) {
				return false
			}
		case "$in":
			if !exists || !inList(val, arg) {
				return false
			}
		case "$nin":
			if exists && inList(val, arg) {
				return false
			}
		case "$exists":
			want, _ := arg.(bool)
			if exists != want {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !exists {
				return false
			}
			c, ok := compare(val, arg)
			if !ok {
				return false
			}
			switch op {
			case "$gt":
				if c <= 0 {
					return false
				}
			case "$gte":
				if c < 0 {
					return false
				}
			case "$lt":
				if c >= 0 {
					return false
				}
			case "$lte":
				if c > 0 {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func lookup(doc map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func inList(val, list any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(val, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok1 := a.(string)
	sb, ok2 := b.(string)
	if !ok1 || !ok2 {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

// Project applies a projection string to doc. Plain names select fields,
// "-name" excludes, "+name" is accepted as a plain selection. The identity
// field is always kept unless explicitly excluded.
func Project(doc map[string]any, fields string) map[string]any {
	tokens := strings.Fields(fields)
	if len(tokens) == 0 {
		return CloneMap(doc)
	}

	var include, exclude []string
	for _, t := range tokens {
		switch {
		case strings.HasPrefix(t, "-"):
			exclude = append(exclude, t[1:])
		case strings.HasPrefix(t, "+"):
			include = append(include, t[1:])
		default:
			include = append(include, t)
		}
	}

	var out map[string]any
	if len(include) > 0 {
		out = make(map[string]any, len(include)+1)
		if v, ok := doc[IDField]; ok {
			out[IDField] = v
		}
		for _, f := range include {
			if v, ok := doc[f]; ok {
				out[f] = v
			}
		}
	} else {
		out = CloneMap(doc)
	}
	for _, f := range exclude {
		delete(out, f)
	}
	return out
}

// ApplyUpdate applies updates to a copy of doc. Operator updates ($set,
// $unset, $inc) are honoured; a plain map is treated as $set.
func ApplyUpdate(doc, updates map[string]any) (map[string]any, error) {
	out := CloneMap(doc)
	if out == nil {
		out = map[string]any{}
	}

	for key, arg := range updates {
		if !strings.HasPrefix(key, "$") {
			out[key] = arg
			continue
		}
		fields, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("update operator %s expects a document", key)
		}
		switch key {
		case "$set":
			for k, v := range fields {
				out[k] = v
			}
		case "$unset":
			for k := range fields {
				delete(out, k)
			}
		case "$inc":
			for k, v := range fields {
				delta, ok := toFloat(v)
				if !ok {
					return nil, fmt.Errorf("$inc on %s requires a number", k)
				}
				cur, _ := toFloat(out[k])
				out[k] = cur + delta
			}
		default:
			return nil, fmt.Errorf("unsupported update operator %s", key)
		}
	}
	return out, nil
}

// Window sorts docs per options["sort"] and applies options["skip"] and
// options["limit"]. docs is sorted in place.
func Window(docs []map[string]any, options map[string]any) []map[string]any {
	if keys := sortKeys(options["sort"]); len(keys) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			for _, k := range keys {
				a, _ := lookup(docs[i], k.field)
				b, _ := lookup(docs[j], k.field)
				c, ok := compare(a, b)
				if !ok || c == 0 {
					continue
				}
				if k.desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if skip, ok := toFloat(options["skip"]); ok && skip > 0 {
		if int(skip) >= len(docs) {
			return docs[:0]
		}
		docs = docs[int(skip):]
	}
	if limit, ok := toFloat(options["limit"]); ok && limit > 0 && int(limit) < len(docs) {
		docs = docs[:int(limit)]
	}
	return docs
}

type sortKey struct {
	field string
	desc  bool
}

func sortKeys(v any) []sortKey {
	switch s := v.(type) {
	case string:
		var keys []sortKey
		for _, f := range strings.Fields(s) {
			if strings.HasPrefix(f, "-") {
				keys = append(keys, sortKey{field: f[1:], desc: true})
			} else {
				keys = append(keys, sortKey{field: f})
			}
		}
		return keys
	case map[string]any:
		names := make([]string, 0, len(s))
		for k := range s {
			names = append(names, k)
		}
		sort.Strings(names)
		keys := make([]sortKey, 0, len(names))
		for _, k := range names {
			dir, _ := toFloat(s[k])
			keys = append(keys, sortKey{field: k, desc: dir < 0})
		}
		return keys
	}
	return nil
}
