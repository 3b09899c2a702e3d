package query

import "sort"

// Conjunction is the key conditions are normalized under.
const Conjunction = "$and"

// TenantMode decides whether documents lacking a tenant field are visible.
type TenantMode string

const (
	// TenantStrict requires an exact tenant match.
	TenantStrict TenantMode = "strict"
	// TenantShared also matches documents without a tenant field.
	TenantShared TenantMode = "shared"
)

// DefaultTenantField is the field documents are scoped on.
const DefaultTenantField = "tenant_id"

// TenantPolicy configures tenant scoping.
type TenantPolicy struct {
	Field string     `yaml:"field"`
	Mode  TenantMode `yaml:"mode"`
}

// DefaultTenantPolicy scopes strictly on tenant_id.
func DefaultTenantPolicy() TenantPolicy {
	return TenantPolicy{Field: DefaultTenantField, Mode: TenantStrict}
}

// FieldName returns the configured field or the default.
func (p TenantPolicy) FieldName() string {
	if p.Field == "" {
		return DefaultTenantField
	}
	return p.Field
}

// Clause returns the condition confining a query to tenantID.
func (p TenantPolicy) Clause(tenantID string) map[string]any {
	field := p.FieldName()
	if p.Mode == TenantShared {
		return map[string]any{"$or": []any{
			map[string]any{field: tenantID},
			map[string]any{field: map[string]any{"$exists": false}},
		}}
	}
	return map[string]any{field: tenantID}
}

// ScopeConditions rewrites conditions into conjunctive form and appends the
// tenant clause when tenantID is set. Top-level keys move into the conjunction
// as single-key clauses in sorted key order. An empty conjunction is dropped.
// The input map is not modified.
func ScopeConditions(conditions map[string]any, tenantID string, policy TenantPolicy) map[string]any {
	out := make(map[string]any, len(conditions)+1)

	var clauses []any
	if existing, ok := conditions[Conjunction]; ok {
		clauses = append(clauses, toClauses(existing)...)
		for k, v := range conditions {
			if k != Conjunction {
				out[k] = v
			}
		}
	} else {
		keys := make([]string, 0, len(conditions))
		for k := range conditions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			clauses = append(clauses, map[string]any{k: conditions[k]})
		}
	}

	if tenantID != "" {
		clauses = append(clauses, policy.Clause(tenantID))
	}

	if len(clauses) > 0 {
		out[Conjunction] = clauses
	}
	return out
}

func toClauses(v any) []any {
	switch c := v.(type) {
	case []any:
		return append([]any(nil), c...)
	case []map[string]any:
		out := make([]any, len(c))
		for i, m := range c {
			out[i] = m
		}
		return out
	case map[string]any:
		return []any{c}
	}
	return nil
}
