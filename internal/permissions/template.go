// Package permissions maintains the per-user permission cache: group rules
// and user memberships arrive over change feeds, and every request is
// checked against the exact rule set applicable to its user, with a hard
// staleness bound beyond which requests are rejected rather than served
// with possibly outdated authorization.
package permissions

import (
	"fmt"

	"fount"
)

// Template marker keys. A JSON object with exactly one of these keys is a
// special node, not a structural object:
//
//	{"$any": true} or {"$any": [alt, ...]}  wildcard, optionally enumerated
//	{"$user": true}                         the authenticated account id
//
// Everything else is matched structurally. The grammar is closed by design;
// rule templates are data, never code.
const (
	markerAny  = "$any"
	markerUser = "$user"
)

type templateKind uint8

const (
	tmplLiteral templateKind = iota
	tmplAny
	tmplUser
	tmplObject
	tmplArray
)

// Template is a structural pattern over a request's options.
type Template struct {
	kind    templateKind
	literal any
	alts    []Template // tmplAny: non-empty means "one of these"
	object  map[string]Template
	array   []Template
}

// ParseTemplate builds the template tree from its document form.
func ParseTemplate(doc any) (Template, error) {
	switch v := doc.(type) {
	case map[string]any:
		if len(v) == 1 {
			if alts, ok := v[markerAny]; ok {
				return parseAny(alts)
			}
			if _, ok := v[markerUser]; ok {
				return Template{kind: tmplUser}, nil
			}
		}
		obj := make(map[string]Template, len(v))
		for key, sub := range v {
			t, err := ParseTemplate(sub)
			if err != nil {
				return Template{}, fmt.Errorf("key %q: %w", key, err)
			}
			obj[key] = t
		}
		return Template{kind: tmplObject, object: obj}, nil
	case []any:
		arr := make([]Template, len(v))
		for n, sub := range v {
			t, err := ParseTemplate(sub)
			if err != nil {
				return Template{}, fmt.Errorf("element %d: %w", n, err)
			}
			arr[n] = t
		}
		return Template{kind: tmplArray, array: arr}, nil
	case nil, bool, string, float64, int, int64, uint64:
		return Template{kind: tmplLiteral, literal: v}, nil
	default:
		return Template{}, fmt.Errorf("unsupported template value %T", doc)
	}
}

func parseAny(alts any) (Template, error) {
	switch a := alts.(type) {
	case []any:
		t := Template{kind: tmplAny, alts: make([]Template, len(a))}
		for n, sub := range a {
			alt, err := ParseTemplate(sub)
			if err != nil {
				return Template{}, fmt.Errorf("alternative %d: %w", n, err)
			}
			t.alts[n] = alt
		}
		return t, nil
	default:
		// Any non-array marker value means "match anything".
		return Template{kind: tmplAny}, nil
	}
}

// Matches reports whether value structurally satisfies the template for the
// given account. Objects are compared both ways: every key in the value must
// be allowed by the template, and every key in the template must be present
// in the value — a template is a required-field set plus per-field
// constraints, not a subset check.
func (t Template) Matches(value any, account fount.Account) bool {
	switch t.kind {
	case tmplAny:
		if len(t.alts) == 0 {
			return true
		}
		for _, alt := range t.alts {
			if alt.Matches(value, account) {
				return true
			}
		}
		return false
	case tmplUser:
		return equalValue(value, account.ID)
	case tmplLiteral:
		return equalValue(value, t.literal)
	case tmplArray:
		arr, ok := value.([]any)
		if !ok || len(arr) != len(t.array) {
			return false
		}
		for n, sub := range t.array {
			if !sub.Matches(arr[n], account) {
				return false
			}
		}
		return true
	case tmplObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return false
		}
		for key := range obj {
			if _, ok := t.object[key]; !ok {
				return false
			}
		}
		for key, sub := range t.object {
			field, ok := obj[key]
			if !ok {
				return false
			}
			if !sub.Matches(field, account) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// equalValue compares two JSON-shaped values, treating all numeric types as
// one domain (decoded documents may carry float64 where literals carry int).
func equalValue(a, b any) bool {
	if na, ok := asNumber(a); ok {
		nb, ok := asNumber(b)
		return ok && na == nb
	}
	switch va := a.(type) {
	case nil:
		return b == nil
	case bool:
		vb, ok := b.(bool)
		return ok && va == vb
	case string:
		vb, ok := b.(string)
		return ok && va == vb
	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for n := range va {
			if !equalValue(va[n], vb[n]) {
				return false
			}
		}
		return true
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for key, sub := range va {
			other, ok := vb[key]
			if !ok || !equalValue(sub, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
