package permissions

import (
	"fmt"
	"reflect"

	"fount"
)

// Rule is one permission rule: a template deciding whether the rule applies
// to a request, and an optional validator deciding per row. A rule with no
// validator permits unconditionally once its template matches.
type Rule struct {
	Group     string
	Name      string
	Template  Template
	Validator *Validator

	source fount.Document // raw {template, validator} doc, for no-op detection
}

// ParseRule builds a rule from its document form as stored in the groups
// table: {"template": <template doc>, "validator": <expression doc>?}.
func ParseRule(group, name string, doc fount.Document) (*Rule, error) {
	rawTemplate, ok := doc["template"]
	if !ok {
		return nil, fmt.Errorf("rule %s/%s: missing template", group, name)
	}
	tmpl, err := ParseTemplate(rawTemplate)
	if err != nil {
		return nil, fmt.Errorf("rule %s/%s: template: %w", group, name, err)
	}

	rule := &Rule{Group: group, Name: name, Template: tmpl, source: doc}
	if rawValidator, ok := doc["validator"]; ok && rawValidator != nil {
		v, err := ParseValidator(rawValidator)
		if err != nil {
			return nil, fmt.Errorf("rule %s/%s: validator: %w", group, name, err)
		}
		rule.Validator = v
	}
	return rule, nil
}

// SameSource reports whether the rule was parsed from an equal document —
// a rewrite to an identical {template, validator} pair is a no-op and must
// not invalidate caches.
func (r *Rule) SameSource(other *Rule) bool {
	return reflect.DeepEqual(r.source, other.source)
}
