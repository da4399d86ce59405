package permissions

import (
	"testing"

	"fount"
)

func mustTemplate(t *testing.T, doc any) Template {
	t.Helper()
	tmpl, err := ParseTemplate(doc)
	if err != nil {
		t.Fatalf("parse template %v: %v", doc, err)
	}
	return tmpl
}

func TestTemplateWildcardMatchesAnything(t *testing.T) {
	t.Parallel()

	tmpl := mustTemplate(t, map[string]any{"$any": true})
	account := fount.Account{ID: "u1"}
	for _, v := range []any{nil, 42, "x", []any{1}, map[string]any{"a": 1}} {
		if !tmpl.Matches(v, account) {
			t.Fatalf("wildcard rejected %v", v)
		}
	}
}

func TestTemplateWildcardWithAlternatives(t *testing.T) {
	t.Parallel()

	tmpl := mustTemplate(t, map[string]any{"$any": []any{"read", "subscribe"}})
	account := fount.Account{ID: "u1"}
	if !tmpl.Matches("read", account) || !tmpl.Matches("subscribe", account) {
		t.Fatal("enumerated wildcard rejected a listed alternative")
	}
	if tmpl.Matches("remove", account) {
		t.Fatal("enumerated wildcard accepted an unlisted value")
	}
}

func TestTemplateUserNodeMatchesAccountID(t *testing.T) {
	t.Parallel()

	tmpl := mustTemplate(t, map[string]any{"owner": map[string]any{"$user": true}})
	if !tmpl.Matches(map[string]any{"owner": "u1"}, fount.Account{ID: "u1"}) {
		t.Fatal("user node rejected the authenticated id")
	}
	if tmpl.Matches(map[string]any{"owner": "u2"}, fount.Account{ID: "u1"}) {
		t.Fatal("user node accepted a different id")
	}
}

func TestTemplateObjectRequiresExactKeySet(t *testing.T) {
	t.Parallel()

	tmpl := mustTemplate(t, map[string]any{
		"collection": "messages",
		"find":       map[string]any{"$any": true},
	})
	account := fount.Account{ID: "u1"}

	ok := map[string]any{"collection": "messages", "find": map[string]any{"to": "u1"}}
	if !tmpl.Matches(ok, account) {
		t.Fatal("exact request rejected")
	}

	// Extra, non-whitelisted option.
	extra := map[string]any{"collection": "messages", "find": 1, "limit": 10}
	if tmpl.Matches(extra, account) {
		t.Fatal("request with extra option accepted")
	}

	// Missing required option.
	missing := map[string]any{"collection": "messages"}
	if tmpl.Matches(missing, account) {
		t.Fatal("request missing a templated option accepted")
	}

	// Wrong scalar.
	wrong := map[string]any{"collection": "posts", "find": 1}
	if tmpl.Matches(wrong, account) {
		t.Fatal("request for a different collection accepted")
	}
}

func TestTemplateEmptyObjectMatchesOnlyEmptyObject(t *testing.T) {
	t.Parallel()

	tmpl := mustTemplate(t, map[string]any{})
	account := fount.Account{ID: "u1"}
	if !tmpl.Matches(map[string]any{}, account) {
		t.Fatal("empty template rejected empty object")
	}
	if tmpl.Matches(map[string]any{"a": 1}, account) {
		t.Fatal("empty template accepted non-empty object")
	}
	if tmpl.Matches(nil, account) || tmpl.Matches("x", account) {
		t.Fatal("empty template accepted non-object")
	}
}

func TestTemplateArraysMatchElementwise(t *testing.T) {
	t.Parallel()

	tmpl := mustTemplate(t, []any{"a", map[string]any{"$any": true}})
	account := fount.Account{}
	if !tmpl.Matches([]any{"a", 99}, account) {
		t.Fatal("elementwise match rejected")
	}
	if tmpl.Matches([]any{"a"}, account) || tmpl.Matches([]any{"a", 99, 1}, account) {
		t.Fatal("length mismatch accepted")
	}
	if tmpl.Matches([]any{"b", 99}, account) {
		t.Fatal("wrong element accepted")
	}
}

func TestTemplateNullMatchesOnlyNull(t *testing.T) {
	t.Parallel()

	tmpl := mustTemplate(t, nil)
	account := fount.Account{}
	if !tmpl.Matches(nil, account) {
		t.Fatal("null template rejected null")
	}
	if tmpl.Matches(0, account) || tmpl.Matches(false, account) || tmpl.Matches("", account) {
		t.Fatal("null template accepted a non-null zero value")
	}
}

func TestEqualValueUnifiesNumericTypes(t *testing.T) {
	t.Parallel()

	// Decoded documents carry float64 where Go literals carry int.
	if !equalValue(float64(10), 10) || !equalValue(int64(10), float64(10)) {
		t.Fatal("numeric domains not unified")
	}
	if equalValue(float64(10), 11) {
		t.Fatal("unequal numbers compared equal")
	}
	if equalValue(10, "10") {
		t.Fatal("number equal to string")
	}
}

func TestParseTemplateRejectsUnsupportedValues(t *testing.T) {
	t.Parallel()

	if _, err := ParseTemplate(map[string]any{"x": struct{}{}}); err == nil {
		t.Fatal("expected error for non-document value")
	}
}
