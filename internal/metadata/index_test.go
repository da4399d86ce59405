package metadata

import (
	"reflect"
	"testing"
)

func TestIndexNameRoundTrip(t *testing.T) {
	t.Parallel()

	specs := []IndexSpec{
		{Fields: [][]string{{"email"}}, Multi: -1},
		{Fields: [][]string{{"a"}, {"b"}}, Multi: -1},
		{Fields: [][]string{{"address", "city"}}, Multi: -1},
		{Fields: [][]string{{"location"}}, Geo: true, Multi: -1},
		{Fields: [][]string{{"tags"}}, Multi: 0},
		{Fields: [][]string{{"a"}, {"tags"}, {"b"}}, Multi: 1},
		{Fields: [][]string{{"pos"}, {"tags"}}, Geo: true, Multi: 1},
		{Fields: [][]string{{"weird_name"}, {"nested", "path", "deep"}}, Multi: -1},
	}
	for _, spec := range specs {
		name := spec.Name()
		decoded, err := DecodeIndexName(name)
		if err != nil {
			t.Fatalf("decode %q: %v", name, err)
		}
		if !reflect.DeepEqual(decoded, spec) {
			t.Fatalf("round trip %q: got %+v, want %+v", name, decoded, spec)
		}
		if decoded.Name() != name {
			t.Fatalf("re-encode %q: got %q", name, decoded.Name())
		}
	}
}

func TestPrimaryIndexNameIsLiteralID(t *testing.T) {
	t.Parallel()

	if got := PrimaryIndexSpec().Name(); got != "id" {
		t.Fatalf("primary index name = %q, want id", got)
	}
	spec, err := DecodeIndexName("id")
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if !reflect.DeepEqual(spec, PrimaryIndexSpec()) {
		t.Fatalf("decode id = %+v, want primary spec", spec)
	}
}

func TestDecodeIndexNameRejectsForeignNames(t *testing.T) {
	t.Parallel()

	bad := []string{
		"email",                     // no prefix
		"hz_",                       // no fields
		"hz_[]",                     // empty field list
		"hz_not-json",               // malformed fields
		"hz_multi_x_[[\"a\"]]",      // non-numeric offset
		"hz_multi_-1_[[\"a\"]]",     // negative offset
		"hz_multi_[[\"a\"]]",        // missing offset
		"hz_[[\"a\" ]]",             // non-canonical whitespace
		"hz_geo_geo_[[\"a\"]]",      // doubled flag
		"hz_multi_01_[[\"tags\"]]",  // non-canonical offset
		"hz_[\"a\"]",                // flat field list
		"users_secret_index_backup", // arbitrary foreign index
	}
	for _, name := range bad {
		if _, err := DecodeIndexName(name); err == nil {
			t.Fatalf("decode %q: expected error", name)
		}
	}
}

func TestIndexCovers(t *testing.T) {
	t.Parallel()

	idx := newIndex("", IndexSpec{Fields: [][]string{{"a"}, {"b", "c"}}, Multi: -1})
	if !idx.Covers([][]string{{"a"}, {"b", "c"}}) {
		t.Fatal("index does not cover its own fields")
	}
	for _, fields := range [][][]string{
		{{"a"}},
		{{"b", "c"}, {"a"}},
		{{"a"}, {"b"}},
		{{"a"}, {"b", "c"}, {"d"}},
	} {
		if idx.Covers(fields) {
			t.Fatalf("index unexpectedly covers %v", fields)
		}
	}
}

func TestPrimaryIndexIsReadyImmediately(t *testing.T) {
	t.Parallel()

	idx := newPrimaryIndex()
	if !idx.IsReady() {
		t.Fatal("primary index not ready")
	}
}
