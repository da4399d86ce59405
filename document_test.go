package fount

import "testing"

func TestVersionAcceptsDecodedNumericTypes(t *testing.T) {
	t.Parallel()

	// JSON decoding yields float64; internal code writes uint64 or int.
	cases := []struct {
		name  string
		value any
		want  uint64
		ok    bool
	}{
		{"uint64", uint64(7), 7, true},
		{"int64", int64(7), 7, true},
		{"int", 7, 7, true},
		{"float64", float64(7), 7, true},
		{"zero", float64(0), 0, true},
		{"negative int", -1, 0, false},
		{"negative float", float64(-1), 0, false},
		{"string", "7", 0, false},
	}
	for _, tc := range cases {
		got, ok := Version(Document{VersionField: tc.value})
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: Version = %d, %v; want %d, %v", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestVersionAbsent(t *testing.T) {
	t.Parallel()

	if _, ok := Version(Document{"id": "a"}); ok {
		t.Fatal("versionless document reported versioned")
	}
	if _, ok := Version(nil); ok {
		t.Fatal("nil document reported versioned")
	}
}
