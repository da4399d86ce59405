package metadata

import "testing"

func TestCheckServerVersion(t *testing.T) {
	t.Parallel()

	ok := []string{
		"rethinkdb 2.3.0 (GCC 5.4.0)",
		"rethinkdb 2.3.1~0xenial",
		"rethinkdb 2.4.4 (CLANG 15.0.0)",
		"3.0.0",
		"rethinkdb 10.1",
	}
	for _, banner := range ok {
		if err := checkServerVersion(banner); err != nil {
			t.Fatalf("checkServerVersion(%q): %v", banner, err)
		}
	}

	tooOld := []string{
		"rethinkdb 2.2.9",
		"rethinkdb 1.16.0",
		"2.2",
	}
	for _, banner := range tooOld {
		if err := checkServerVersion(banner); err == nil {
			t.Fatalf("checkServerVersion(%q): expected version error", banner)
		}
	}

	if err := checkServerVersion("rethinkdb (no version)"); err == nil {
		t.Fatal("expected parse error for banner without digits")
	}
}

func TestParseVersionExtractsLeadingTriple(t *testing.T) {
	t.Parallel()

	got, err := parseVersion("rethinkdb 2.4.1~0bionic (GCC 5.4.0)")
	if err != nil {
		t.Fatalf("parseVersion: %v", err)
	}
	if got != [3]int{2, 4, 1} {
		t.Fatalf("parseVersion = %v, want [2 4 1]", got)
	}

	got, err = parseVersion("2.4")
	if err != nil {
		t.Fatalf("parseVersion: %v", err)
	}
	if got != [3]int{2, 4, 0} {
		t.Fatalf("parseVersion = %v, want [2 4 0]", got)
	}
}
