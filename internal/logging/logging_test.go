package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("unknown level accepted")
	}
}

func TestConfigureDebugOverridesLevel(t *testing.T) {
	if err := Configure("warn", true); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if !slog.Default().Enabled(nil, slog.LevelDebug) {
		t.Fatal("debug override did not lower the level")
	}

	if err := Configure("nonsense", false); err == nil {
		t.Fatal("bad level accepted without debug override")
	}
}
