package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelInfo, "json", &buf)
	New("kb").Info("seeded", "patterns", 8)
	out := buf.String()
	if !strings.Contains(out, `"component":"kb"`) {
		t.Errorf("expected component attribute in JSON output, got %q", out)
	}
	if !strings.Contains(out, `"patterns":8`) {
		t.Errorf("expected structured attr in JSON output, got %q", out)
	}
}

func TestInitTextIsDefault(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelWarn, "text", &buf)
	New("engine").Info("suppressed")
	New("engine").Warn("shown")
	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message missing from output")
	}
}
