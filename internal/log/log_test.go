package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(LevelInfo)

	SetLevel(LevelWarn)
	Debug("debug line")
	Info("info line")
	Warn("warn line", "queued", 50)
	Error("error line", errors.New("boom"), "id", "0x301")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Fatalf("lines below WARN should be filtered, got:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] warn line queued=50") {
		t.Fatalf("missing warn line, got:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR] error line err=boom id=0x301") {
		t.Fatalf("missing error line, got:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"", LevelInfo, false},
		{"Warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestFormatKVs(t *testing.T) {
	got := formatKVs("data", []byte{0xDE, 0xAD}, 42, "skipped", "odd")
	if got != " data=DE AD" {
		t.Fatalf("formatKVs = %q", got)
	}
}
