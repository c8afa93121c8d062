package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelWarn)
	l.SetOutput(&buf)

	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept warn")
	l.Error("kept error")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("output contains filtered messages: %q", out)
	}
	if !strings.Contains(out, "kept warn") || !strings.Contains(out, "kept error") {
		t.Errorf("output missing kept messages: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"garbage", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelDebug)
	l.SetOutput(&buf)

	child := l.WithPrefix("wcs")
	child.Info("parsed %d axes", 2)

	out := buf.String()
	if !strings.Contains(out, "wcs: parsed 2 axes") {
		t.Errorf("prefixed output = %q", out)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	// Must not panic and must not write anywhere observable.
	l.Error("ignored")
}
