package logger

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"ERR", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"something", zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := parseLevel(c.in); got != c.want {
			t.Fatalf("parseLevel(%q)=%v, want %v", c.in, got, c.want)
		}
	}
}

func TestGetenv(t *testing.T) {
	t.Setenv("X", "val")
	if v := getenv("X", "def"); v != "val" {
		t.Fatalf("getenv returned %q, want 'val'", v)
	}
	if v := getenv("Y", "def"); v != "def" {
		t.Fatalf("getenv returned %q, want 'def'", v)
	}
}

func TestInitAndL(t *testing.T) {
	_ = os.Unsetenv("LOG_LEVEL")
	_ = os.Unsetenv("LOG_PRETTY")
	Init()
	if L() == nil {
		t.Fatalf("L() returned nil")
	}

	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_PRETTY", "true")
	Init()
	if L().GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %v", L().GetLevel())
	}
}

func TestL_InitializesWithoutInit(t *testing.T) {
	var buf bytes.Buffer
	old := output
	output = &buf
	base, initialized, lazyInit = zerolog.Logger{}, false, sync.Once{}
	t.Cleanup(func() {
		output = old
		Init()
	})
	t.Setenv("LOG_PRETTY", "false")
	t.Setenv("LOG_LEVEL", "info")

	lg := L()
	if lg == nil {
		t.Fatalf("logger is nil")
	}
	lg.Info().Msg("before init")

	line := buf.String()
	if !strings.Contains(line, `"message":"before init"`) || !strings.Contains(line, `"app":"spimexpulse"`) {
		t.Fatalf("event written before Init was dropped: %q", line)
	}
}

func TestForRun_TagsRunID(t *testing.T) {
	var buf bytes.Buffer
	old := output
	output = &buf
	t.Cleanup(func() {
		output = old
		Init()
	})
	t.Setenv("LOG_PRETTY", "false")
	t.Setenv("LOG_LEVEL", "info")
	Init()

	ForRun("run-123").Info().Msg("hello")

	line := buf.String()
	if !strings.Contains(line, `"run_id":"run-123"`) || !strings.Contains(line, `"message":"hello"`) {
		t.Fatalf("unexpected log line %q", line)
	}
}
