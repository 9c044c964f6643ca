package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestRandomStringIsRandom(t *testing.T) {
	a := GetLogToken()
	b := GetLogToken()
	if a == b {
		t.Fatal("strings are equal:", a, b)
	}
	if len(a) != 6 {
		t.Fatal("unexpected token length:", a)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nopWriter{})
	SetLoglevel(LevelWarnings)
	defer SetLoglevel(LevelWarnings)

	Log(LevelDebug, "invisible")
	Logf(LevelWarnings, "queue at %d%%", 80)

	out := buf.String()
	if strings.Contains(out, "invisible") {
		t.Fatal("debug line leaked through:", out)
	}
	if !strings.Contains(out, "queue at 80%") || !strings.Contains(out, `"level":"warn"`) {
		t.Fatal("warning missing:", out)
	}
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nopWriter{})
	SetLoglevel(LevelInfo)
	defer SetLoglevel(LevelWarnings)

	l := Component("broker")
	l.Info().Str("worker", "w1").Msg("worker ready")
	l.Debug().Msg("filtered")

	out := buf.String()
	if !strings.Contains(out, `"component":"broker"`) || !strings.Contains(out, `"worker":"w1"`) {
		t.Fatal("fields missing:", out)
	}
	if strings.Contains(out, "filtered") {
		t.Fatal("debug line leaked through:", out)
	}
}

func TestIsLoggingEnabled(t *testing.T) {
	SetLoglevel(LevelErrors)
	defer SetLoglevel(LevelWarnings)
	if IsLoggingEnabled(LevelInfo) || !IsLoggingEnabled(LevelErrors) {
		t.Fail()
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestComponentFollowsLevelChanges(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nopWriter{})
	SetLoglevel(LevelWarnings)
	defer SetLoglevel(LevelWarnings)

	l := Component("router")
	l.Debug().Msg("before")
	SetLoglevel(LevelDebug)
	l.Debug().Msg("after")
	SetLoglevel(LevelErrors)
	l.Warn().Msg("silenced")

	out := buf.String()
	if strings.Contains(out, "before") || strings.Contains(out, "silenced") {
		t.Fatal("line written above the level:", out)
	}
	if !strings.Contains(out, "after") {
		t.Fatal("raised level not applied to existing logger:", out)
	}
}
