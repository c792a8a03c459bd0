package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevelFilteringAndFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	Info("hidden", "k", "v")
	Warn("timezone fallback", "venue", "treefort", "timezone", "Mars/Olympus")
	Error("fetch failed", errors.New("boom"), "url", "http://x")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at WARN: %q", out)
	}
	if !strings.Contains(out, "[WARN] timezone fallback venue=treefort timezone=Mars/Olympus") {
		t.Fatalf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] fetch failed err=boom url=http://x") {
		t.Fatalf("missing error line: %q", out)
	}
}

func TestQuotedValues(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Info("msg", "name", "Treefort Music Hall")
	if !strings.Contains(buf.String(), `name="Treefort Music Hall"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, "WARN": LevelWarn, "error": LevelError, "": LevelInfo, "bogus": LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
