package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		"info":    "info",
		"warn":    "warn",
		"warning": "warn",
		"error":   "error",
		"":        "info",
		" loud ":  "info",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJSONFieldsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "info", Format: "json", Writer: &buf})

	Debug("hidden", "k", "v")
	Info("cache ready", "talks", 12, "took", 1500*time.Millisecond, "dangling")
	Error("refresh failed", errors.New("boom"), "stale", true)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines (debug filtered), got %d: %q", len(lines), buf.String())
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0 not JSON: %v", err)
	}
	if first["message"] != "cache ready" || first["talks"] != float64(12) {
		t.Errorf("unexpected first line: %v", first)
	}
	if _, ok := first["dangling"]; ok {
		t.Errorf("odd trailing key should be ignored: %v", first)
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("line 1 not JSON: %v", err)
	}
	if second["level"] != "error" || second["error"] != "boom" || second["stale"] != true {
		t.Errorf("unexpected second line: %v", second)
	}
}

func TestNamedAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "debug", Format: "json", Writer: &buf})

	Named("cache").Debug("tick")

	if !strings.Contains(buf.String(), `"component":"cache"`) {
		t.Fatalf("component missing: %s", buf.String())
	}
}

func TestSetLevelReachesNamedLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "info", Format: "json", Writer: &buf})
	c := Named("cache")

	c.Debug("before")
	SetLevel(LevelDebug)
	c.Debug("after")
	SetLevel(LevelInfo)
	c.Debug("quiet again")

	out := buf.String()
	if strings.Contains(out, "before") || strings.Contains(out, "quiet again") {
		t.Errorf("debug line written at info level: %s", out)
	}
	if !strings.Contains(out, `"message":"after"`) || !strings.Contains(out, `"component":"cache"`) {
		t.Fatalf("component debug line missing after SetLevel: %s", out)
	}
}

func TestNamedFollowsReinit(t *testing.T) {
	c := Named("web")

	var buf bytes.Buffer
	Init(Options{Level: "info", Format: "json", Writer: &buf})
	c.Info("request done")

	if !strings.Contains(buf.String(), `"component":"web"`) {
		t.Fatalf("logger created before Init did not follow it: %q", buf.String())
	}
}
