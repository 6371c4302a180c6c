package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTraditionalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelInfo)).With("job", "b-1")

	logger.Debug("hidden")
	logger.Info("built dataset", "rows", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %q", out)
	}
	if !strings.Contains(out, "[INFO] built dataset [job=b-1 rows=2]") {
		t.Fatalf("unexpected line %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJobHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "debug", "json")

	LogJobStart(logger, "build", "id-1", "gif", "cache.pb", nil)
	LogJobComplete(logger, "build", "id-1", time.Second, map[string]any{"rows": 3})
	LogJobError(logger, "build", "id-1", time.Second, errors.New("boom"), nil)
	LogDecodeFailure(logger, "a.gif", errors.New("bad header"))

	out := buf.String()
	for _, want := range []string{`"msg":"job started"`, `"msg":"job completed successfully"`, `"error":"boom"`, `"path":"a.gif"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output:\n%s", want, out)
		}
	}
}

func TestLogProgressStep(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "info", "text")
	for i := 1; i <= 250; i++ {
		LogProgress(logger, i, 250, 100)
	}
	if n := strings.Count(buf.String(), "processing"); n != 3 {
		t.Fatalf("expected 3 progress lines (100, 200, 250), got %d", n)
	}
}
