package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	if got := stripANSI(in); got != "INFO plain ERR" {
		t.Fatalf("stripANSI()=%q", got)
	}
}

func TestPrettyHandler_Line(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.With("conn_id", "c1").WithGroup("ws").Info("ws.close", "state", "completed", "reason", "account deleted", "duration_ms", 12)

	line := strings.TrimSuffix(buf.String(), "\n")
	for _, want := range []string{
		"[INFO] ws.close",
		" conn_id=c1",
		" ws.state=completed",
		` ws.reason="account deleted"`,
		" ws.duration_ms=12",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("uncoloured handler wrote escapes: %q", line)
	}
}

func TestPrettyHandler_ColorsAndLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, true))
	log.Info("hidden")
	log.Error("http.request", "status", 503, "err", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn: %q", out)
	}
	if !strings.Contains(out, ansiRed+"[ERROR]"+ansiReset) || !strings.Contains(out, ansiRed+"503"+ansiReset) {
		t.Fatalf("expected red level and status: %q", out)
	}
	if got := stripANSI(out); !strings.Contains(got, "status=503 err=boom") {
		t.Fatalf("plain=%q", got)
	}
}
