package main

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"nmrauto/internal/daemon"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Queue", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestShouldColorizeRejectsBuffers(t *testing.T) {
	if shouldColorize(&strings.Builder{}) {
		t.Fatal("non-file writers must not be colorized")
	}
}

func TestStatusURL(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:7490": "http://127.0.0.1:7490/api/status",
		":7490":          "http://127.0.0.1:7490/api/status",
		"0.0.0.0:8080":   "http://127.0.0.1:8080/api/status",
		"[::1]:7490":     "http://[::1]:7490/api/status",
		"127.0.0.1:0":    "",
		"":               "",
	}
	for bind, want := range tests {
		if got := statusURL(bind); got != want {
			t.Errorf("statusURL(%q) = %q, want %q", bind, got, want)
		}
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-72 * time.Hour), "3d ago"},
	}
	for _, tt := range tests {
		if got := formatAge(tt.at, now); got != tt.want {
			t.Errorf("formatAge(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestSpectrometerLineShowsProgress(t *testing.T) {
	line := spectrometerLine(daemon.SpectrometerView{
		Connected:        true,
		Address:          "127.0.0.1:13000",
		State:            "running",
		Progress:         40,
		SecondsRemaining: 90,
	}, true, false)
	if !strings.Contains(line, "running at 127.0.0.1:13000, 40%, 1m30s left") {
		t.Fatalf("unexpected line: %q", line)
	}
}

func TestShimLineWarnsWhenGivingUp(t *testing.T) {
	now := time.Now()
	line := shimLine(daemon.QueueView{ShimPhase: 5, ShimName: "giving up"}, now, false)
	if !strings.Contains(line, "[WARN] giving up (0%), last shim never") {
		t.Fatalf("unexpected line: %q", line)
	}
	line = shimLine(daemon.QueueView{LastShim: now.Add(-2 * time.Hour)}, now, false)
	if !strings.Contains(line, "Idle, last shim 2h ago") {
		t.Fatalf("unexpected idle line: %q", line)
	}
}
