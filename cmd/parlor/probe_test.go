package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/parlor/internal/app"
	"github.com/ent0n29/parlor/internal/config"
)

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://example.com/base/", "abc")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	want := "wss://example.com/base/v1/avatar/session/ws?session_id=abc"
	if got != want {
		t.Fatalf("wsURLForSession() = %q, want %q", got, want)
	}
	if _, err := wsURLForSession("ftp://example.com", "abc"); err == nil {
		t.Fatalf("expected error for ftp scheme")
	}
}

func TestSplitTexts(t *testing.T) {
	got := splitTexts(" one | |two|")
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("splitTexts() = %#v", got)
	}
}

func TestSummarize(t *testing.T) {
	got := summarize([]time.Duration{300 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond})
	if !strings.Contains(got, "replies=3") || !strings.Contains(got, "p50=200ms") || !strings.Contains(got, "max=300ms") {
		t.Fatalf("summarize() = %q", got)
	}
	if got := summarize(nil); got != "probe: no replies" {
		t.Fatalf("summarize(nil) = %q", got)
	}
}

func TestMaskToken(t *testing.T) {
	if got := maskToken("abcd1234wxyz"); got != "abcd****wxyz" {
		t.Fatalf("maskToken() = %q", got)
	}
	if got := maskToken("short"); got != "*****" {
		t.Fatalf("maskToken(short) = %q", got)
	}
}

func TestProbeAgainstMockGateway(t *testing.T) {
	cfg := config.Config{
		SessionInactivityTimeout: time.Minute,
		StopTimeout:              2 * time.Second,
		ShutdownTimeout:          2 * time.Second,
		MetricsNamespace:         "parlor_probe_test",
		AvatarClientMode:         "mock",
		TranscriptPartialMode:    "replace",
		ArchiveTTL:               time.Hour,
	}
	built, err := app.Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer built.Cleanup()
	srv := httptest.NewServer(built.API.Router())
	defer srv.Close()

	var out bytes.Buffer
	latencies, err := runProbe(context.Background(), probeOptions{
		baseURL:     srv.URL,
		turns:       2,
		texts:       []string{"hello there"},
		turnTimeout: 5 * time.Second,
	}, &out)
	if err != nil {
		t.Fatalf("runProbe() error = %v\n%s", err, out.String())
	}
	if len(latencies) != 2 {
		t.Fatalf("len(latencies) = %d, want 2", len(latencies))
	}
	if !strings.Contains(out.String(), "turn 2/2") {
		t.Fatalf("output missing turn log: %s", out.String())
	}
}
