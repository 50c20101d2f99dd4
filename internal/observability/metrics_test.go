package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe("avatar_start", 500)
	w.Observe("avatar_start", 700)
	w.Observe("avatar_start", 900)
	w.Observe("", 10)
	w.Observe("token_fetch", -1)
	w.ObserveIndicator("mute_rejected")
	w.ObserveIndicator("mute_rejected")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "avatar_start" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "avatar_start")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 || s.MaxMS != 900 {
		t.Fatalf("LastMS/MaxMS = %.2f/%.2f, want 900/900", s.LastMS, s.MaxMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 2500 || s.OverTarget {
		t.Fatalf("TargetP95MS = %.2f OverTarget = %v, want 2500 false", s.TargetP95MS, s.OverTarget)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one with count 2", snap.Indicators)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(2)
	w.Observe("token_fetch", 1)
	w.Observe("token_fetch", 2)
	w.Observe("token_fetch", 3)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 2.5 {
		t.Fatalf("AvgMS = %.2f, want 2.5", s.AvgMS)
	}

	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) after Reset = %d, want 0", got)
	}
}

func TestMetricsIndependentRegistries(t *testing.T) {
	a := NewMetrics("parlor_a")
	b := NewMetrics("parlor_a")
	a.ActiveSessions.Inc()
	b.ObserveStage("start_total", 1200*time.Millisecond)

	if got := b.StageSnapshot().Stages[0].LastMS; got != 1200 {
		t.Fatalf("LastMS = %.2f, want 1200", got)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "parlor_a_active_sessions 1") {
		t.Fatalf("metrics output missing active_sessions gauge")
	}
}
