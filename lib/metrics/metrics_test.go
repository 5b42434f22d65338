package metrics

import (
	"net/http/httptest"
	"testing"
)

func TestCountersIncrementIndependently(t *testing.T) {
	r := New()
	r.DepositAdded()
	r.DepositAdded()
	r.DedupHit()

	if got := r.Count("cdn_deposits_total"); got != 2 {
		t.Errorf("cdn_deposits_total = %d, want 2", got)
	}
	if got := r.Count("cdn_dedup_hits_total"); got != 1 {
		t.Errorf("cdn_dedup_hits_total = %d, want 1", got)
	}
	if got := r.Count("cdn_scale_renders_total"); got != 0 {
		t.Errorf("cdn_scale_renders_total = %d, want 0", got)
	}
}

func TestTwoRegistriesDoNotShareCounts(t *testing.T) {
	a := New()
	b := New()
	a.ScaleRendered()

	if got := a.Count("cdn_scale_renders_total"); got != 1 {
		t.Errorf("a: cdn_scale_renders_total = %d, want 1", got)
	}
	if got := b.Count("cdn_scale_renders_total"); got != 0 {
		t.Errorf("b: cdn_scale_renders_total = %d, want 0 (registries must not collide)", got)
	}
}

func TestHandlerServesPrometheusExposition(t *testing.T) {
	r := New()
	r.FsckIssue()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("metrics handler returned status %d", rec.Code)
	}
	if body := rec.Body.String(); len(body) == 0 {
		t.Error("expected non-empty Prometheus exposition body")
	}
}
