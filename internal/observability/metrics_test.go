package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDispatchCountsByActionAndOutcome(t *testing.T) {
	m := NewMetrics()
	m.ObserveDispatch("analyzeVitals", "ok", 120*time.Millisecond)
	m.ObserveDispatch("analyzeVitals", "ok", 80*time.Millisecond)
	m.ObserveDispatch("", "unsupported", time.Millisecond)

	if got := testutil.ToFloat64(m.dispatchTotal.WithLabelValues("analyzeVitals", "ok")); got != 2 {
		t.Fatalf("unexpected ok count: %v", got)
	}
	if got := testutil.ToFloat64(m.dispatchTotal.WithLabelValues("unknown", "unsupported")); got != 1 {
		t.Fatalf("unexpected unsupported count: %v", got)
	}
}

func TestObserveCacheLookupCountsByResult(t *testing.T) {
	m := NewMetrics()
	m.ObserveCacheLookup("miss")
	m.ObserveCacheLookup("hit")
	m.ObserveCacheLookup("miss")

	if got := testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("miss")); got != 2 {
		t.Fatalf("unexpected miss count: %v", got)
	}
	if got := testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("hit")); got != 1 {
		t.Fatalf("unexpected hit count: %v", got)
	}
}

func TestHandlerExposesRegisteredSeries(t *testing.T) {
	m := NewMetrics()
	m.ObserveHTTP("/api/transcription", http.MethodPost, http.StatusOK, 10*time.Millisecond)
	m.ObserveUpstream("chat_completions", http.StatusOK, 2*time.Second)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"vetconsult_http_requests_total", "vetconsult_upstream_requests_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("/", http.MethodGet, http.StatusOK, time.Millisecond)
	m.ObserveUpstream("models", http.StatusOK, time.Millisecond)
	m.ObserveDispatch("soapNotes", "ok", time.Millisecond)
	m.ObserveCacheLookup("hit")
}
