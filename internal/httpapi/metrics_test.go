package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"llamabridge/internal/bridge"
)

func scrape(t *testing.T) []byte {
	t.Helper()
	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if mrr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", mrr.Code)
	}
	return mrr.Body.Bytes()
}

func TestMetricsMiddleware_EmitsRequestCounters(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rr := httptest.NewRecorder()
	MetricsMiddleware(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status 418, got %d", rr.Code)
	}
	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/test", http.MethodGet, "418"))
	if got < 1 {
		t.Fatalf("request not counted: %v", got)
	}
	if !bytes.Contains(scrape(t), []byte("llamabridge_http_requests_total")) {
		t.Fatalf("metric family not exported")
	}
}

// The router labels requests by route pattern, not by the raw path.
func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	h := NewMux(&mockService{}, Options{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/models/17", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	body := scrape(t)
	if !bytes.Contains(body, []byte(`path="/models/{handle}"`)) {
		t.Fatalf("route pattern label missing")
	}
	if bytes.Contains(body, []byte(`path="/models/17"`)) {
		t.Fatalf("raw path leaked into labels")
	}
}

func TestIncrementBackpressure_IncrementsCounter(t *testing.T) {
	baseline := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue"))
	IncrementBackpressure("queue")
	IncrementBackpressure("queue")
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue")); got < baseline+2 {
		t.Fatalf("expected >= %v, got %v", baseline+2, got)
	}
	IncrementBackpressure("")
	if testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified")) < 1 {
		t.Fatalf("empty reason not normalized")
	}
}

func TestTooBusyCountsBackpressure(t *testing.T) {
	baseline := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue"))
	svc := &mockService{genErr: bridgeErr(bridge.KindTooBusy)}
	postJSON(t, NewMux(svc, Options{}), "/generate", `{"prompt":"x","max_tokens":1}`)
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue")); got != baseline+1 {
		t.Fatalf("backpressure=%v want %v", got, baseline+1)
	}
}
