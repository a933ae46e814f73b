package tcpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AsifIrfan3393/win-kvstore/internal/metricssink"
	"github.com/prometheus/client_golang/prometheus"
)

func TestHealthzReportsSinkCounters(t *testing.T) {
	sink := metricssink.New(100)
	sink.RecordGet()
	sink.RecordGet()
	sink.RecordPut()

	registry := prometheus.NewRegistry()
	exporter := NewPromExporter(sink, registry)
	router := Router(exporter, registry, sink)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if got := body["get_count"].(float64); got != 2 {
		t.Errorf("got get_count=%v, want 2", got)
	}
	if got := body["put_count"].(float64); got != 1 {
		t.Errorf("got put_count=%v, want 1", got)
	}
}

func TestMetricsScrapeIncludesCounters(t *testing.T) {
	sink := metricssink.New(100)
	sink.RecordPut()

	registry := prometheus.NewRegistry()
	exporter := NewPromExporter(sink, registry)
	router := Router(exporter, registry, sink)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "kvstore_put_total") {
		t.Errorf("expected scrape body to mention kvstore_put_total")
	}
}
