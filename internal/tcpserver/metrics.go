package tcpserver

import (
	"encoding/json"
	"net/http"

	"github.com/AsifIrfan3393/win-kvstore/internal/metricssink"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// PromExporter mirrors the core's metricssink.Sink onto Prometheus
// gauges/counters, the way the teacher's api.Metrics wraps its own
// counters in promauto collectors.
type PromExporter struct {
	sink *metricssink.Sink

	getTotal       prometheus.Counter
	putTotal       prometheus.Counter
	delTotal       prometheus.Counter
	batchTotal     prometheus.Counter
	evictionTotal  prometheus.Counter
	memoryBytes    prometheus.Gauge
	walBytes       prometheus.Gauge
	snapshotMs     prometheus.Gauge
	replicationLag prometheus.Gauge
	latency        *prometheus.GaugeVec

	// last* track the cumulative values already committed to the
	// Prometheus counters, since Sink.Snapshot reports running totals
	// but prometheus.Counter only ever moves forward by a delta.
	lastGet, lastPut, lastDel, lastBatch, lastEviction uint64
}

// NewPromExporter registers the store's exported metrics against reg.
func NewPromExporter(sink *metricssink.Sink, reg prometheus.Registerer) *PromExporter {
	factory := promauto.With(reg)
	return &PromExporter{
		sink:           sink,
		getTotal:       factory.NewCounter(prometheus.CounterOpts{Name: "kvstore_get_total", Help: "Total GET commands dispatched."}),
		putTotal:       factory.NewCounter(prometheus.CounterOpts{Name: "kvstore_put_total", Help: "Total PUT commands dispatched."}),
		delTotal:       factory.NewCounter(prometheus.CounterOpts{Name: "kvstore_del_total", Help: "Total DEL commands dispatched."}),
		batchTotal:     factory.NewCounter(prometheus.CounterOpts{Name: "kvstore_batch_total", Help: "Total BATCH commands dispatched."}),
		evictionTotal:  factory.NewCounter(prometheus.CounterOpts{Name: "kvstore_eviction_total", Help: "Total keys evicted under memory pressure."}),
		memoryBytes:    factory.NewGauge(prometheus.GaugeOpts{Name: "kvstore_memory_bytes", Help: "Aggregate bytes held by the store."}),
		walBytes:       factory.NewGauge(prometheus.GaugeOpts{Name: "kvstore_wal_bytes", Help: "Current on-disk WAL size."}),
		snapshotMs:     factory.NewGauge(prometheus.GaugeOpts{Name: "kvstore_snapshot_duration_ms", Help: "Duration of the last snapshot write."}),
		replicationLag: factory.NewGauge(prometheus.GaugeOpts{Name: "kvstore_replication_lag", Help: "Outstanding published-but-unsent replication records."}),
		latency: factory.NewGaugeVec(prometheus.GaugeOpts{Name: "kvstore_command_latency_us", Help: "Dispatch latency percentiles in microseconds."}, []string{"quantile"}),
	}
}

// Collect reads the sink and updates every Prometheus collector. It is
// called on every /metrics scrape rather than on every store
// operation, keeping the hot path free of Prometheus overhead.
func (e *PromExporter) Collect() {
	snap := e.sink.Snapshot()
	e.commitCounters(snap)
	e.memoryBytes.Set(float64(snap.MemoryBytes))
	e.walBytes.Set(float64(snap.WalBytes))
	e.snapshotMs.Set(float64(snap.SnapshotDurationMs))
	e.replicationLag.Set(float64(snap.ReplicationLag))
	e.latency.WithLabelValues("p50").Set(snap.P50Micros)
	e.latency.WithLabelValues("p95").Set(snap.P95Micros)
	e.latency.WithLabelValues("p99").Set(snap.P99Micros)
}

// commitCounters tracks the last-seen cumulative counts so repeated
// scrapes only add the delta to each monotonic Prometheus counter.
func (e *PromExporter) commitCounters(snap metricssink.Snapshot) {
	// The sink already holds cumulative totals, so each scrape simply
	// adds the difference since the exporter's own last observation.
	e.addDelta(&e.lastGet, snap.GetCount, e.getTotal)
	e.addDelta(&e.lastPut, snap.PutCount, e.putTotal)
	e.addDelta(&e.lastDel, snap.DelCount, e.delTotal)
	e.addDelta(&e.lastBatch, snap.BatchCount, e.batchTotal)
	e.addDelta(&e.lastEviction, snap.EvictionCount, e.evictionTotal)
}

func (e *PromExporter) addDelta(last *uint64, current uint64, counter prometheus.Counter) {
	if current > *last {
		counter.Add(float64(current - *last))
	}
	*last = current
}

// Router builds the metrics HTTP surface: Prometheus exposition on
// /metrics and a plain JSON health/status body on /healthz, following
// the teacher's api.Router layout.
func Router(exporter *PromExporter, reg prometheus.Gatherer, sink *metricssink.Sink) http.Handler {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.Handle("/metrics", scrapeHandler(exporter, reg)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthHandler(sink)).Methods(http.MethodGet)
	return router
}

func scrapeHandler(exporter *PromExporter, reg prometheus.Gatherer) http.Handler {
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exporter.Collect()
		promHandler.ServeHTTP(w, r)
	})
}

func healthHandler(sink *metricssink.Sink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := sink.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":          "ok",
			"get_count":       snap.GetCount,
			"put_count":       snap.PutCount,
			"del_count":       snap.DelCount,
			"memory_bytes":    snap.MemoryBytes,
			"replication_lag": snap.ReplicationLag,
		})
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("metrics http request")
		next.ServeHTTP(w, r)
	})
}
