package telemetry

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	PacketsCaptured atomic.Int64
	FramesDropped   atomic.Int64
	DissectErrors   atomic.Int64
	ActiveWorkers   atomic.Int64
	QueueDepth      atomic.Int64

	latencySum   atomic.Int64
	latencyCount atomic.Int64

	customGauges   map[string]*atomic.Int64
	customCounters map[string]*atomic.Int64
}

var (
	globalMetrics *Metrics
	once          sync.Once
)

func Initialize() *Metrics {
	return &Metrics{
		customGauges:   make(map[string]*atomic.Int64),
		customCounters: make(map[string]*atomic.Int64),
	}
}

func Global() *Metrics {
	once.Do(func() {
		globalMetrics = Initialize()
	})
	return globalMetrics
}

func (m *Metrics) IncrementPacketsCaptured() {
	m.PacketsCaptured.Add(1)
}

func (m *Metrics) IncrementFramesDropped() {
	m.FramesDropped.Add(1)
}

func (m *Metrics) IncrementDissectErrors() {
	m.DissectErrors.Add(1)
}

func (m *Metrics) IncrementActiveWorkers() {
	m.ActiveWorkers.Add(1)
}

func (m *Metrics) DecrementActiveWorkers() {
	m.ActiveWorkers.Add(-1)
}

func (m *Metrics) SetQueueDepth(depth int64) {
	m.QueueDepth.Store(depth)
}

func (m *Metrics) RecordLatency(duration time.Duration) {
	microseconds := duration.Microseconds()
	m.latencySum.Add(microseconds)
	m.latencyCount.Add(1)
}

func (m *Metrics) GetAverageLatency() time.Duration {
	count := m.latencyCount.Load()
	if count == 0 {
		return 0
	}
	sum := m.latencySum.Load()
	return time.Duration(sum/count) * time.Microsecond
}

func (m *Metrics) SetCustomGauge(name string, value int64) {
	m.mu.Lock()
	gauge, exists := m.customGauges[name]
	if !exists {
		gauge = &atomic.Int64{}
		m.customGauges[name] = gauge
	}
	m.mu.Unlock()
	gauge.Store(value)
}

func (m *Metrics) IncrementCustomCounter(name string) {
	m.mu.Lock()
	counter, exists := m.customCounters[name]
	if !exists {
		counter = &atomic.Int64{}
		m.customCounters[name] = counter
	}
	m.mu.Unlock()
	counter.Add(1)
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP topowatch_packets_captured Total number of frames pulled off the wire\n")
	fmt.Fprintf(w, "# TYPE topowatch_packets_captured counter\n")
	fmt.Fprintf(w, "topowatch_packets_captured %d\n", m.PacketsCaptured.Load())

	fmt.Fprintf(w, "# HELP topowatch_frames_dropped Total number of frames dropped under backpressure\n")
	fmt.Fprintf(w, "# TYPE topowatch_frames_dropped counter\n")
	fmt.Fprintf(w, "topowatch_frames_dropped %d\n", m.FramesDropped.Load())

	fmt.Fprintf(w, "# HELP topowatch_dissect_errors Total number of frames that failed dissection at some layer\n")
	fmt.Fprintf(w, "# TYPE topowatch_dissect_errors counter\n")
	fmt.Fprintf(w, "topowatch_dissect_errors %d\n", m.DissectErrors.Load())

	fmt.Fprintf(w, "# HELP topowatch_active_workers Current number of dissection workers\n")
	fmt.Fprintf(w, "# TYPE topowatch_active_workers gauge\n")
	fmt.Fprintf(w, "topowatch_active_workers %d\n", m.ActiveWorkers.Load())

	fmt.Fprintf(w, "# HELP topowatch_queue_depth Current depth of the ingestion queue\n")
	fmt.Fprintf(w, "# TYPE topowatch_queue_depth gauge\n")
	fmt.Fprintf(w, "topowatch_queue_depth %d\n", m.QueueDepth.Load())

	fmt.Fprintf(w, "# HELP topowatch_avg_latency_microseconds Average per-packet pipeline latency in microseconds\n")
	fmt.Fprintf(w, "# TYPE topowatch_avg_latency_microseconds gauge\n")
	fmt.Fprintf(w, "topowatch_avg_latency_microseconds %d\n", m.GetAverageLatency().Microseconds())

	m.mu.RLock()
	for name, gauge := range m.customGauges {
		fmt.Fprintf(w, "# HELP topowatch_%s Custom gauge metric\n", name)
		fmt.Fprintf(w, "# TYPE topowatch_%s gauge\n", name)
		fmt.Fprintf(w, "topowatch_%s %d\n", name, gauge.Load())
	}
	for name, counter := range m.customCounters {
		fmt.Fprintf(w, "# HELP topowatch_%s Custom counter metric\n", name)
		fmt.Fprintf(w, "# TYPE topowatch_%s counter\n", name)
		fmt.Fprintf(w, "topowatch_%s %d\n", name, counter.Load())
	}
	m.mu.RUnlock()
}

func (m *Metrics) StartMetricsServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return http.ListenAndServe(addr, mux)
}
