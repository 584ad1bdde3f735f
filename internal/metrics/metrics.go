// Package metrics exposes the supervisor's Prometheus instrumentation:
// worker lifecycle counters, reload timings, IPC traffic, and per-output
// backpressure accounting.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric the server emits. Construct one per process
// with NewCollector; tests pass their own registry so collectors never
// collide.
type Collector struct {
	registry *prometheus.Registry

	workerRespawns   prometheus.Counter
	reloads          prometheus.Counter
	reloadDuration   prometheus.Histogram
	snapshotFailures prometheus.Counter

	requestTimeouts prometheus.Counter
	pendingRequests prometheus.Gauge
	ipcMessages     *prometheus.CounterVec

	connectedSessions prometheus.Gauge
	droppedFrames     prometheus.Counter
	outputBytes       prometheus.Counter
}

// NewCollector builds and registers all metrics on a private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		workerRespawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tileworld_worker_respawns_total",
			Help: "Worker processes respawned after a crash",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tileworld_reloads_total",
			Help: "Hot reloads performed",
		}),
		reloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tileworld_reload_duration_seconds",
			Help:    "Wall time of a full worker handoff",
			Buckets: prometheus.DefBuckets,
		}),
		snapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tileworld_reload_snapshot_failures_total",
			Help: "Reloads that proceeded without session snapshots",
		}),
		requestTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tileworld_request_timeouts_total",
			Help: "Worker requests that timed out",
		}),
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tileworld_pending_requests",
			Help: "In-flight correlated requests to the worker",
		}),
		ipcMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tileworld_ipc_messages_total",
			Help: "IPC messages by direction",
		}, []string{"direction"}),
		connectedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tileworld_connected_sessions",
			Help: "Currently connected terminal sessions",
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tileworld_output_dropped_frames_total",
			Help: "Frames skipped or dropped under output backpressure",
		}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tileworld_output_bytes_total",
			Help: "Bytes written to client connections",
		}),
	}

	c.registry.MustRegister(
		c.workerRespawns,
		c.reloads,
		c.reloadDuration,
		c.snapshotFailures,
		c.requestTimeouts,
		c.pendingRequests,
		c.ipcMessages,
		c.connectedSessions,
		c.droppedFrames,
		c.outputBytes,
	)
	return c
}

// Handler serves the /metrics scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordRespawn() { c.workerRespawns.Inc() }

func (c *Collector) RecordReload(seconds float64) {
	c.reloads.Inc()
	c.reloadDuration.Observe(seconds)
}
func (c *Collector) RecordSnapshotFailure() { c.snapshotFailures.Inc() }

func (c *Collector) RecordRequestTimeout() { c.requestTimeouts.Inc() }

func (c *Collector) SetPendingRequests(n int) {
	c.pendingRequests.Set(float64(n))
}

func (c *Collector) RecordIPCMessage(direction string) {
	c.ipcMessages.WithLabelValues(direction).Inc()
}

func (c *Collector) SessionConnected() { c.connectedSessions.Inc() }

func (c *Collector) SessionDisconnected() { c.connectedSessions.Dec() }

func (c *Collector) RecordDroppedFrame() { c.droppedFrames.Inc() }

func (c *Collector) RecordOutputBytes(n int) {
	c.outputBytes.Add(float64(n))
}
