package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	LabelMode    = "mode"
	LabelOutcome = "outcome"
)

// Request outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeUsage    = "usage"
	OutcomeUpstream = "upstream"
	OutcomeEmpty    = "empty"
	OutcomeInternal = "internal"
)

var sizeBuckets = prometheus.ExponentialBuckets(1, 4, 9)

var RequestCounters = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "attackgraph_requests_total",
	Help: "Graph requests handled, by mode and outcome",
}, []string{LabelMode, LabelOutcome})

var UpstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "attackgraph_upstream_duration_seconds",
	Help:    "Time spent waiting on the ATT&CK API",
	Buckets: prometheus.DefBuckets,
}, []string{LabelMode})

var BuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "attackgraph_build_duration_seconds",
	Help:    "Time spent turning an API response into a graph document",
	Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
})

var GraphNodes = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "attackgraph_graph_nodes",
	Help:    "Nodes per built graph document",
	Buckets: sizeBuckets,
})

var GraphEdges = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "attackgraph_graph_edges",
	Help:    "Edges per built graph document",
	Buckets: sizeBuckets,
})

// Collectors lists every collector this package owns.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RequestCounters,
		UpstreamDuration,
		BuildDuration,
		GraphNodes,
		GraphEdges,
	}
}

func RecordRequest(mode, outcome string) {
	RequestCounters.WithLabelValues(mode, outcome).Inc()
}

func ObserveUpstream(mode string, elapsed time.Duration) {
	UpstreamDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveBuild records one finished build.
func ObserveBuild(elapsed time.Duration, nodes, edges int) {
	BuildDuration.Observe(elapsed.Seconds())
	GraphNodes.Observe(float64(nodes))
	GraphEdges.Observe(float64(edges))
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	prometheus.MustRegister(Collectors()...)
}
