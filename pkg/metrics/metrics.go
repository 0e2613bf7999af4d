package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global metrics, registered on the default registry by promauto.

var (
	// HttpRequestsTotal counts API requests by method, route and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HttpRequestDuration measures server response time.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lattice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "path"},
	)

	// Nodes tracks the transmitter nodes currently registered.
	Nodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lattice_nodes",
		Help: "Number of live transmitter nodes",
	})

	// CompressedNodes tracks how many live nodes are compressed.
	CompressedNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lattice_compressed_nodes",
		Help: "Number of live compressed transmitter nodes",
	})

	// Items tracks the items held by live nodes.
	Items = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lattice_items",
		Help: "Number of items stored in live transmitter nodes",
	})

	ItemsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_items_added_total",
		Help: "Total number of items appended",
	})

	NodesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_nodes_created_total",
			Help: "Transmitter nodes created, by reason",
		},
		[]string{"reason"}, // explicit, cold_start, overflow
	)

	NodesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_nodes_pruned_total",
		Help: "Transmitter nodes removed by maintenance",
	})

	// Compressions counts compression attempts by outcome.
	Compressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_compressions_total",
			Help: "Compression attempts by outcome",
		},
		[]string{"status"},
	)

	MaintenanceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_maintenance_errors_total",
		Help: "Per-node failures isolated during maintenance ticks",
	})

	MaintenanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lattice_maintenance_duration_seconds",
		Help:    "Duration of maintenance ticks",
		Buckets: prometheus.DefBuckets,
	})

	// SearchDuration measures queries by mode (route, hybrid).
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lattice_search_duration_seconds",
			Help:    "Duration of lattice queries in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"mode"},
	)
)
