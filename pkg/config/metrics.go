package config

import (
	"github.com/tidefs/tidegate/pkg/metrics"
	promMetrics "github.com/tidefs/tidegate/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from
// configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Adapter instruments the protocol gateway (never nil, noop if disabled)
	Adapter metrics.AdapterMetrics

	// Store instruments the node store (never nil, noop if disabled)
	Store metrics.StoreMetrics
}

// InitializeMetrics creates all metrics components based on configuration.
//
// When metrics are enabled it initializes the global Prometheus registry,
// creates the metrics HTTP server, and returns Prometheus-backed
// collectors. When disabled it returns a nil server and no-op collectors.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Server:  nil,
			Adapter: metrics.NewNoopAdapterMetrics(),
			Store:   metrics.NewNoopStoreMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:  server,
		Adapter: promMetrics.NewAdapterMetrics(),
		Store:   promMetrics.NewStoreMetrics(cfg.Store.Type),
	}
}
