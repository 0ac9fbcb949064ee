package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cssync_api_requests_total",
			Help: "Number of API requests",
		},
		[]string{"method", "path", "status"},
	)
	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cssync_api_latency_seconds",
			Help:    "API latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cssync_runs_total",
			Help: "Synchronization runs by outcome",
		},
		[]string{"source", "status"},
	)
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cssync_run_duration_seconds",
			Help:    "Duration of synchronization runs",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"source"},
	)
	Rows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cssync_rows_total",
			Help: "Destination rows by outcome",
		},
		[]string{"source", "table", "outcome"},
	)
	SchemaColumnsAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cssync_schema_columns_added_total",
			Help: "Columns added to destination tables",
		},
		[]string{"table"},
	)
	FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cssync_source_fetch_errors_total",
			Help: "Source fetch failures by kind",
		},
		[]string{"source", "kind"},
	)
	LastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cssync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		},
		[]string{"source"},
	)
	Mappings = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cssync_mappings_total",
			Help: "Enabled field mappings per source",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequests,
		APILatency,
		Runs,
		RunDuration,
		Rows,
		SchemaColumnsAdded,
		FetchErrors,
		LastSuccess,
		Mappings,
	)
}

// MappingCounter is implemented by registries able to count mappings per source.
type MappingCounter interface {
	CountMappings(ctx context.Context) (map[string]int, error)
}

// StartMappingGauge refreshes the mapping gauge every 30 seconds until ctx ends.
func StartMappingGauge(ctx context.Context, repo MappingCounter, logger *zap.SugaredLogger) {
	if repo == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				counts, err := repo.CountMappings(ctx)
				if err != nil {
					logger.Warnw("count mappings", "error", err)
					continue
				}
				for s, n := range counts {
					Mappings.WithLabelValues(s).Set(float64(n))
				}
			}
		}
	}()
}
