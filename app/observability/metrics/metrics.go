package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
// Make fields public so they can be accessed from other packages.
type AppMetrics struct {
	CityRequestsTotal      metric.Int64Counter
	StoreOpDurationSeconds metric.Float64Histogram
	StoreOpErrorsTotal     metric.Int64Counter
	CacheHitsTotal         metric.Int64Counter
	SyncOperationsTotal    metric.Int64Counter
}

var (
	// Global instance of AppMetrics (initialized once)
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metrics instruments ONLY ONCE.
// It gets the Meter from the globally configured MeterProvider, so call it
// after the provider is installed.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("WorldWiseCities")
		var err error
		m := &AppMetrics{}

		m.CityRequestsTotal, err = meter.Int64Counter(
			"city_requests_total",
			metric.WithDescription("Total number of city store operations requested"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create city_requests_total: %v", err)
		}

		m.StoreOpDurationSeconds, err = meter.Float64Histogram(
			"city_store_op_duration_seconds",
			metric.WithDescription("Duration of record store operations in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create city_store_op_duration_seconds: %v", err)
		}

		m.StoreOpErrorsTotal, err = meter.Int64Counter(
			"city_store_op_errors_total",
			metric.WithDescription("Total number of failed record store operations"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create city_store_op_errors_total: %v", err)
		}

		m.CacheHitsTotal, err = meter.Int64Counter(
			"city_cache_hits_total",
			metric.WithDescription("Total number of city lookups served from cache"),
			metric.WithUnit("{hit}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create city_cache_hits_total: %v", err)
		}

		m.SyncOperationsTotal, err = meter.Int64Counter(
			"city_sync_operations_total",
			metric.WithDescription("Total number of synchronizer operations by terminal action"),
			metric.WithUnit("{operation}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create city_sync_operations_total: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the globally initialized AppMetrics instance, initializing it
// against the current global provider on first use.
func Get() *AppMetrics {
	InitAppMetrics()
	return appMetrics
}
