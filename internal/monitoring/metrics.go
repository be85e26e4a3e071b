package monitoring

import (
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pool-api/internal/models"
)

// MetricsService exposes the instrumentation the services record: HTTP
// traffic, fund operations, the pool gauges and reconciliation outcomes.
type MetricsService interface {
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)

	RecordFundOperation(operation, status string, duration time.Duration)
	RecordTransaction(txType, status string)
	RecordTransactionVolume(currency string, amount float64)

	RecordPoolBalances(pool *models.PoolAccount)
	RecordReconciliation(scope string, discrepancies int)
	RecordGatewaySync(inSync bool, difference float64)

	RecordExternalCall(service, operation string, success bool, duration time.Duration)
	RecordSystemMetrics()
}

type prometheusMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	fundOperationsTotal    *prometheus.CounterVec
	fundOperationDuration  *prometheus.HistogramVec
	transactionsTotal      *prometheus.CounterVec
	transactionVolumeTotal *prometheus.CounterVec

	poolTotalGauge       prometheus.Gauge
	poolAllocatedGauge   prometheus.Gauge
	poolReservedGauge    prometheus.Gauge
	poolUnallocatedGauge prometheus.Gauge

	reconciliationDiscrepancies *prometheus.GaugeVec
	gatewaySyncGauge            prometheus.Gauge
	gatewayDifferenceGauge      prometheus.Gauge

	externalCallsTotal   *prometheus.CounterVec
	externalCallDuration *prometheus.HistogramVec

	memoryUsageGauge    prometheus.Gauge
	goroutineCountGauge prometheus.Gauge
	uptimeGauge         prometheus.Gauge

	startTime time.Time
}

func NewPrometheusMetrics() MetricsService {
	m := &prometheusMetrics{startTime: time.Now()}

	m.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)
	m.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pool_api_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	m.fundOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_api_fund_operations_total",
			Help: "Total number of fund operations",
		},
		[]string{"operation", "status"},
	)
	m.fundOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pool_api_fund_operation_duration_seconds",
			Help:    "Fund operation duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"operation"},
	)
	m.transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_api_transactions_total",
			Help: "Total number of transactions by type and status",
		},
		[]string{"type", "status"},
	)
	m.transactionVolumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_api_transaction_volume_total",
			Help: "Total transaction volume",
		},
		[]string{"currency"},
	)

	m.poolTotalGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_api_pool_total_balance",
		Help: "Custodial pool total balance",
	})
	m.poolAllocatedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_api_pool_allocated_balance",
		Help: "Pool balance attributed to users",
	})
	m.poolReservedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_api_pool_reserved_balance",
		Help: "Pool balance reserved for in-flight operations",
	})
	m.poolUnallocatedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_api_pool_unallocated_balance",
		Help: "Pool headroom available for allocation",
	})

	m.reconciliationDiscrepancies = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pool_api_reconciliation_discrepancies",
			Help: "Discrepancies found by the last reconciliation run",
		},
		[]string{"scope"},
	)
	m.gatewaySyncGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_api_gateway_in_sync",
		Help: "Whether the recorded pool total matches the gateway (1 or 0)",
	})
	m.gatewayDifferenceGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_api_gateway_balance_difference",
		Help: "Reported minus recorded custodial balance",
	})

	m.externalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_api_external_service_calls_total",
			Help: "Total number of external service calls",
		},
		[]string{"service", "operation", "success"},
	)
	m.externalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pool_api_external_service_duration_seconds",
			Help:    "External service call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		},
		[]string{"service", "operation"},
	)

	m.memoryUsageGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_api_memory_usage_bytes",
		Help: "Current memory usage in bytes",
	})
	m.goroutineCountGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_api_goroutines_count",
		Help: "Current number of goroutines",
	})
	m.uptimeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_api_uptime_seconds",
		Help: "Application uptime in seconds",
	})

	return m
}

func (m *prometheusMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, fmt.Sprintf("%d", statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordFundOperation(operation, status string, duration time.Duration) {
	m.fundOperationsTotal.WithLabelValues(operation, status).Inc()
	m.fundOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordTransaction(txType, status string) {
	m.transactionsTotal.WithLabelValues(txType, status).Inc()
}

func (m *prometheusMetrics) RecordTransactionVolume(currency string, amount float64) {
	m.transactionVolumeTotal.WithLabelValues(currency).Add(amount)
}

func (m *prometheusMetrics) RecordPoolBalances(pool *models.PoolAccount) {
	m.poolTotalGauge.Set(pool.TotalBalance.InexactFloat64())
	m.poolAllocatedGauge.Set(pool.AllocatedBalance.InexactFloat64())
	m.poolReservedGauge.Set(pool.ReservedBalance.InexactFloat64())
	m.poolUnallocatedGauge.Set(pool.Unallocated().InexactFloat64())
}

func (m *prometheusMetrics) RecordReconciliation(scope string, discrepancies int) {
	m.reconciliationDiscrepancies.WithLabelValues(scope).Set(float64(discrepancies))
}

func (m *prometheusMetrics) RecordGatewaySync(inSync bool, difference float64) {
	if inSync {
		m.gatewaySyncGauge.Set(1)
	} else {
		m.gatewaySyncGauge.Set(0)
	}
	m.gatewayDifferenceGauge.Set(difference)
}

func (m *prometheusMetrics) RecordExternalCall(service, operation string, success bool, duration time.Duration) {
	successStr := "false"
	if success {
		successStr = "true"
	}
	m.externalCallsTotal.WithLabelValues(service, operation, successStr).Inc()
	m.externalCallDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.memoryUsageGauge.Set(float64(memStats.Alloc))
	m.goroutineCountGauge.Set(float64(runtime.NumGoroutine()))
	m.uptimeGauge.Set(time.Since(m.startTime).Seconds())
}

// StartSystemMetricsRecording samples runtime stats on a fixed interval.
func StartSystemMetricsRecording(metrics MetricsService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			metrics.RecordSystemMetrics()
		}
	}()
}
