package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "delphor"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	operationsOnce sync.Once
	operationsReg  *OperationMetrics

	vaultOnce sync.Once
	vaultReg  *VaultMetrics

	oracleOnce sync.Once
	oracleReg  *OracleMetrics

	feederOnce sync.Once
	feederReg  *FeederMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record HTTP API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// OperationMetrics counts state transitions executed by the node.
type OperationMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// Operations returns the singleton registry for node operations.
func Operations() *OperationMetrics {
	operationsOnce.Do(func() {
		operationsReg = &OperationMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "operations_total",
				Help:      "Count of node operations segmented by module, operation and outcome.",
			}, []string{"module", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for node operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "operation_errors_total",
				Help:      "Count of rejected node operations segmented by reason.",
			}, []string{"module", "operation", "reason"}),
		}
		prometheus.MustRegister(operationsReg.requests, operationsReg.latency, operationsReg.errors)
	})
	return operationsReg
}

// Observe records one operation. Reasons use the error text up to the first
// colon so wrapped detail does not explode label cardinality.
func (m *OperationMetrics) Observe(module, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	module = labelOrUnknown(module)
	operation = labelOrUnknown(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(module, operation, errorReason(err)).Inc()
	}
	m.requests.WithLabelValues(module, operation, outcome).Inc()
	m.latency.WithLabelValues(module, operation).Observe(duration.Seconds())
}

// VaultMetrics tracks executed swaps and custody flows.
type VaultMetrics struct {
	swaps    *prometheus.CounterVec
	volume   *prometheus.CounterVec
	fees     *prometheus.HistogramVec
	deposits *prometheus.CounterVec
}

// Vault returns the singleton registry for vault activity.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultReg = &VaultMetrics{
			swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "swaps_total",
				Help:      "Count of executed swaps segmented by sold and bought token and vault kind.",
			}, []string{"sell", "buy", "kind"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "swap_volume_base_units",
				Help:      "Base units exchanged through vaults segmented by token and direction.",
			}, []string{"token", "direction"}),
			fees: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "swap_fee_bps",
				Help:      "Distribution of applied swap fees in basis points.",
				Buckets:   []float64{0, 5, 10, 15, 20, 25, 30, 50, 100},
			}, []string{"leg", "kind"}),
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "custody_flows_total",
				Help:      "Count of deposits and withdrawals segmented by token.",
			}, []string{"token", "direction"}),
		}
		prometheus.MustRegister(vaultReg.swaps, vaultReg.volume, vaultReg.fees, vaultReg.deposits)
	})
	return vaultReg
}

// RecordSwap records a committed swap.
func (m *VaultMetrics) RecordSwap(sell, buy, kind string, sold, received uint64, sellFee, buyFee uint16) {
	if m == nil {
		return
	}
	sell, buy = labelAsset(sell), labelAsset(buy)
	kind = labelOrUnknown(kind)
	m.swaps.WithLabelValues(sell, buy, kind).Inc()
	m.volume.WithLabelValues(sell, "in").Add(float64(sold))
	m.volume.WithLabelValues(buy, "out").Add(float64(received))
	m.fees.WithLabelValues("sell", kind).Observe(float64(sellFee))
	m.fees.WithLabelValues("buy", kind).Observe(float64(buyFee))
}

// RecordCustody records a committed deposit ("in") or withdrawal ("out").
func (m *VaultMetrics) RecordCustody(token, direction string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(labelAsset(token), labelOrUnknown(direction)).Inc()
}

// OracleMetrics tracks aggregation outcomes and the published price state.
type OracleMetrics struct {
	updates *prometheus.CounterVec
	price   *prometheus.GaugeVec
	cv      *prometheus.GaugeVec
	sources *prometheus.GaugeVec
}

// Oracle returns the singleton registry for price aggregation.
func Oracle() *OracleMetrics {
	oracleOnce.Do(func() {
		oracleReg = &OracleMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "updates_total",
				Help:      "Count of price update attempts segmented by token and outcome.",
			}, []string{"token", "outcome"}),
			price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "price",
				Help:      "Last accepted aggregated price, scaled to whole units.",
			}, []string{"token"}),
			cv: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "coefficient_of_variation_permille",
				Help:      "Coefficient of variation of the selected window, per mille.",
			}, []string{"token"}),
			sources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "sources",
				Help:      "Number of sources that contributed to the last accepted price.",
			}, []string{"token"}),
		}
		prometheus.MustRegister(oracleReg.updates, oracleReg.price, oracleReg.cv, oracleReg.sources)
	})
	return oracleReg
}

// RecordAccepted publishes an accepted price. decimals is the price scale.
func (m *OracleMetrics) RecordAccepted(token string, price uint64, decimals uint8, cv uint64, sources int) {
	if m == nil {
		return
	}
	token = labelAsset(token)
	m.updates.WithLabelValues(token, "accepted").Inc()
	scaled := float64(price)
	for i := uint8(0); i < decimals; i++ {
		scaled /= 10
	}
	m.price.WithLabelValues(token).Set(scaled)
	m.cv.WithLabelValues(token).Set(float64(cv))
	m.sources.WithLabelValues(token).Set(float64(sources))
}

// RecordRejected counts a rejected update.
func (m *OracleMetrics) RecordRejected(token string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(labelAsset(token), "rejected").Inc()
}

// FeederMetrics wraps collectors for the price feeder daemon.
type FeederMetrics struct {
	fetches   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	published *prometheus.CounterVec
	skipped   *prometheus.CounterVec
}

// Feeder exposes the metrics registry for feederd.
func Feeder() *FeederMetrics {
	feederOnce.Do(func() {
		feederReg = &FeederMetrics{
			fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feederd",
				Name:      "fetches_total",
				Help:      "Count of source fetches segmented by source and outcome.",
			}, []string{"source", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "feederd",
				Name:      "fetch_duration_seconds",
				Help:      "Latency distribution for source fetches.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"source"}),
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feederd",
				Name:      "published_total",
				Help:      "Count of observations published to the node segmented by token and outcome.",
			}, []string{"token", "outcome"}),
			skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feederd",
				Name:      "skipped_total",
				Help:      "Count of observations withheld segmented by token and reason.",
			}, []string{"token", "reason"}),
		}
		prometheus.MustRegister(feederReg.fetches, feederReg.latency, feederReg.published, feederReg.skipped)
	})
	return feederReg
}

// ObserveFetch records one source fetch.
func (m *FeederMetrics) ObserveFetch(source string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	source = labelOrUnknown(source)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(source, outcome).Inc()
	m.latency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordPublish counts one publish attempt.
func (m *FeederMetrics) RecordPublish(token string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.published.WithLabelValues(labelAsset(token), outcome).Inc()
}

// RecordSkip counts an observation that was not published.
func (m *FeederMetrics) RecordSkip(token, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(labelAsset(token), labelOrUnknown(reason)).Inc()
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func labelOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func errorReason(err error) string {
	reason := strings.TrimSpace(err.Error())
	if idx := strings.Index(reason, ": "); idx > 0 {
		if next := strings.Index(reason[idx+2:], ":"); next > 0 {
			reason = reason[:idx+2+next]
		}
	}
	if reason == "" {
		return "unknown"
	}
	return reason
}
