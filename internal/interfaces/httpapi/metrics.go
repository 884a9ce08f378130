package httpapi

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var usdScale = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))

// Metrics exports engine, consumer and HTTP signals to prometheus.
type Metrics struct {
	gatherer   prometheus.Gatherer
	operations *prometheus.CounterVec
	pending    prometheus.Gauge
	pendingUSD prometheus.Gauge
	reorgs     *prometheus.CounterVec
	kafkaErrs  *prometheus.CounterVec
	requests   *prometheus.HistogramVec
}

// NewMetrics registers the bridge collectors on registry, or on a fresh
// registry when nil.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)
	return &Metrics{
		gatherer: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "operations_total",
			Help:      "Settlement operations by name and result.",
		}, []string{"op", "result"}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Name:      "pending_transfers",
			Help:      "Outbound transfers inside the finality window.",
		}),
		pendingUSD: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Name:      "pending_usd",
			Help:      "USD value of outbound transfers inside the finality window.",
		}),
		reorgs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "reorgs_total",
			Help:      "Displaced inbound records by origin and whether insurance covered them.",
		}, []string{"origin", "compensated"}),
		kafkaErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "kafka_consumer_errors_total",
			Help:      "Inbound consumer errors by kind.",
		}, []string{"kind"}),
		requests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bridge",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) OnOperation(op string, err error) {
	_, result := Classify(err)
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) OnPending(count int, amount *uint256.Int) {
	m.pending.Set(float64(count))
	if amount == nil {
		m.pendingUSD.Set(0)
		return
	}
	usd, _ := new(big.Float).Quo(new(big.Float).SetInt(amount.ToBig()), usdScale).Float64()
	m.pendingUSD.Set(usd)
}

func (m *Metrics) OnReorg(origin uint32, compensated bool) {
	m.reorgs.WithLabelValues(strconv.FormatUint(uint64(origin), 10), strconv.FormatBool(compensated)).Inc()
}

func (m *Metrics) IncKafkaFetchErr() {
	m.kafkaErrs.WithLabelValues("fetch").Inc()
}

func (m *Metrics) IncKafkaDecodeErr() {
	m.kafkaErrs.WithLabelValues("decode").Inc()
}

func (m *Metrics) IncKafkaApplyErr() {
	m.kafkaErrs.WithLabelValues("apply").Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}
