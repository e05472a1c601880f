// Package metrics exposes Prometheus instruments for the sniper.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

const namespace = "dexsniper"

// Metrics holds every instrument. It is registered on its own registry so
// tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	ContractCalls   *prometheus.CounterVec   // labels: method, outcome
	ContractLatency *prometheus.HistogramVec // labels: method

	Admissions *prometheus.CounterVec // labels: result (admitted or a reject reason)
	Snipes     *prometheus.CounterVec // labels: outcome
	Exits      *prometheus.CounterVec // labels: reason
	ExitErrors prometheus.Counter

	OpenPositions  prometheus.Gauge
	RealizedProfit prometheus.Counter
	RealizedLoss   prometheus.Counter
	FeesWei        prometheus.Counter

	MonitorTick     prometheus.Histogram
	PairsDiscovered prometheus.Counter
	PolicyVersion   prometheus.Gauge
	Paused          prometheus.Gauge
}

// New registers and returns all instruments, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ContractCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_calls_total",
			Help:      "Contract calls by method and outcome (ok, revert, unavailable)",
		}, []string{"method", "outcome"}),
		ContractLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "contract_call_duration_seconds",
			Help:      "Contract call latency",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Candidate evaluations by result",
		}, []string{"result"}),
		Snipes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snipes_total",
			Help:      "Snipe attempts by outcome",
		}, []string{"outcome"}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exits_total",
			Help:      "Closed positions by exit reason",
		}, []string{"reason"}),
		ExitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exit_errors_total",
			Help:      "Exit attempts that failed and were left open",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions currently open",
		}),
		RealizedProfit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realized_profit_wei_total",
			Help:      "Sum of positive realized pnl in wei",
		}),
		RealizedLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realized_loss_wei_total",
			Help:      "Sum of realized losses in wei (absolute)",
		}),
		FeesWei: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exit_fees_wei_total",
			Help:      "Exit fees collected in wei",
		}),
		MonitorTick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_tick_duration_seconds",
			Help:      "Time to evaluate every open position once",
			Buckets:   prometheus.DefBuckets,
		}),
		PairsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairs_discovered_total",
			Help:      "New pairs seen by the discovery scanner",
		}),
		PolicyVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "policy_version",
			Help:      "Version of the active policy snapshot",
		}),
		Paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sniping_paused",
			Help:      "1 while sniping is paused",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ContractCalls,
		m.ContractLatency,
		m.Admissions,
		m.Snipes,
		m.Exits,
		m.ExitErrors,
		m.OpenPositions,
		m.RealizedProfit,
		m.RealizedLoss,
		m.FeesWei,
		m.MonitorTick,
		m.PairsDiscovered,
		m.PolicyVersion,
		m.Paused,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall records one contract call. It satisfies chain.Observer.
func (m *Metrics) ObserveCall(method string, elapsed time.Duration, err error) {
	m.ContractLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	m.ContractCalls.WithLabelValues(method, callOutcome(err)).Inc()
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidToken):
		return "revert"
	default:
		return "unavailable"
	}
}

// ObserveAdmission counts an admission decision.
func (m *Metrics) ObserveAdmission(d domain.AdmissionDecision) {
	result := "admitted"
	if !d.Admitted {
		result = string(d.Reason)
	}
	m.Admissions.WithLabelValues(result).Inc()
}

// ObserveClose counts a settled exit.
func (m *Metrics) ObserveClose(pos domain.Position) {
	m.Exits.WithLabelValues(string(pos.ExitReason)).Inc()
	m.FeesWei.Add(pos.ExitFee.InexactFloat64())
	pnl := pos.RealizedPnL.InexactFloat64()
	if pnl >= 0 {
		m.RealizedProfit.Add(pnl)
	} else {
		m.RealizedLoss.Add(-pnl)
	}
}

// ObserveSnipe counts a snipe attempt by outcome.
func (m *Metrics) ObserveSnipe(outcome string) {
	m.Snipes.WithLabelValues(outcome).Inc()
}

// ObserveExitError counts an exit attempt that left the position open.
func (m *Metrics) ObserveExitError() {
	m.ExitErrors.Inc()
}

// SetOpenPositions records the size of the position book.
func (m *Metrics) SetOpenPositions(n int) {
	m.OpenPositions.Set(float64(n))
}

// ObserveMonitorTick records how long one monitor pass took.
func (m *Metrics) ObserveMonitorTick(d time.Duration) {
	m.MonitorTick.Observe(d.Seconds())
}

// ObservePairs counts pairs returned by a discovery scan.
func (m *Metrics) ObservePairs(n int) {
	m.PairsDiscovered.Add(float64(n))
}

// ObservePolicy records the active policy version and pause flag.
func (m *Metrics) ObservePolicy(version int64, paused bool) {
	m.PolicyVersion.Set(float64(version))
	if paused {
		m.Paused.Set(1)
	} else {
		m.Paused.Set(0)
	}
}
