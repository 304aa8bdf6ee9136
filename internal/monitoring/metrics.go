package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Breaker metrics
	breakerBreached = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riskgate_breaker_breached",
			Help: "1 when the breaker has an active trigger",
		},
		[]string{"breaker"},
	)

	breakerTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgate_breaker_triggers_total",
			Help: "Total number of trigger records created",
		},
		[]string{"breaker"},
	)

	drawdownPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskgate_drawdown_percent",
			Help: "Current drawdown from peak capital",
		},
	)

	winRatePercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskgate_win_rate_percent",
			Help: "Win rate over the rolling window",
		},
	)

	lossStreak = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskgate_consecutive_losses",
			Help: "Current consecutive loss streak",
		},
	)

	// Admission metrics
	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskgate_open_positions",
			Help: "Open positions tracked by the admission controller",
		},
	)

	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskgate_queue_length",
			Help: "Signals waiting for a free position slot",
		},
	)

	admissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgate_admission_decisions_total",
			Help: "Gate verdicts by action",
		},
		[]string{"action"},
	)

	queueTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgate_queue_transitions_total",
			Help: "Queued signals leaving pending state by terminal status",
		},
		[]string{"status"},
	)

	dispatchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgate_dispatch_results_total",
			Help: "Execute callback outcomes",
		},
		[]string{"result"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgate_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(breakerBreached)
	prometheus.MustRegister(breakerTriggers)
	prometheus.MustRegister(drawdownPercent)
	prometheus.MustRegister(winRatePercent)
	prometheus.MustRegister(lossStreak)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(queueLength)
	prometheus.MustRegister(admissionDecisions)
	prometheus.MustRegister(queueTransitions)
	prometheus.MustRegister(dispatchResults)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// SetBreached updates the breached flag of a breaker
func SetBreached(breaker string, breached bool) {
	v := 0.0
	if breached {
		v = 1.0
	}
	breakerBreached.WithLabelValues(breaker).Set(v)
}

// RecordTrigger counts a newly persisted trigger record
func RecordTrigger(breaker string) {
	breakerTriggers.WithLabelValues(breaker).Inc()
}

// UpdateDrawdown updates the drawdown gauge
func UpdateDrawdown(percent float64) {
	drawdownPercent.Set(percent)
}

// UpdateWinRate updates the rolling win rate gauge
func UpdateWinRate(percent float64) {
	winRatePercent.Set(percent)
}

// UpdateLossStreak updates the consecutive loss gauge
func UpdateLossStreak(streak int) {
	lossStreak.Set(float64(streak))
}

// UpdateSlots updates open position and queue gauges
func UpdateSlots(open, queued int) {
	openPositions.Set(float64(open))
	queueLength.Set(float64(queued))
}

// RecordDecision counts a gate verdict
func RecordDecision(action string) {
	admissionDecisions.WithLabelValues(action).Inc()
}

// RecordQueueTransition counts a queued signal reaching a terminal status
func RecordQueueTransition(status string) {
	queueTransitions.WithLabelValues(status).Inc()
}

// RecordDispatch counts an execute callback outcome
func RecordDispatch(result string) {
	dispatchResults.WithLabelValues(result).Inc()
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
