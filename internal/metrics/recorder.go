package metrics

import (
	"time"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordCycle records a completed poll cycle.
func (r *Recorder) RecordCycle(agent, outcome string) {
	PollCyclesTotal.WithLabelValues(agent, outcome).Inc()
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordSignal records a detected signal.
func (r *Recorder) RecordSignal(agent, signalType string) {
	SignalsTotal.WithLabelValues(agent, signalType).Inc()
}

// RecordPlan records a built trading plan.
func (r *Recorder) RecordPlan(agent, kind string) {
	PlansTotal.WithLabelValues(agent, kind).Inc()
}

// RecordOrder records a primary order outcome.
func (r *Recorder) RecordOrder(symbol, side, status string) {
	OrdersTotal.WithLabelValues(symbol, side, status).Inc()
}

// RecordProtectiveLegFailure records a failed protective leg.
func (r *Recorder) RecordProtectiveLegFailure(symbol, leg string) {
	ProtectiveLegFailures.WithLabelValues(symbol, leg).Inc()
}

// RecordMarginRejection records a margin check rejection.
func (r *Recorder) RecordMarginRejection() {
	MarginRejections.Inc()
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordGatewayStatus records gateway connectivity.
func (r *Recorder) RecordGatewayStatus(connected bool) {
	if connected {
		GatewayConnected.Set(1)
	} else {
		GatewayConnected.Set(0)
	}
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveCycle observes the elapsed time as cycle latency.
func (t *Timer) ObserveCycle() {
	CycleLatency.Observe(t.Elapsed().Seconds())
}

// ObserveOrder observes the elapsed time as order latency.
func (t *Timer) ObserveOrder() {
	OrderLatency.Observe(t.Elapsed().Seconds())
}
