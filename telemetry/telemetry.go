package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Poll outcomes recorded by IncPoll.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeStale = "stale"
)

// Collector captures telemetry events emitted by the client.
//
// Hooks run inline on the session loop, so implementations must not block.
type Collector interface {
	IncPoll(kind, outcome string)
	IncPollSkipped(kind string)
	SetConnected(connected bool)
	IncSave(outcome string)
	IncReconcile(applied bool)
	IncHistoryDropped()
	IncHotReload(file string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncPoll(string, string) {}
func (noopCollector) IncPollSkipped(string)  {}
func (noopCollector) SetConnected(bool)      {}
func (noopCollector) IncSave(string)         {}
func (noopCollector) IncReconcile(bool)      {}
func (noopCollector) IncHistoryDropped()     {}
func (noopCollector) IncHotReload(string)    {}

// PrometheusCollector exposes telemetry via Prometheus.
type PrometheusCollector struct {
	polls          *prometheus.CounterVec
	pollsSkipped   *prometheus.CounterVec
	connected      prometheus.Gauge
	saves          *prometheus.CounterVec
	reconciles     *prometheus.CounterVec
	historyDropped prometheus.Counter
	hotReloads     *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg. Metrics that are
// already registered, e.g. after a hot reload, are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var (
		p   PrometheusCollector
		err error
	)
	if p.polls, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parkgate_polls_total",
		Help: "Completed device polls per kind and outcome.",
	}, []string{"kind", "outcome"})); err != nil {
		return nil, err
	}
	if p.pollsSkipped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parkgate_polls_skipped_total",
		Help: "Timed polls not issued because the previous one of the same kind was still in flight.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if p.connected, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parkgate_device_connected",
		Help: "1 when the last status poll succeeded, 0 otherwise.",
	})); err != nil {
		return nil, err
	}
	if p.saves, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parkgate_parameter_saves_total",
		Help: "Parameter save attempts per outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if p.reconciles, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parkgate_parameter_reconciles_total",
		Help: "Parameter reconciliations, split by whether the edit buffer was overwritten.",
	}, []string{"applied"})); err != nil {
		return nil, err
	}
	if p.historyDropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parkgate_history_dropped_total",
		Help: "Snapshots not recorded because the history queue was full.",
	})); err != nil {
		return nil, err
	}
	if p.hotReloads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parkgate_config_hot_reload_total",
		Help: "Number of hot reload operations triggered per configuration source file.",
	}, []string{"file"})); err != nil {
		return nil, err
	}
	return &p, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// IncPoll counts a completed poll.
func (p *PrometheusCollector) IncPoll(kind, outcome string) {
	if p == nil {
		return
	}
	p.polls.WithLabelValues(kind, outcome).Inc()
}

// IncPollSkipped counts a timed poll that was not issued.
func (p *PrometheusCollector) IncPollSkipped(kind string) {
	if p == nil {
		return
	}
	p.pollsSkipped.WithLabelValues(kind).Inc()
}

// SetConnected updates the connectivity gauge.
func (p *PrometheusCollector) SetConnected(connected bool) {
	if p == nil {
		return
	}
	if connected {
		p.connected.Set(1)
		return
	}
	p.connected.Set(0)
}

// IncSave counts a save attempt.
func (p *PrometheusCollector) IncSave(outcome string) {
	if p == nil {
		return
	}
	p.saves.WithLabelValues(outcome).Inc()
}

// IncReconcile counts a parameter reconciliation.
func (p *PrometheusCollector) IncReconcile(applied bool) {
	if p == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	p.reconciles.WithLabelValues(label).Inc()
}

// IncHistoryDropped counts a snapshot the recorder had to drop.
func (p *PrometheusCollector) IncHistoryDropped() {
	if p == nil {
		return
	}
	p.historyDropped.Inc()
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}
