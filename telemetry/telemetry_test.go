package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncHotReload("parkgate.yaml")
	collector.IncPoll("status", OutcomeOK)
	collector.SetConnected(true)
}

func TestPrometheusCollectorRegistersAndReusesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncHotReload("a.yaml")

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.hotReloads, again.hotReloads)
	again.IncHotReload("a.yaml")

	mf := family(t, reg, "parkgate_config_hot_reload_total")
	require.Len(t, mf.Metric, 1)
	require.Equal(t, float64(2), mf.Metric[0].Counter.GetValue())
}

func TestPrometheusCollectorRecordsPollsAndConnectivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncPoll("status", OutcomeOK)
	collector.IncPoll("status", OutcomeOK)
	collector.IncPoll("params", OutcomeError)
	collector.IncPollSkipped("params")
	collector.SetConnected(true)
	collector.SetConnected(false)
	collector.IncReconcile(true)
	collector.IncHistoryDropped()

	polls := family(t, reg, "parkgate_polls_total")
	require.Len(t, polls.Metric, 2)
	require.Equal(t, float64(1), counterWithLabels(t, polls, "params", OutcomeError))
	require.Equal(t, float64(2), counterWithLabels(t, polls, "status", OutcomeOK))

	connected := family(t, reg, "parkgate_device_connected")
	require.Equal(t, float64(0), connected.Metric[0].Gauge.GetValue())

	dropped := family(t, reg, "parkgate_history_dropped_total")
	require.Equal(t, float64(1), dropped.Metric[0].Counter.GetValue())
}

func TestRegisterRejectsConflictingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: "parkgate_conflict", Help: "a"}))
	require.NoError(t, err)
	_, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: "parkgate_conflict", Help: "a"}))
	require.Error(t, err)
}

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	metrics, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range metrics {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return nil
}

func counterWithLabels(t *testing.T, mf *dto.MetricFamily, values ...string) float64 {
	t.Helper()
	for _, metric := range mf.Metric {
		labels := metric.GetLabel()
		if len(labels) != len(values) {
			continue
		}
		match := true
		for i, label := range labels {
			if label.GetValue() != values[i] {
				match = false
				break
			}
		}
		if match {
			return metric.Counter.GetValue()
		}
	}
	t.Fatalf("no %s sample with labels %v", mf.GetName(), values)
	return 0
}
