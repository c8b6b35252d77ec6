package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Armada/internal/domain"
)

const namespace = "armada"

// Metrics — Prometheus метрики флота.
//
// Метрики обновляются из потока событий (Metrics реализует Sink)
// и из HTTP middleware API.
type Metrics struct {
	reg *prometheus.Registry

	Transitions      *prometheus.CounterVec
	NodeState        *prometheus.GaugeVec
	Deploys          *prometheus.CounterVec
	DeployDuration   prometheus.Histogram
	BlockedNodes     prometheus.Counter
	Reconfigurations *prometheus.CounterVec
	GuardTicks       *prometheus.CounterVec
	DriftDetected    *prometheus.CounterVec
	GuardAlerting    *prometheus.GaugeVec
	NodeHealthy      *prometheus.GaugeVec
	HTTPRequests     *prometheus.CounterVec
}

// NewMetrics создаёт метрики в собственном реестре.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_transitions_total",
			Help:      "Lifecycle transitions by target state",
		}, []string{"to_state"}),
		NodeState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_state",
			Help:      "Current lifecycle state of a node (1 for the current state)",
		}, []string{"node_id", "state"}),
		Deploys: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploys_total",
			Help:      "Fleet deployments by result",
		}, []string{"result"}),
		DeployDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deploy_duration_seconds",
			Help:      "Fleet deployment duration",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		BlockedNodes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_blocked_total",
			Help:      "Nodes skipped because a dependency failed",
		}),
		Reconfigurations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_reconfigurations_total",
			Help:      "Configuration re-applied after a dependency address change",
		}, []string{"node_id"}),
		GuardTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_ticks_total",
			Help:      "Guard ticks by resulting guard state",
		}, []string{"state"}),
		DriftDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_drift_detected_total",
			Help:      "Resolver drift detections per node",
		}, []string{"node_id"}),
		GuardAlerting: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "guard_alerting",
			Help:      "1 if the node's guard is alerting",
		}, []string{"node_id"}),
		NodeHealthy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_healthy",
			Help:      "1 if the last health sweep found the node healthy",
		}, []string{"node_id"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_http_requests_total",
			Help:      "HTTP requests handled by the operator API",
		}, []string{"method", "code"}),
	}
}

// Registry возвращает реестр метрик.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler возвращает http.Handler для /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Emit обновляет метрики по событию.
func (m *Metrics) Emit(_ context.Context, ev domain.Event) {
	switch ev.Kind {
	case domain.EventTransition:
		m.Transitions.WithLabelValues(string(ev.ToState)).Inc()
		m.setNodeState(ev.NodeID, ev.ToState)

	case domain.EventDeployFinished:
		failed, _ := ev.Detail["failed"].([]string)
		result := "succeeded"
		if len(failed) > 0 {
			result = "failed"
		}
		m.Deploys.WithLabelValues(result).Inc()
		if ms, ok := ev.Detail["duration_ms"].(int64); ok {
			m.DeployDuration.Observe((time.Duration(ms) * time.Millisecond).Seconds())
		}

	case domain.EventNodeBlocked:
		m.BlockedNodes.Inc()

	case domain.EventReconfigured:
		m.Reconfigurations.WithLabelValues(ev.NodeID).Inc()

	case domain.EventDriftDetected:
		m.DriftDetected.WithLabelValues(ev.NodeID).Inc()

	case domain.EventGuardAlert:
		m.GuardAlerting.WithLabelValues(ev.NodeID).Set(1)

	case domain.EventGuardTick:
		state, _ := ev.Detail["state"].(string)
		m.GuardTicks.WithLabelValues(state).Inc()
		if state == string(domain.GuardConverged) {
			m.GuardAlerting.WithLabelValues(ev.NodeID).Set(0)
		}

	case domain.EventHealthReport:
		healthy, _ := ev.Detail["healthy"].(bool)
		m.NodeHealthy.WithLabelValues(ev.NodeID).Set(boolGauge(healthy))
	}
}

func (m *Metrics) setNodeState(nodeID string, current domain.LifecycleState) {
	for _, st := range domain.AllStates() {
		m.NodeState.WithLabelValues(nodeID, string(st)).Set(boolGauge(st == current))
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
