package updater

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Metrics 写者指标，方法对 nil 接收者安全
type Metrics struct {
	flushes      *prometheus.CounterVec
	subscribers  prometheus.Gauge
	topics       prometheus.Gauge
	pendingDelta prometheus.Gauge
}

// NewMetrics 创建并注册写者指标，reg 为 nil 时只创建不注册
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topicreg",
			Subsystem: "updater",
			Name:      "flushes_total",
			Help:      "Replication flushes by kind (full/delta) and result.",
		}, []string{"kind", "result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "topicreg",
			Subsystem: "updater",
			Name:      "subscribers",
			Help:      "Local subscribers.",
		}),
		topics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "topicreg",
			Subsystem: "updater",
			Name:      "topics",
			Help:      "Distinct locally subscribed topics.",
		}),
		pendingDelta: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "topicreg",
			Subsystem: "updater",
			Name:      "pending_delta",
			Help:      "Bindings changed since the last successful flush.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var errs error
	for i, c := range []prometheus.Collector{m.flushes, m.subscribers, m.topics, m.pendingDelta} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				errs = multierr.Append(errs, err)
				continue
			}
			switch i {
			case 0:
				m.flushes = are.ExistingCollector.(*prometheus.CounterVec)
			case 1:
				m.subscribers = are.ExistingCollector.(prometheus.Gauge)
			case 2:
				m.topics = are.ExistingCollector.(prometheus.Gauge)
			case 3:
				m.pendingDelta = are.ExistingCollector.(prometheus.Gauge)
			}
		}
	}
	if errs != nil {
		return nil, errs
	}
	return m, nil
}

func (m *Metrics) observeFlush(full bool, err error) {
	if m == nil {
		return
	}
	kind, result := "delta", "ok"
	if full {
		kind = "full"
	}
	if err != nil {
		result = "error"
	}
	m.flushes.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) setSizes(subscribers, topics, pending int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(subscribers))
	m.topics.Set(float64(topics))
	m.pendingDelta.Set(float64(pending))
}
