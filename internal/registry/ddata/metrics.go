package ddata

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// 写操作类型（指标标签）
const (
	opReplace = "replace"
	opDelta   = "delta"
	opRemove  = "remove"
)

// Metrics 同步器指标
//
// 所有方法对 nil 接收者安全，未配置指标时无需判空。
type Metrics struct {
	writes          *prometheus.CounterVec
	writeDuration   *prometheus.HistogramVec
	remoteNodes     prometheus.Gauge
	foreignBindings prometheus.Counter
}

// NewMetrics 创建并注册同步器指标
//
// reg 为 nil 时只创建不注册。重复注册时复用已注册的收集器。
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topicreg",
			Subsystem: "ddata",
			Name:      "writes_total",
			Help:      "Replicated multimap writes by operation and result.",
		}, []string{"op", "result"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "topicreg",
			Subsystem: "ddata",
			Name:      "write_duration_seconds",
			Help:      "Latency of replicated multimap writes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"}),
		remoteNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "topicreg",
			Subsystem: "ddata",
			Name:      "remote_nodes",
			Help:      "Remote nodes currently advertising subscriptions.",
		}),
		foreignBindings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "topicreg",
			Subsystem: "ddata",
			Name:      "foreign_bindings_total",
			Help:      "Bindings ignored because they were hashed with a different hash family.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var errs error
	m.writes = register(reg, m.writes, &errs)
	m.writeDuration = register(reg, m.writeDuration, &errs)
	m.remoteNodes = register(reg, m.remoteNodes, &errs)
	m.foreignBindings = register(reg, m.foreignBindings, &errs)
	if errs != nil {
		return nil, errs
	}
	return m, nil
}

// register 注册收集器，已注册时返回已有实例
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errs *error) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errs = multierr.Append(*errs, err)
	}
	return c
}

func (m *Metrics) observeWrite(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrWriteTimeout):
		result = "timeout"
	case errors.Is(err, ErrConsistencyNotReached):
		result = "consistency"
	default:
		result = "error"
	}
	m.writes.WithLabelValues(op, result).Inc()
	m.writeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) setRemoteNodes(n int) {
	if m == nil {
		return
	}
	m.remoteNodes.Set(float64(n))
}

func (m *Metrics) addForeignBindings(n int) {
	if m == nil || n == 0 {
		return
	}
	m.foreignBindings.Add(float64(n))
}
