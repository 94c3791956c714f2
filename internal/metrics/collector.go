// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 节点指标
	nodeExecutionsTotal   *prometheus.CounterVec
	nodeExecutionDuration *prometheus.HistogramVec
	nodeRetriesTotal      *prometheus.CounterVec

	// 护栏指标
	guardrailRejections *prometheus.CounterVec

	// 交接指标
	handoffsTotal *prometheus.CounterVec

	// 运行指标
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runSteps    *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。registerer 为 nil 时使用默认注册表。
func NewCollector(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 节点指标
	c.nodeExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node attempts by kind and status",
		},
		[]string{"kind", "status"},
	)

	c.nodeExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_execution_duration_seconds",
			Help:      "Node attempt duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.nodeRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Total number of node retries by kind",
		},
		[]string{"kind"},
	)

	// 护栏指标
	c.guardrailRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_rejections_total",
			Help:      "Total number of guardrail rejections by node",
		},
		[]string{"node"},
	)

	// 交接指标
	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of handoff resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// 运行指标
	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of runs by termination reason",
		},
		[]string{"reason"},
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"graph"},
	)

	c.runSteps = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_steps",
			Help:      "Scheduler steps consumed per run",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"graph"},
	)

	return c
}

// RecordNodeExecution 记录一次节点执行
func (c *Collector) RecordNodeExecution(kind, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.nodeExecutionsTotal.WithLabelValues(kind, status).Inc()
	c.nodeExecutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRetry 记录一次节点重试
func (c *Collector) RecordRetry(kind string) {
	if c == nil {
		return
	}
	c.nodeRetriesTotal.WithLabelValues(kind).Inc()
}

// RecordGuardrailRejection 记录一次护栏拒绝
func (c *Collector) RecordGuardrailRejection(nodeID string) {
	if c == nil {
		return
	}
	c.guardrailRejections.WithLabelValues(nodeID).Inc()
}

// RecordHandoff 记录一次交接决策
func (c *Collector) RecordHandoff(outcome string) {
	if c == nil {
		return
	}
	c.handoffsTotal.WithLabelValues(outcome).Inc()
}

// RecordRun 记录一次运行终止
func (c *Collector) RecordRun(graph, reason string, duration time.Duration, steps int) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(reason).Inc()
	c.runDuration.WithLabelValues(graph).Observe(duration.Seconds())
	c.runSteps.WithLabelValues(graph).Observe(float64(steps))
}
