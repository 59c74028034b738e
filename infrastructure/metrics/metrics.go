// Package metrics Prometheus 指标，由事件总线与工作池驱动
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/XXueTu/graph_automation/domain/execution"
)

const namespace = "automation"

// Collector 引擎指标，使用独立注册表
type Collector struct {
	registry         *prometheus.Registry
	runsStarted      prometheus.Counter
	runsFinished     *prometheus.CounterVec
	runsSuspended    prometheus.Counter
	nodeExecutions   *prometheus.CounterVec
	retriesScheduled *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	runDuration      prometheus.Histogram
	triggerMatches   *prometheus.CounterVec
	queueDepth       prometheus.Gauge
}

// NewCollector 创建指标收集器
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of runs that started executing",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of runs by final status",
		}, []string{"status"}),
		runsSuspended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_suspended_total",
			Help:      "Total number of delay suspensions",
		}),
		nodeExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node executions by kind and status",
		}, []string{"kind", "status"}),
		retriesScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Total number of node retries scheduled",
		}, []string{"kind"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Executor step duration in seconds by outcome",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from run creation to completion",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
		triggerMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_matches_total",
			Help:      "Total number of runs created by trigger type",
		}, []string{"type"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_queue_depth",
			Help:      "Work items queued or claimed",
		}),
	}
}

// Registry 指标注册表
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Subscribe 订阅执行事件
func (c *Collector) Subscribe(subscriber execution.EventSubscriber) error {
	return subscriber.Subscribe("*", c.HandleEvent)
}

// HandleEvent 按事件类型更新指标
func (c *Collector) HandleEvent(event *execution.Event) error {
	data := event.Data()
	kind, _ := data["kind"].(string)

	switch event.Type() {
	case execution.EventRunStarted:
		c.runsStarted.Inc()
	case execution.EventRunSuspended:
		c.runsSuspended.Inc()
	case execution.EventRunCompleted:
		c.runsFinished.WithLabelValues(string(execution.StatusCompleted)).Inc()
		if seconds, ok := data["duration"].(float64); ok {
			c.runDuration.Observe(seconds)
		}
	case execution.EventRunFailed:
		c.runsFinished.WithLabelValues(string(execution.StatusFailed)).Inc()
	case execution.EventRunCancelled:
		c.runsFinished.WithLabelValues(string(execution.StatusCancelled)).Inc()
	case execution.EventNodeSucceeded:
		c.nodeExecutions.WithLabelValues(kind, "succeeded").Inc()
	case execution.EventNodeFailed:
		c.nodeExecutions.WithLabelValues(kind, "failed").Inc()
	case execution.EventRetryScheduled:
		c.nodeExecutions.WithLabelValues(kind, "failed").Inc()
		c.retriesScheduled.WithLabelValues(kind).Inc()
	}
	return nil
}

// ObserveStep 记录一次执行步骤
func (c *Collector) ObserveStep(outcome string, duration time.Duration) {
	c.stepDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// TriggerFired 记录一次触发
func (c *Collector) TriggerFired(triggerType string) {
	c.triggerMatches.WithLabelValues(triggerType).Inc()
}

// SetQueueDepth 更新调度队列深度
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}
