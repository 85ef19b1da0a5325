package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	logger *logrus.Logger

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 扫描任务指标
	scansTotal      *prometheus.CounterVec
	scansInProgress prometheus.Gauge
	scanDuration    *prometheus.HistogramVec
	scanFailures    *prometheus.CounterVec
	riskScores      prometheus.Histogram

	// 流水线阶段指标
	stagesTotal   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	// 队列指标
	queueDepth       prometheus.Gauge
	messagesConsumed *prometheus.CounterVec

	// Worker 指标
	workersActive prometheus.Gauge

	// 数据库指标
	dbConnectionsOpen  prometheus.Gauge
	dbConnectionsIdle  prometheus.Gauge
	dbConnectionsInUse prometheus.Gauge
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics(logger *logrus.Logger, namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "apk_scanner"
	}

	pm := &PrometheusMetrics{
		logger: logger,

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),

		scansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Total number of scan tasks",
			},
			[]string{"status"}, // queued, analyzing, completed, failed
		),
		scansInProgress: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scans_in_progress",
				Help:      "Number of scans currently being analyzed",
			},
		),
		scanDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Scan execution duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		scanFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_failures_total",
				Help:      "Total number of failed scans by failure type",
			},
			[]string{"failure_type"},
		),
		riskScores: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "risk_score",
				Help:      "Distribution of overall risk scores",
				Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			},
		),

		stagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_stages_total",
				Help:      "Total number of pipeline stage executions",
			},
			[]string{"stage", "result"}, // result: success/failure
		),
		stageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),

		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Number of messages waiting in the scan queue",
			},
		),
		messagesConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_messages_consumed_total",
				Help:      "Total number of queue messages consumed",
			},
			[]string{"result"}, // acked/rejected
		),

		workersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_active",
				Help:      "Number of active analysis workers",
			},
		),

		dbConnectionsOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_open",
				Help:      "Number of open database connections",
			},
		),
		dbConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_idle",
				Help:      "Number of idle database connections",
			},
		),
		dbConnectionsInUse: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_in_use",
				Help:      "Number of database connections in use",
			},
		),
	}

	logger.Info("Prometheus metrics initialized")
	return pm
}

// HTTPMiddleware HTTP 请求监控中间件
func (pm *PrometheusMetrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		pm.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		pm.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP Handler
func (pm *PrometheusMetrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordScanCreated 记录扫描任务创建
func (pm *PrometheusMetrics) RecordScanCreated() {
	pm.scansTotal.WithLabelValues("queued").Inc()
}

// RecordScanStarted 记录扫描开始
func (pm *PrometheusMetrics) RecordScanStarted() {
	pm.scansTotal.WithLabelValues("analyzing").Inc()
	pm.scansInProgress.Inc()
}

// RecordScanCompleted 记录扫描完成及风险分
func (pm *PrometheusMetrics) RecordScanCompleted(duration time.Duration, riskScore int) {
	pm.scansTotal.WithLabelValues("completed").Inc()
	pm.scansInProgress.Dec()
	pm.scanDuration.WithLabelValues("completed").Observe(duration.Seconds())
	pm.riskScores.Observe(float64(riskScore))
}

// RecordScanFailed 记录扫描失败
func (pm *PrometheusMetrics) RecordScanFailed(duration time.Duration, failureType string) {
	pm.scansTotal.WithLabelValues("failed").Inc()
	pm.scansInProgress.Dec()
	pm.scanDuration.WithLabelValues("failed").Observe(duration.Seconds())
	pm.scanFailures.WithLabelValues(failureType).Inc()
}

// RecordStage 记录流水线阶段结果
func (pm *PrometheusMetrics) RecordStage(stage string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	pm.stagesTotal.WithLabelValues(stage, result).Inc()
}

// RecordStageDuration 记录流水线阶段耗时
func (pm *PrometheusMetrics) RecordStageDuration(stage string, duration time.Duration) {
	pm.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// UpdateQueueDepth 更新队列深度
func (pm *PrometheusMetrics) UpdateQueueDepth(depth int) {
	pm.queueDepth.Set(float64(depth))
}

// RecordMessageConsumed 记录队列消息消费结果
func (pm *PrometheusMetrics) RecordMessageConsumed(acked bool) {
	result := "rejected"
	if acked {
		result = "acked"
	}
	pm.messagesConsumed.WithLabelValues(result).Inc()
}

// UpdateActiveWorkers 更新活跃 worker 数
func (pm *PrometheusMetrics) UpdateActiveWorkers(count int) {
	pm.workersActive.Set(float64(count))
}

// UpdateDBStats 更新数据库连接统计
func (pm *PrometheusMetrics) UpdateDBStats(open, idle, inUse int) {
	pm.dbConnectionsOpen.Set(float64(open))
	pm.dbConnectionsIdle.Set(float64(idle))
	pm.dbConnectionsInUse.Set(float64(inUse))
}
