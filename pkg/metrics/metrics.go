// Package metrics 提供基于Prometheus的指标收集框架
//
// 可观测性三支柱：Tracing（为什么慢）、Metrics（有多少/多快）、Logging（发生了什么）
// 本模块负责Metrics。
//
// 核心概念：
// 1. Counter（计数器）：只增不减的累计值（预留确认总数、外部登记失败总数）
// 2. Gauge（仪表盘）：可增可减的瞬时值（熔断器状态、待清理的临时预留数）
// 3. Histogram（直方图）：观测值的分布（外部登记耗时的P50/P90/P99）
//
// 使用示例：
//
//	// 1. 初始化
//	metrics.InitMetrics()
//
//	// 2. 暴露/metrics端点（gin路由里挂promhttp.Handler()）
//
//	// 3. 业务代码中记录
//	start := time.Now()
//	err := gateway.Register(ctx, req)
//	metrics.GatewayCallDuration.Observe(time.Since(start).Seconds())
//
// 命名规范：
// - Counter以_total结尾（reservations_confirmed_total）
// - Histogram以单位结尾（gateway_call_duration_seconds）
// - 避免高基数标签：不要用reservation_id做标签，用result/source_type这类有限值
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// initialized 标记是否已初始化（防止重复注册）
	initialized bool

	// HTTP请求相关指标

	// HTTPRequestsTotal HTTP请求总数（Counter）
	// 标签：method、path、status
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration HTTP请求耗时（Histogram）
	HTTPRequestDuration *prometheus.HistogramVec

	// 预留业务指标

	// ReservationsCreatedTotal 预留创建总数（Counter）
	// 标签：source_type（forecast/order/manual）
	ReservationsCreatedTotal *prometheus.CounterVec

	// ReservationsConfirmedTotal 预留确认成功总数（Counter）
	ReservationsConfirmedTotal prometheus.Counter

	// ReservationsConfirmFailedTotal 预留确认失败总数（Counter）
	// 标签：reason（expired/not_active/gateway/conflict）
	ReservationsConfirmFailedTotal *prometheus.CounterVec

	// ReservationsReleasedTotal 预留释放总数（Counter）
	// 标签：reason（manual/source_cancelled/expired_sweep/compensated）
	ReservationsReleasedTotal *prometheus.CounterVec

	// 外部登记网关指标

	// GatewayCallsTotal 外部登记调用总数（Counter）
	// 标签：result（success/retryable_error/rejected）
	GatewayCallsTotal *prometheus.CounterVec

	// GatewayCallDuration 外部登记调用耗时（Histogram）
	GatewayCallDuration prometheus.Histogram

	// CircuitBreakerState 熔断器状态（Gauge）
	// 0=CLOSED, 1=OPEN, 2=HALF_OPEN
	CircuitBreakerState *prometheus.GaugeVec

	// 后台任务指标

	// SweeperReleasedTotal 过期临时预留清理总数（Counter）
	SweeperReleasedTotal prometheus.Counter

	// OutboxPendingEvents 待发布的Outbox事件数（Gauge）
	OutboxPendingEvents prometheus.Gauge
)

// InitMetrics 初始化所有指标
// 教学要点：
// 1. promauto会自动注册到默认Registry，重复注册会panic，所以用initialized防护
// 2. Histogram桶按外部登记的实际耗时分布设置（10ms到10s）
func InitMetrics() {
	if initialized {
		return
	}
	initialized = true

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_http_requests_total",
			Help: "HTTP请求总数",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warehouse_http_request_duration_seconds",
			Help:    "HTTP请求耗时分布",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "path"},
	)

	ReservationsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_reservations_created_total",
			Help: "预留创建总数",
		},
		[]string{"source_type"},
	)

	ReservationsConfirmedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warehouse_reservations_confirmed_total",
			Help: "预留确认成功总数",
		},
	)

	ReservationsConfirmFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_reservations_confirm_failed_total",
			Help: "预留确认失败总数",
		},
		[]string{"reason"},
	)

	ReservationsReleasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_reservations_released_total",
			Help: "预留释放总数",
		},
		[]string{"reason"},
	)

	GatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_gateway_calls_total",
			Help: "外部登记网关调用总数",
		},
		[]string{"result"},
	)

	GatewayCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warehouse_gateway_call_duration_seconds",
			Help:    "外部登记网关调用耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 3, 5, 10},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warehouse_circuit_breaker_state",
			Help: "熔断器状态（0=CLOSED, 1=OPEN, 2=HALF_OPEN）",
		},
		[]string{"name"},
	)

	SweeperReleasedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warehouse_sweeper_released_total",
			Help: "过期临时预留清理总数",
		},
	)

	OutboxPendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warehouse_outbox_pending_events",
			Help: "待发布的Outbox事件数",
		},
	)
}
