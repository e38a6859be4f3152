// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inventory_saga"

var (
	// ReservationOutcomes 按结果统计 ReserveStock 调用: success / insufficient / race / invalid / error
	ReservationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_outcomes_total",
		Help:      "ReserveStock calls by outcome.",
	}, []string{"outcome"})

	// ReservationDuration 记录 ReserveStock 整体耗时（包含锁等待）
	ReservationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reservation_duration_seconds",
		Help:      "Latency of ReserveStock including lock acquisition.",
		Buckets:   prometheus.DefBuckets,
	})

	CommitOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commit_outcomes_total",
		Help:      "CommitStock calls by outcome.",
	}, []string{"outcome"})

	RollbackOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollback_outcomes_total",
		Help:      "RollbackStock calls by outcome.",
	}, []string{"outcome"})

	// CompensationMessages 统计补偿消息的处理结果: acked / retried / dead_lettered / duplicate
	CompensationMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compensation_messages_total",
		Help:      "Compensation messages by processing result.",
	}, []string{"result", "topic"})

	StockEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_events_published_total",
		Help:      "Stock-change events by publish result.",
	}, []string{"result"})

	SagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_saga_outcomes_total",
		Help:      "Order placement sagas by outcome.",
	}, []string{"outcome"})
)
