// Package metrics 提供 chain-notify 服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chain_notify"

// 扫描指标
var (
	// BlocksScannedTotal 已扫描区块总数
	BlocksScannedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_scanned_total",
			Help:      "已扫描区块总数",
		},
	)

	// ScanDuration 单轮扫描耗时
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "单轮扫描耗时(秒)",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// ScanBatchSize 单轮扫描的区块数
	ScanBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_batch_size_blocks",
			Help:      "单轮扫描的区块数量",
			Buckets:   []float64{10, 50, 100, 200, 500, 1000, 2000},
		},
	)

	// LastScannedBlockGauge 当前扫描水位
	LastScannedBlockGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scanned_block",
			Help:      "当前扫描水位区块高度",
		},
	)

	// LatestChainBlockGauge 链上最新区块高度
	LatestChainBlockGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_chain_block",
			Help:      "链上最新区块高度",
		},
	)

	// ScanLagGauge 扫描延迟 (落后链上区块数)
	ScanLagGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_lag_blocks",
			Help:      "扫描落后链上区块数",
		},
	)
)

// 转账指标
var (
	// TransfersTotal 转账记录总数
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "转账记录总数",
		},
		[]string{"status"}, // detected, confirmed, credited, notified
	)

	// PendingTransfersGauge 待确认转账数量
	PendingTransfersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_transfers_total",
			Help:      "当前待确认转账数量",
		},
	)
)

// 回调投递指标
var (
	// WebhookDeliveriesTotal 回调投递总数
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "回调投递总数",
		},
		[]string{"type", "outcome"}, // type: deposit/withdrawal, outcome: success/enqueued/retried/exhausted
	)

	// WebhookDeliveryDuration 回调投递耗时
	WebhookDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_delivery_duration_seconds",
			Help:      "回调投递耗时(秒)",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"type"},
	)

	// PendingCallbacksGauge 待补发回调数量
	PendingCallbacksGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_callbacks_total",
			Help:      "持久化队列中待补发回调数量",
		},
	)
)

// 提现与归集指标
var (
	// WithdrawalsTotal 提现总数
	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "提现总数",
		},
		[]string{"status"}, // pending, processing, completed, failed
	)

	// CollectionsTotal 归集总数
	CollectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collections_total",
			Help:      "归集总数",
		},
		[]string{"status"},
	)

	// BlockchainTxTotal 链上交易总数
	BlockchainTxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blockchain_tx_total",
			Help:      "链上交易总数",
		},
		[]string{"type", "status"}, // type: withdrawal/collection/gas_fund, status: sent/confirmed/failed
	)
)

// 缓存与 Kafka 指标
var (
	// AttributionCacheTotal 归属缓存查询总数
	AttributionCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribution_cache_total",
			Help:      "归属缓存查询总数",
		},
		[]string{"result"}, // hit, miss, bypass
	)

	// KafkaMessagesProduced Kafka 生产消息数
	KafkaMessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_produced_total",
			Help:      "Kafka 生产消息总数",
		},
		[]string{"topic"},
	)
)

// RecordScan 记录一轮扫描
func RecordScan(blocks uint64, durationSeconds float64, lastScanned, chainHead uint64) {
	BlocksScannedTotal.Add(float64(blocks))
	ScanDuration.Observe(durationSeconds)
	ScanBatchSize.Observe(float64(blocks))
	LastScannedBlockGauge.Set(float64(lastScanned))
	LatestChainBlockGauge.Set(float64(chainHead))
	if chainHead >= lastScanned {
		ScanLagGauge.Set(float64(chainHead - lastScanned))
	}
}

// RecordTransfer 记录转账状态变化
func RecordTransfer(status string) {
	TransfersTotal.WithLabelValues(status).Inc()
}

// RecordWebhookDelivery 记录回调投递
func RecordWebhookDelivery(callbackType, outcome string, durationSeconds float64) {
	WebhookDeliveriesTotal.WithLabelValues(callbackType, outcome).Inc()
	if durationSeconds > 0 {
		WebhookDeliveryDuration.WithLabelValues(callbackType).Observe(durationSeconds)
	}
}

// RecordBlockchainTx 记录链上交易
func RecordBlockchainTx(txType, status string) {
	BlockchainTxTotal.WithLabelValues(txType, status).Inc()
}

// RecordAttributionLookup 记录归属缓存查询
func RecordAttributionLookup(result string) {
	AttributionCacheTotal.WithLabelValues(result).Inc()
}

// RecordKafkaMessage 记录 Kafka 消息
func RecordKafkaMessage(topic string) {
	KafkaMessagesProduced.WithLabelValues(topic).Inc()
}

// UpdatePendingTransfers 更新待确认转账数量
func UpdatePendingTransfers(count int) {
	PendingTransfersGauge.Set(float64(count))
}

// UpdatePendingCallbacks 更新待补发回调数量
func UpdatePendingCallbacks(count int64) {
	PendingCallbacksGauge.Set(float64(count))
}
