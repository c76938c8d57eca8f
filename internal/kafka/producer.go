// Package kafka 提供内部事件生产者
//
// 回调投递面向外部商户，Kafka 事件面向内部消费方 (记账、风控)。
// 事件发送失败只记日志，不阻塞主流程。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/paywatch/chain-notify/internal/model"
	"github.com/paywatch/chain-notify/pkg/logger"
)

const (
	// TopicTransferConfirmed 充值确认事件
	// Partition Key: tx_hash
	TopicTransferConfirmed = "transfer-confirmed"

	// TopicWithdrawalStatus 提现状态变更事件
	// Partition Key: trans_id
	TopicWithdrawalStatus = "withdrawal-status"
)

// EventPublisher 事件发布器接口
type EventPublisher interface {
	PublishTransferConfirmed(ctx context.Context, event *model.TransferConfirmedEvent) error
	PublishWithdrawalStatus(ctx context.Context, event *model.WithdrawalStatusEvent) error
	Close() error
}

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = sarama.WaitForAll
	}
	config.Producer.RequiredAcks = requiredAcks

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{producer: producer}, nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

func (p *Producer) send(topic string, key string, value []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errors.New("producer is closed")
	}
	p.mu.RUnlock()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// PublishTransferConfirmed 发送充值确认事件
func (p *Producer) PublishTransferConfirmed(ctx context.Context, event *model.TransferConfirmedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.send(TopicTransferConfirmed, event.TxHash, data)
}

// PublishWithdrawalStatus 发送提现状态变更事件
func (p *Producer) PublishWithdrawalStatus(ctx context.Context, event *model.WithdrawalStatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.send(TopicWithdrawalStatus, event.TransID, data)
}

// NopPublisher 空实现，未配置 Kafka 时使用
type NopPublisher struct{}

func (NopPublisher) PublishTransferConfirmed(context.Context, *model.TransferConfirmedEvent) error {
	return nil
}

func (NopPublisher) PublishWithdrawalStatus(context.Context, *model.WithdrawalStatusEvent) error {
	return nil
}

func (NopPublisher) Close() error { return nil }
