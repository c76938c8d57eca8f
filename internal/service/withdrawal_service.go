package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paywatch/chain-notify/internal/config"
	"github.com/paywatch/chain-notify/internal/kafka"
	"github.com/paywatch/chain-notify/internal/metrics"
	"github.com/paywatch/chain-notify/internal/model"
	"github.com/paywatch/chain-notify/internal/repository"
	"github.com/paywatch/chain-notify/internal/webhook"
	"github.com/paywatch/chain-notify/pkg/logger"
)

var (
	// ErrInvalidAddress 地址格式非法
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidWithdrawAmount 提现金额非法
	ErrInvalidWithdrawAmount = errors.New("invalid withdrawal amount")
	// ErrInsufficientFunds 热钱包余额不足
	ErrInsufficientFunds = errors.New("insufficient funding wallet balance")
	// ErrRetryNotAllowed 仅失败状态可手工重试
	ErrRetryNotAllowed = errors.New("retry only allowed from failed state")
	// ErrRetryLimitReached 手工重试次数用尽
	ErrRetryLimitReached = errors.New("manual retry limit reached")
)

const withdrawalRecordDelay = time.Second // 逐笔发送间隔，避免 nonce 竞争

// CreateWithdrawalRequest 提现请求
type CreateWithdrawalRequest struct {
	UserID    string
	ToAddress string
	Amount    string // 展示单位
	TransID   string // 调用方关联号，可空
}

// WithdrawalService 提现服务
//
// 状态机 pending -> processing -> completed/failed，每次迁移都发送
// 对应状态码 ("0"/"1"/"2") 的回调。崩溃遗留的 pending 行由后台扫描
// 沿同一路径补推。
type WithdrawalService struct {
	withdrawalRepo repository.WithdrawalRepository
	gateway        ChainGateway
	callbacks      *CallbackService
	publisher      kafka.EventPublisher

	cfg        config.WithdrawalConfig
	webhookCfg config.WebhookConfig
	decimals   int32

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWithdrawalService 创建提现服务
func NewWithdrawalService(
	withdrawalRepo repository.WithdrawalRepository,
	gateway ChainGateway,
	callbacks *CallbackService,
	publisher kafka.EventPublisher,
	cfg config.WithdrawalConfig,
	webhookCfg config.WebhookConfig,
	tokenDecimals int32,
) *WithdrawalService {
	return &WithdrawalService{
		withdrawalRepo: withdrawalRepo,
		gateway:        gateway,
		callbacks:      callbacks,
		publisher:      publisher,
		cfg:            cfg,
		webhookCfg:     webhookCfg,
		decimals:       tokenDecimals,
	}
}

// Start 启动遗留订单扫描
func (s *WithdrawalService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.sweepLoop(runCtx)

	logger.Info("withdrawal service started")
}

// Stop 停止后台扫描
func (s *WithdrawalService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("withdrawal service stopped")
}

// Create 受理提现请求
//
// 地址、金额、热钱包余额校验全部通过后才落库；拒绝的请求不留任何
// 记录。受理成功后发送状态 "0" 回调并立即进入处理。
func (s *WithdrawalService) Create(ctx context.Context, req *CreateWithdrawalRequest) (*model.WithdrawalRecord, error) {
	if !common.IsHexAddress(req.ToAddress) {
		return nil, ErrInvalidAddress
	}

	amount, err := model.ParseUnits(req.Amount, s.decimals)
	if err != nil || !amount.IsPositive() {
		return nil, ErrInvalidWithdrawAmount
	}

	balance, err := s.gateway.TokenBalance(ctx, s.gateway.FundingAddress())
	if err != nil {
		return nil, fmt.Errorf("check funding balance: %w", err)
	}
	if balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	record := &model.WithdrawalRecord{
		WithdrawalID: uuid.New().String(),
		TransID:      req.TransID,
		UserID:       req.UserID,
		ToAddress:    common.HexToAddress(req.ToAddress).Hex(),
		Amount:       amount,
		Status:       model.WithdrawalStatusPending,
	}
	if err := s.withdrawalRepo.Create(ctx, record); err != nil {
		return nil, err
	}
	metrics.WithdrawalsTotal.WithLabelValues("pending").Inc()

	s.notifyStatus(ctx, record)

	if err := s.process(ctx, record); err != nil {
		logger.Error("withdrawal processing failed",
			zap.String("withdrawal_id", record.WithdrawalID), zap.Error(err))
	}
	return record, nil
}

// Retry 手工重试，仅失败状态可触发，最多 3 次
func (s *WithdrawalService) Retry(ctx context.Context, withdrawalID string) error {
	record, err := s.withdrawalRepo.GetByWithdrawalID(ctx, withdrawalID)
	if err != nil {
		return err
	}
	if record.Status != model.WithdrawalStatusFailed {
		return ErrRetryNotAllowed
	}
	// retry_count 含首次失败的计数，预算按其上再放 MaxManualRetries 次
	if record.RetryCount > s.cfg.MaxManualRetries {
		return ErrRetryLimitReached
	}

	if err := s.withdrawalRepo.UpdateStatus(ctx, withdrawalID,
		model.WithdrawalStatusFailed, model.WithdrawalStatusProcessing, ""); err != nil {
		return err
	}
	record.Status = model.WithdrawalStatusProcessing
	return s.send(ctx, record)
}

// process 驱动 pending 记录走完生命周期
func (s *WithdrawalService) process(ctx context.Context, record *model.WithdrawalRecord) error {
	if err := s.withdrawalRepo.UpdateStatus(ctx, record.WithdrawalID,
		model.WithdrawalStatusPending, model.WithdrawalStatusProcessing, ""); err != nil {
		// 已被其他实例接手
		if errors.Is(err, repository.ErrWithdrawalNotFound) {
			return nil
		}
		return err
	}
	record.Status = model.WithdrawalStatusProcessing
	return s.send(ctx, record)
}

// send 执行链上转账并终结状态
func (s *WithdrawalService) send(ctx context.Context, record *model.WithdrawalRecord) error {
	txHash, err := s.gateway.SendToken(ctx, common.HexToAddress(record.ToAddress), record.Amount)
	if err != nil {
		metrics.RecordBlockchainTx("withdrawal", "failed")
		if ferr := s.withdrawalRepo.MarkFailed(ctx, record.WithdrawalID, err.Error()); ferr != nil {
			logger.Error("mark withdrawal failed error",
				zap.String("withdrawal_id", record.WithdrawalID), zap.Error(ferr))
		}
		metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
		record.Status = model.WithdrawalStatusFailed
		s.notifyStatus(ctx, record)
		return err
	}

	metrics.RecordBlockchainTx("withdrawal", "sent")
	if err := s.withdrawalRepo.UpdateStatus(ctx, record.WithdrawalID,
		model.WithdrawalStatusProcessing, model.WithdrawalStatusCompleted, txHash); err != nil {
		logger.Error("mark withdrawal completed failed",
			zap.String("withdrawal_id", record.WithdrawalID),
			zap.String("tx_hash", txHash), zap.Error(err))
		return err
	}
	metrics.WithdrawalsTotal.WithLabelValues("completed").Inc()

	record.Status = model.WithdrawalStatusCompleted
	record.TxHash = txHash
	s.notifyStatus(ctx, record)

	logger.Info("withdrawal completed",
		zap.String("withdrawal_id", record.WithdrawalID),
		zap.String("tx_hash", txHash),
		zap.String("amount", record.Amount.String()))
	return nil
}

// notifyStatus 发送提现状态回调与内部事件，失败不阻塞状态机
// 回调状态码由记录当前状态导出
func (s *WithdrawalService) notifyStatus(ctx context.Context, record *model.WithdrawalRecord) {
	transferStatus := model.CallbackStatusOf(record.Status)
	payload, err := webhook.BuildWithdrawalPayload(&webhook.WithdrawalNotice{
		Address:        record.ToAddress,
		Amount:         model.FormatUnits(record.Amount, s.decimals),
		TxHash:         record.TxHash,
		TransID:        record.CorrelationID(),
		TransferStatus: transferStatus,
	}, s.webhookCfg.Secret)
	if err != nil {
		logger.Error("build withdrawal payload failed",
			zap.String("withdrawal_id", record.WithdrawalID), zap.Error(err))
		return
	}

	if _, err := s.callbacks.DeliverOrEnqueue(ctx, model.CallbackTypeWithdrawal,
		record.CorrelationID(), transferStatus, s.webhookCfg.WithdrawalURL, payload); err != nil {
		logger.Error("withdrawal callback enqueue failed",
			zap.String("withdrawal_id", record.WithdrawalID),
			zap.String("transfer_status", transferStatus), zap.Error(err))
	}

	if err := s.publisher.PublishWithdrawalStatus(ctx, &model.WithdrawalStatusEvent{
		WithdrawalID: record.WithdrawalID,
		TransID:      record.CorrelationID(),
		UserID:       record.UserID,
		ToAddress:    record.ToAddress,
		Amount:       record.Amount,
		TxHash:       record.TxHash,
		Status:       record.Status.String(),
		ChangedAt:    time.Now().UnixMilli(),
	}); err != nil {
		logger.Warn("publish withdrawal-status event failed",
			zap.String("withdrawal_id", record.WithdrawalID), zap.Error(err))
	} else {
		metrics.RecordKafkaMessage(kafka.TopicWithdrawalStatus)
	}
}

func (s *WithdrawalService) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.SweepIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				logger.Error("withdrawal sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce 捞取崩溃遗留的 pending 记录重新推进
// 只处理落库超过一个扫描周期的行，避免与刚受理的请求竞争
func (s *WithdrawalService) SweepOnce(ctx context.Context) error {
	grace := time.Duration(s.cfg.SweepIntervalSec) * time.Second
	before := time.Now().Add(-grace).UnixMilli()

	stale, err := s.withdrawalRepo.ListStalePending(ctx, before, s.cfg.SweepBatchSize)
	if err != nil {
		return err
	}

	for i, record := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(withdrawalRecordDelay):
			}
		}

		logger.Info("resuming stale withdrawal",
			zap.String("withdrawal_id", record.WithdrawalID))
		if err := s.process(ctx, record); err != nil {
			logger.Error("stale withdrawal processing failed",
				zap.String("withdrawal_id", record.WithdrawalID), zap.Error(err))
		}
	}
	return nil
}
