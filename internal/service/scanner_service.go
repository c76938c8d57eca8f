package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paywatch/chain-notify/internal/blockchain"
	"github.com/paywatch/chain-notify/internal/cache"
	"github.com/paywatch/chain-notify/internal/config"
	"github.com/paywatch/chain-notify/internal/kafka"
	"github.com/paywatch/chain-notify/internal/lock"
	"github.com/paywatch/chain-notify/internal/metrics"
	"github.com/paywatch/chain-notify/internal/model"
	"github.com/paywatch/chain-notify/internal/repository"
	"github.com/paywatch/chain-notify/internal/webhook"
	"github.com/paywatch/chain-notify/pkg/logger"
)

var (
	// ErrScannerNotRunning 扫描器未运行
	ErrScannerNotRunning = errors.New("scanner is not running")
	// ErrScannerAlreadyRunning 扫描器已在运行
	ErrScannerAlreadyRunning = errors.New("scanner is already running")
	// ErrScanOverlap 上一轮扫描尚未结束
	ErrScanOverlap = errors.New("previous scan cycle still in progress")
)

const (
	confirmInterval  = 30 * time.Second
	notifyInterval   = 10 * time.Second
	confirmBatchSize = 500
	notifyBatchSize  = 50
	scanLockKey      = "scan-cycle"
)

// ScanStatus 扫描器状态快照
type ScanStatus struct {
	IsScanning       bool   `json:"is_scanning"`
	LastScannedBlock uint64 `json:"last_scanned_block"`
	LatestBlock      uint64 `json:"latest_block"`
	BlocksBehind     uint64 `json:"blocks_behind"`
	NetworkConnected bool   `json:"network_connected"`
}

// ScannerService 链上转账扫描服务
//
// 三个独立节奏的循环：扫描 (3s，发现转账并推进水位)、确认 (30s，推进
// 确认数)、通知 (10s，投递充值回调)。水位只进不退，重扫靠 tx_hash
// 唯一约束去重，保证至少一次处理。
type ScannerService struct {
	cursorRepo   repository.CursorRepository
	transferRepo repository.TransferRepository
	addressRepo  repository.AddressRepository
	gateway      ChainGateway
	attribution  *cache.AttributionCache
	callbacks    *CallbackService
	publisher    kafka.EventPublisher
	locker       *lock.RedisLocker // 多实例部署时非 nil

	cfg        config.ScanConfig
	webhookCfg config.WebhookConfig
	decimals   int32
	symbol     string

	running atomic.Bool
	inCycle atomic.Bool // 单轮扫描重入保护
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	batchMu   sync.Mutex
	batchSize uint64 // 自适应批量
}

// NewScannerService 创建扫描服务
func NewScannerService(
	cursorRepo repository.CursorRepository,
	transferRepo repository.TransferRepository,
	addressRepo repository.AddressRepository,
	gateway ChainGateway,
	attribution *cache.AttributionCache,
	callbacks *CallbackService,
	publisher kafka.EventPublisher,
	locker *lock.RedisLocker,
	cfg config.ScanConfig,
	webhookCfg config.WebhookConfig,
	tokenDecimals int32,
	tokenSymbol string,
) *ScannerService {
	return &ScannerService{
		cursorRepo:   cursorRepo,
		transferRepo: transferRepo,
		addressRepo:  addressRepo,
		gateway:      gateway,
		attribution:  attribution,
		callbacks:    callbacks,
		publisher:    publisher,
		locker:       locker,
		cfg:          cfg,
		webhookCfg:   webhookCfg,
		decimals:     tokenDecimals,
		symbol:       tokenSymbol,
		batchSize:    cfg.BatchSize,
	}
}

// Start 启动扫描器，网络不可达时启动失败并保持停止状态
func (s *ScannerService) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrScannerAlreadyRunning
	}

	if err := s.gateway.HealthCheck(ctx); err != nil {
		s.running.Store(false)
		return fmt.Errorf("gateway health check failed: %w", err)
	}

	if err := s.cursorRepo.EnsureExists(ctx, s.cfg.StartBlock); err != nil {
		s.running.Store(false)
		return fmt.Errorf("ensure scan cursor: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go s.scanLoop(runCtx)
	go s.confirmLoop(runCtx)
	go s.notifyLoop(runCtx)

	logger.Info("scanner started",
		zap.Uint64("start_block", s.cfg.StartBlock),
		zap.Uint64("confirmations", s.cfg.Confirmations),
		zap.Int("interval_sec", s.cfg.IntervalSec))
	return nil
}

// Stop 停止所有循环并清空归属缓存
// 在途的 RPC 调用或投递自然完成，停止在 tick 边界生效
func (s *ScannerService) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.attribution.Clear()
	logger.Info("scanner stopped")
}

// Status 返回扫描器状态快照
func (s *ScannerService) Status(ctx context.Context) *ScanStatus {
	status := &ScanStatus{IsScanning: s.running.Load()}

	if cursor, err := s.cursorRepo.Get(ctx); err == nil {
		status.LastScannedBlock = cursor.LastScannedBlock
	}

	latest, err := s.gateway.BlockNumber(ctx)
	if err == nil {
		status.NetworkConnected = true
		status.LatestBlock = latest
		if latest > status.LastScannedBlock {
			status.BlocksBehind = latest - status.LastScannedBlock
		}
	}
	return status
}

func (s *ScannerService) scanLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				if errors.Is(err, ErrScanOverlap) || errors.Is(err, lock.ErrLockAcquireFailed) {
					logger.Warn("scan cycle skipped", zap.Error(err))
					continue
				}
				logger.Error("scan cycle failed", zap.Error(err))
			}
		}
	}
}

// ScanOnce 执行一轮扫描
// 上一轮未结束时直接跳过，不排队
func (s *ScannerService) ScanOnce(ctx context.Context) error {
	if !s.inCycle.CompareAndSwap(false, true) {
		return ErrScanOverlap
	}
	defer s.inCycle.Store(false)

	if s.locker != nil {
		return s.locker.WithLock(ctx, scanLockKey, s.scanCycle)
	}
	return s.scanCycle(ctx)
}

func (s *ScannerService) scanCycle(ctx context.Context) error {
	start := time.Now()

	cursor, err := s.cursorRepo.Get(ctx)
	if err != nil {
		return err
	}

	latest, err := s.gateway.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}

	if latest < s.cfg.Confirmations {
		return nil
	}
	safeHead := latest - s.cfg.Confirmations

	fromBlock := cursor.LastScannedBlock + 1
	if fromBlock > safeHead {
		// 安全高度尚未超过水位，仅刷新扫描时间作为存活信号
		_ = s.cursorRepo.TouchScanTime(ctx)
		return nil
	}

	batch := s.currentBatchSize()
	toBlock := fromBlock + batch - 1
	if toBlock > safeHead {
		toBlock = safeHead
	}

	_ = s.cursorRepo.SetScanning(ctx, true)
	defer func() {
		// 停止时 ctx 可能已取消，复位标记用独立上下文
		resetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.cursorRepo.SetScanning(resetCtx, false)
	}()

	events, scannedUpTo, err := s.gateway.TokenTransfers(ctx, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("fetch transfers [%d,%d]: %w", fromBlock, toBlock, err)
	}

	stored, err := s.persistTracked(ctx, events)
	if err != nil {
		return err
	}

	// 水位先推进再入账，重启后靠 credited 标记补齐
	if err := s.cursorRepo.AdvanceTo(ctx, scannedUpTo); err != nil &&
		!errors.Is(err, repository.ErrCursorMovedBackward) {
		return fmt.Errorf("advance cursor to %d: %w", scannedUpTo, err)
	}

	s.applyCredits(ctx)

	duration := time.Since(start)
	s.adjustBatchSize(duration)
	metrics.RecordScan(scannedUpTo-fromBlock+1, duration.Seconds(), scannedUpTo, latest)

	if stored > 0 || scannedUpTo < toBlock {
		logger.Info("scan cycle finished",
			zap.Uint64("from_block", fromBlock),
			zap.Uint64("to_block", toBlock),
			zap.Uint64("scanned_up_to", scannedUpTo),
			zap.Int("transfers_stored", stored),
			zap.Duration("duration", duration))
	}
	return nil
}

// RescanRange 手工回扫区块段，只补录转账，水位不回退
func (s *ScannerService) RescanRange(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	if fromBlock > toBlock {
		return 0, blockchain.ErrInvalidRange
	}

	events, scannedUpTo, err := s.gateway.TokenTransfers(ctx, fromBlock, toBlock)
	if err != nil {
		return 0, err
	}
	if scannedUpTo < toBlock {
		logger.Warn("rescan incomplete",
			zap.Uint64("requested_to", toBlock),
			zap.Uint64("scanned_up_to", scannedUpTo))
	}

	return s.persistTracked(ctx, events)
}

// persistTracked 归属过滤后幂等落库，返回新增记录数
func (s *ScannerService) persistTracked(ctx context.Context, events []*model.TransferEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	candidates := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if _, ok := seen[ev.ToAddress]; !ok {
			seen[ev.ToAddress] = struct{}{}
			candidates = append(candidates, ev.ToAddress)
		}
	}

	tracked, err := s.attributeAddresses(ctx, candidates)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, ev := range events {
		userID, ok := tracked[ev.ToAddress]
		if !ok {
			continue
		}

		record := &model.Transfer{
			TxHash:      ev.TxHash,
			BlockNumber: ev.BlockNumber,
			LogIndex:    ev.LogIndex,
			TxIndex:     ev.TxIndex,
			FromAddress: ev.FromAddress,
			ToAddress:   ev.ToAddress,
			Amount:      ev.Amount,
			UserID:      userID,
			Status:      model.TransferStatusPending,
		}
		if err := s.transferRepo.Create(ctx, record); err != nil {
			if errors.Is(err, repository.ErrDuplicateTransfer) {
				continue
			}
			return stored, err
		}
		stored++
		metrics.RecordTransfer("detected")
	}
	return stored, nil
}

// attributeAddresses 候选地址归属查询，批量大时走缓存
func (s *ScannerService) attributeAddresses(ctx context.Context, candidates []string) (map[string]string, error) {
	if !s.attribution.Eligible(len(candidates)) {
		metrics.RecordAttributionLookup("bypass")
		return s.lookupAddresses(ctx, candidates)
	}

	key := cache.CacheKey(candidates)
	if result, ok := s.attribution.Get(key); ok {
		metrics.RecordAttributionLookup("hit")
		return result, nil
	}

	result, err := s.lookupAddresses(ctx, candidates)
	if err != nil {
		return nil, err
	}
	s.attribution.Put(key, result)
	metrics.RecordAttributionLookup("miss")
	return result, nil
}

func (s *ScannerService) lookupAddresses(ctx context.Context, candidates []string) (map[string]string, error) {
	records, err := s.addressRepo.FindByAddresses(ctx, candidates)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(records))
	for _, rec := range records {
		result[rec.Address] = rec.UserID
	}
	return result, nil
}

// applyCredits 为尚未入账的转账累加钱包余额
// 入账失败只记日志，credited 标记保证下一轮重试且不重复累加
func (s *ScannerService) applyCredits(ctx context.Context) {
	transfers, err := s.transferRepo.ListUncredited(ctx, confirmBatchSize)
	if err != nil {
		logger.Error("list uncredited transfers failed", zap.Error(err))
		return
	}

	for _, t := range transfers {
		addr, err := s.addressRepo.GetByAddress(ctx, t.ToAddress)
		if err != nil {
			if errors.Is(err, repository.ErrAddressNotFound) {
				// 地址已不再跟踪，直接消化标记
				_ = s.transferRepo.MarkCredited(ctx, t.TxHash)
			}
			continue
		}

		if addr.IsWallet() {
			if err := s.addressRepo.CreditBalance(ctx, t.ToAddress, t.Amount); err != nil {
				logger.Error("credit balance failed",
					zap.String("tx_hash", t.TxHash),
					zap.String("address", t.ToAddress),
					zap.Error(err))
				continue
			}
			metrics.RecordTransfer("credited")
		}
		if err := s.transferRepo.MarkCredited(ctx, t.TxHash); err != nil {
			logger.Error("mark credited failed", zap.String("tx_hash", t.TxHash), zap.Error(err))
		}
	}
}

func (s *ScannerService) currentBatchSize() uint64 {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return s.batchSize
}

// adjustBatchSize 按上一轮耗时自适应调整批量
func (s *ScannerService) adjustBatchSize(duration time.Duration) {
	interval := time.Duration(s.cfg.IntervalSec) * time.Second

	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	switch {
	case duration > interval:
		next := s.batchSize / 2
		if next < s.cfg.MinBatchSize {
			next = s.cfg.MinBatchSize
		}
		if next != s.batchSize {
			logger.Info("scan batch shrunk",
				zap.Uint64("from", s.batchSize), zap.Uint64("to", next))
			s.batchSize = next
		}
	case duration < interval/4:
		next := s.batchSize * 2
		if next > s.cfg.MaxBatchSize {
			next = s.cfg.MaxBatchSize
		}
		s.batchSize = next
	}
}

func (s *ScannerService) confirmLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(confirmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ConfirmOnce(ctx); err != nil {
				logger.Error("confirmation cycle failed", zap.Error(err))
			}
		}
	}
}

// ConfirmOnce 推进待确认转账的确认数
// 确认数 = 最新高度 - 所在高度，只增不减；达到深度即转 CONFIRMED
func (s *ScannerService) ConfirmOnce(ctx context.Context) error {
	pending, err := s.transferRepo.ListPendingConfirmation(ctx, confirmBatchSize)
	if err != nil {
		return err
	}
	metrics.UpdatePendingTransfers(len(pending))
	if len(pending) == 0 {
		return nil
	}

	latest, err := s.gateway.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}

	for _, t := range pending {
		var count uint64
		if latest > t.BlockNumber {
			count = latest - t.BlockNumber
		}
		if count < t.ConfirmationCount {
			// 节点回答落后时保持现值
			continue
		}

		status := model.TransferStatusPending
		if count >= s.cfg.Confirmations {
			status = model.TransferStatusConfirmed
		}

		if err := s.transferRepo.UpdateConfirmation(ctx, t.TxHash, count, status); err != nil {
			if errors.Is(err, repository.ErrTransferNotFound) {
				continue
			}
			logger.Error("update confirmation failed",
				zap.String("tx_hash", t.TxHash), zap.Error(err))
			continue
		}

		if status == model.TransferStatusConfirmed {
			metrics.RecordTransfer("confirmed")
			s.publishConfirmed(ctx, t, count)
		}
	}
	return nil
}

func (s *ScannerService) publishConfirmed(ctx context.Context, t *model.Transfer, count uint64) {
	err := s.publisher.PublishTransferConfirmed(ctx, &model.TransferConfirmedEvent{
		TxHash:            t.TxHash,
		BlockNumber:       t.BlockNumber,
		FromAddress:       t.FromAddress,
		ToAddress:         t.ToAddress,
		Amount:            t.Amount,
		UserID:            t.UserID,
		ConfirmationCount: count,
		ConfirmedAt:       time.Now().UnixMilli(),
	})
	if err != nil {
		logger.Warn("publish transfer-confirmed event failed",
			zap.String("tx_hash", t.TxHash), zap.Error(err))
		return
	}
	metrics.RecordKafkaMessage(kafka.TopicTransferConfirmed)
}

func (s *ScannerService) notifyLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(notifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.NotifyOnce(ctx); err != nil {
				logger.Error("notify cycle failed", zap.Error(err))
			}
		}
	}
}

// NotifyOnce 投递已确认未通知的充值回调，按区块序
func (s *ScannerService) NotifyOnce(ctx context.Context) error {
	transfers, err := s.transferRepo.ListConfirmedUnnotified(ctx, notifyBatchSize)
	if err != nil {
		return err
	}

	for _, t := range transfers {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		display := model.FormatUnits(t.Amount, s.decimals)
		payload, err := webhook.BuildDepositPayload(&webhook.DepositNotice{
			Amount:      display,
			Currency:    s.symbol,
			FromAddress: t.FromAddress,
			TxHash:      t.TxHash,
			ToAddress:   t.ToAddress,
			UserID:      t.UserID,
		}, s.webhookCfg.Secret)
		if err != nil {
			logger.Error("build deposit payload failed",
				zap.String("tx_hash", t.TxHash), zap.Error(err))
			continue
		}

		// 即时投递或持久化入队都算通知完成，队列保证至少一次
		_, err = s.callbacks.DeliverOrEnqueue(ctx,
			model.CallbackTypeDeposit, t.TxHash, "", s.webhookCfg.DepositURL, payload)
		if err != nil {
			logger.Error("deposit callback enqueue failed",
				zap.String("tx_hash", t.TxHash), zap.Error(err))
			continue
		}

		if err := s.transferRepo.MarkWebhookSent(ctx, t.TxHash); err != nil {
			logger.Error("mark webhook sent failed",
				zap.String("tx_hash", t.TxHash), zap.Error(err))
			continue
		}
		metrics.RecordTransfer("notified")
	}
	return nil
}

// TokenBalanceOf 查询地址代币余额 (展示单位)
func (s *ScannerService) TokenBalanceOf(ctx context.Context, address string) (decimal.Decimal, error) {
	raw, err := s.gateway.TokenBalance(ctx, common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, err
	}
	return raw.Shift(-s.decimals), nil
}
