package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paywatch/chain-notify/internal/config"
	"github.com/paywatch/chain-notify/internal/metrics"
	"github.com/paywatch/chain-notify/internal/model"
	"github.com/paywatch/chain-notify/internal/repository"
	"github.com/paywatch/chain-notify/pkg/logger"
)

var (
	// ErrCollectionDisabled 归集功能未启用
	ErrCollectionDisabled = errors.New("collection is disabled")
	// ErrMissingWalletKey 钱包缺少私钥，无法归集
	ErrMissingWalletKey = errors.New("wallet private key missing")
)

// CollectionService 余额归集服务
//
// 周期扫描托管钱包，代币余额达到阈值时执行两步归集：先从热钱包给
// 该地址预付 gas，等待落账后再把代币转入金库。任一步失败记录即失败；
// 已付出的 gas 不回收，是可接受的成本。
type CollectionService struct {
	collectionRepo repository.CollectionRepository
	addressRepo    repository.AddressRepository
	gateway        ChainGateway

	cfg      config.CollectionConfig
	decimals int32

	threshold decimal.Decimal // 原始单位
	gasAmount decimal.Decimal // 原生币原始单位

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCollectionService 创建归集服务
func NewCollectionService(
	collectionRepo repository.CollectionRepository,
	addressRepo repository.AddressRepository,
	gateway ChainGateway,
	cfg config.CollectionConfig,
	tokenDecimals int32,
) (*CollectionService, error) {
	s := &CollectionService{
		collectionRepo: collectionRepo,
		addressRepo:    addressRepo,
		gateway:        gateway,
		cfg:            cfg,
		decimals:       tokenDecimals,
	}

	if cfg.Enabled {
		threshold, err := model.ParseUnits(cfg.Threshold, tokenDecimals)
		if err != nil {
			return nil, fmt.Errorf("parse collection threshold: %w", err)
		}
		gasAmount, err := model.ParseRawAmount(cfg.GasAmount)
		if err != nil {
			return nil, fmt.Errorf("parse collection gas amount: %w", err)
		}
		if !common.IsHexAddress(cfg.TreasuryAddress) {
			return nil, fmt.Errorf("invalid treasury address %q", cfg.TreasuryAddress)
		}
		s.threshold = threshold
		s.gasAmount = gasAmount
	}
	return s, nil
}

// Start 启动归集扫描，未启用时为空操作
func (s *CollectionService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		logger.Info("collection disabled")
		return
	}

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

	logger.Info("collection service started",
		zap.String("threshold", s.threshold.String()),
		zap.String("treasury", s.cfg.TreasuryAddress))
}

// Stop 停止归集扫描
func (s *CollectionService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("collection service stopped")
}

func (s *CollectionService) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				logger.Error("collection sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce 执行一轮归集扫描
// 先补推崩溃遗留的记录，再扫描达到阈值的钱包
func (s *CollectionService) SweepOnce(ctx context.Context) error {
	if !s.cfg.Enabled {
		return ErrCollectionDisabled
	}

	s.resumeStale(ctx)

	wallets, err := s.addressRepo.ListWallets(ctx, true, s.cfg.MaxPerCycle)
	if err != nil {
		return err
	}

	for _, wallet := range wallets {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		active, err := s.collectionRepo.HasActiveForAddress(ctx, wallet.Address)
		if err != nil {
			logger.Error("check active collection failed",
				zap.String("address", wallet.Address), zap.Error(err))
			continue
		}
		if active {
			continue
		}

		balance, err := s.gateway.TokenBalance(ctx, common.HexToAddress(wallet.Address))
		if err != nil {
			logger.Error("query wallet token balance failed",
				zap.String("address", wallet.Address), zap.Error(err))
			continue
		}
		if balance.LessThan(s.threshold) {
			continue
		}

		record := &model.CollectionRecord{
			CollectionID: uuid.New().String(),
			FromAddress:  wallet.Address,
			ToAddress:    common.HexToAddress(s.cfg.TreasuryAddress).Hex(),
			Amount:       balance,
			Status:       model.CollectionStatusPending,
		}
		if err := s.collectionRepo.Create(ctx, record); err != nil {
			logger.Error("create collection record failed",
				zap.String("address", wallet.Address), zap.Error(err))
			continue
		}
		metrics.CollectionsTotal.WithLabelValues("pending").Inc()

		if err := s.execute(ctx, record, wallet.PrivateKey); err != nil {
			logger.Error("collection failed",
				zap.String("collection_id", record.CollectionID),
				zap.String("address", wallet.Address), zap.Error(err))
		}
	}
	return nil
}

// resumeStale 补推崩溃遗留的 pending 记录
func (s *CollectionService) resumeStale(ctx context.Context) {
	grace := time.Duration(s.cfg.IntervalSec) * time.Second
	before := time.Now().Add(-grace).UnixMilli()

	stale, err := s.collectionRepo.ListStalePending(ctx, before, s.cfg.MaxPerCycle)
	if err != nil {
		logger.Error("list stale collections failed", zap.Error(err))
		return
	}

	for _, record := range stale {
		wallet, err := s.addressRepo.GetByAddress(ctx, record.FromAddress)
		if err != nil {
			logger.Error("stale collection wallet lookup failed",
				zap.String("collection_id", record.CollectionID), zap.Error(err))
			continue
		}

		logger.Info("resuming stale collection",
			zap.String("collection_id", record.CollectionID))
		if err := s.execute(ctx, record, wallet.PrivateKey); err != nil {
			logger.Error("stale collection failed",
				zap.String("collection_id", record.CollectionID), zap.Error(err))
		}
	}
}

// execute 执行两步归集编排
func (s *CollectionService) execute(ctx context.Context, record *model.CollectionRecord, walletKey string) error {
	if walletKey == "" {
		s.fail(ctx, record, ErrMissingWalletKey.Error())
		return ErrMissingWalletKey
	}

	if err := s.collectionRepo.UpdateStatus(ctx, record.CollectionID,
		model.CollectionStatusPending, model.CollectionStatusProcessing); err != nil {
		if errors.Is(err, repository.ErrCollectionNotFound) {
			return nil
		}
		return err
	}

	// 第一步: gas 预付
	walletAddr := common.HexToAddress(record.FromAddress)
	gasTxHash, err := s.gateway.SendNative(ctx, walletAddr, s.gasAmount)
	if err != nil {
		metrics.RecordBlockchainTx("gas_fund", "failed")
		s.fail(ctx, record, fmt.Sprintf("gas funding: %v", err))
		return err
	}
	metrics.RecordBlockchainTx("gas_fund", "sent")
	if err := s.collectionRepo.SetGasTxHash(ctx, record.CollectionID, gasTxHash); err != nil {
		logger.Error("set gas tx hash failed",
			zap.String("collection_id", record.CollectionID), zap.Error(err))
	}

	// 等待 gas 落账
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(s.cfg.SettleDelaySec) * time.Second):
	}

	// 第二步: 代币转入金库 (gas 已付出，失败不回收)
	txHash, err := s.gateway.SendTokenFrom(ctx, walletKey,
		common.HexToAddress(record.ToAddress), record.Amount)
	if err != nil {
		metrics.RecordBlockchainTx("collection", "failed")
		s.fail(ctx, record, fmt.Sprintf("token transfer: %v", err))
		return err
	}
	metrics.RecordBlockchainTx("collection", "sent")

	if err := s.collectionRepo.SetTxHash(ctx, record.CollectionID, txHash); err != nil {
		logger.Error("set collection tx hash failed",
			zap.String("collection_id", record.CollectionID), zap.Error(err))
	}
	if err := s.collectionRepo.UpdateStatus(ctx, record.CollectionID,
		model.CollectionStatusProcessing, model.CollectionStatusCompleted); err != nil {
		return err
	}
	metrics.CollectionsTotal.WithLabelValues("completed").Inc()

	logger.Info("collection completed",
		zap.String("collection_id", record.CollectionID),
		zap.String("from", record.FromAddress),
		zap.String("tx_hash", txHash),
		zap.String("amount", record.Amount.String()))
	return nil
}

func (s *CollectionService) fail(ctx context.Context, record *model.CollectionRecord, reason string) {
	if err := s.collectionRepo.MarkFailed(ctx, record.CollectionID, reason); err != nil {
		logger.Error("mark collection failed error",
			zap.String("collection_id", record.CollectionID), zap.Error(err))
		return
	}
	metrics.CollectionsTotal.WithLabelValues("failed").Inc()
}
