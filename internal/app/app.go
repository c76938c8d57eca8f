// Package app 提供 chain-notify 服务的应用生命周期管理
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/paywatch/chain-notify/internal/blockchain"
	"github.com/paywatch/chain-notify/internal/cache"
	"github.com/paywatch/chain-notify/internal/config"
	"github.com/paywatch/chain-notify/internal/kafka"
	"github.com/paywatch/chain-notify/internal/lock"
	"github.com/paywatch/chain-notify/internal/repository"
	"github.com/paywatch/chain-notify/internal/service"
	"github.com/paywatch/chain-notify/internal/webhook"
	"github.com/paywatch/chain-notify/pkg/logger"
)

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db    *gorm.DB
	redis *redis.Client

	// 区块链
	blockchainClient *blockchain.Client
	nonceManager     *blockchain.NonceManager
	gateway          *blockchain.Gateway

	// 仓储
	cursorRepo     repository.CursorRepository
	transferRepo   repository.TransferRepository
	addressRepo    repository.AddressRepository
	withdrawalRepo repository.WithdrawalRepository
	collectionRepo repository.CollectionRepository
	callbackRepo   repository.CallbackRepository

	// 服务
	attribution   *cache.AttributionCache
	callbackSvc   *service.CallbackService
	scannerSvc    *service.ScannerService
	withdrawalSvc *service.WithdrawalService
	collectionSvc *service.CollectionService

	// Kafka
	publisher kafka.EventPublisher

	// HTTP (metrics + health)
	httpServer *http.Server

	stopCh chan struct{}
}

// NewApp 创建应用
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := app.initBlockchain(); err != nil {
		return nil, fmt.Errorf("failed to init blockchain: %w", err)
	}
	app.initRepositories()
	if err := app.initKafka(); err != nil {
		return nil, fmt.Errorf("failed to init kafka: %w", err)
	}
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}
	app.initHTTP()

	return app, nil
}

// initInfrastructure 初始化基础设施
func (a *App) initInfrastructure() error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		a.cfg.Postgres.Host,
		a.cfg.Postgres.Port,
		a.cfg.Postgres.User,
		a.cfg.Postgres.Password,
		a.cfg.Postgres.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected", zap.String("host", a.cfg.Postgres.Host))

	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")

	redisAddr := "localhost:6379"
	if len(a.cfg.Redis.Addresses) > 0 {
		redisAddr = a.cfg.Redis.Addresses[0]
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})
	if err := a.redis.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	logger.Info("redis connected", zap.String("addr", redisAddr))

	return nil
}

// initBlockchain 初始化区块链客户端与网关
func (a *App) initBlockchain() error {
	rpcURLs := append([]string{a.cfg.Blockchain.RPCURL}, a.cfg.Blockchain.BackupRPCURLs...)

	client, err := blockchain.NewClient(&blockchain.ClientConfig{
		ChainID:         a.cfg.Blockchain.ChainID,
		PrivateKey:      a.cfg.Blockchain.FundingPrivateKey,
		RPCURLs:         rpcURLs,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		HealthCheckFreq: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create blockchain client: %w", err)
	}
	a.blockchainClient = client

	a.nonceManager = blockchain.NewNonceManager(client, a.redis, &blockchain.NonceManagerConfig{
		Wallet:  client.Address(),
		ChainID: a.cfg.Blockchain.ChainID,
	})

	a.gateway = blockchain.NewGateway(client, a.nonceManager, &blockchain.GatewayConfig{
		TokenAddress:   a.cfg.Blockchain.ContractAddress,
		ChunkSize:      a.cfg.Scan.ChunkSize,
		MaxConcurrency: a.cfg.Scan.MaxConcurrency,
	})

	logger.Info("blockchain gateway initialized",
		zap.Int64("chain_id", a.cfg.Blockchain.ChainID),
		zap.String("token", common.HexToAddress(a.cfg.Blockchain.ContractAddress).Hex()),
		zap.String("funding_wallet", client.Address().Hex()))
	return nil
}

// initRepositories 初始化仓储
func (a *App) initRepositories() {
	a.cursorRepo = repository.NewCursorRepository(a.db)
	a.transferRepo = repository.NewTransferRepository(a.db)
	a.addressRepo = repository.NewAddressRepository(a.db)
	a.withdrawalRepo = repository.NewWithdrawalRepository(a.db)
	a.collectionRepo = repository.NewCollectionRepository(a.db)
	a.callbackRepo = repository.NewCallbackRepository(a.db)

	logger.Info("repositories initialized")
}

// initKafka 初始化事件发布，未配置 broker 时关闭
func (a *App) initKafka() error {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.publisher = kafka.NopPublisher{}
		logger.Info("kafka disabled, events will not be published")
		return nil
	}

	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}
	a.publisher = producer

	logger.Info("kafka initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initServices 初始化服务
func (a *App) initServices() error {
	webhookClient := webhook.NewClient(time.Duration(a.cfg.Webhook.TimeoutSec) * time.Second)
	retention := time.Duration(a.cfg.Webhook.RetentionDays) * 24 * time.Hour

	a.callbackSvc = service.NewCallbackService(
		a.callbackRepo, a.transferRepo, webhookClient, retention)

	a.attribution = cache.NewAttributionCache(0, 0, 0)

	var locker *lock.RedisLocker
	if a.cfg.Scan.DistributedLock {
		locker = lock.NewRedisLocker(a.redis, "chainnotify:lock:", 30*time.Second)
	}

	a.scannerSvc = service.NewScannerService(
		a.cursorRepo,
		a.transferRepo,
		a.addressRepo,
		a.gateway,
		a.attribution,
		a.callbackSvc,
		a.publisher,
		locker,
		a.cfg.Scan,
		a.cfg.Webhook,
		a.cfg.Blockchain.TokenDecimals,
		a.cfg.Blockchain.TokenSymbol,
	)

	a.withdrawalSvc = service.NewWithdrawalService(
		a.withdrawalRepo,
		a.gateway,
		a.callbackSvc,
		a.publisher,
		a.cfg.Withdrawal,
		a.cfg.Webhook,
		a.cfg.Blockchain.TokenDecimals,
	)

	collectionSvc, err := service.NewCollectionService(
		a.collectionRepo,
		a.addressRepo,
		a.gateway,
		a.cfg.Collection,
		a.cfg.Blockchain.TokenDecimals,
	)
	if err != nil {
		return err
	}
	a.collectionSvc = collectionSvc

	logger.Info("services initialized")
	return nil
}

// initHTTP 初始化 metrics 与健康检查端口
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := a.scannerSvc.Status(r.Context())
		if !status.NetworkConnected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, `{"scanning":%t,"last_scanned_block":%d,"latest_block":%d,"blocks_behind":%d,"network_connected":%t}`,
			status.IsScanning, status.LastScannedBlock, status.LatestBlock,
			status.BlocksBehind, status.NetworkConnected)
	})

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler: mux,
	}
}

// Run 运行应用，阻塞到收到退出信号
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.scannerSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scanner: %w", err)
	}
	a.callbackSvc.Start(ctx)
	a.withdrawalSvc.Start(ctx)
	a.collectionSvc.Start(ctx)

	go func() {
		logger.Info("http server listening", zap.Int("port", a.cfg.Service.HTTPPort))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-a.stopCh:
		logger.Info("shutdown requested")
	}

	return a.shutdown()
}

// shutdown 停止顺序与启动相反，停止在 tick 边界生效
func (a *App) shutdown() error {
	logger.Info("shutting down...")

	if a.collectionSvc != nil {
		a.collectionSvc.Stop()
	}
	if a.withdrawalSvc != nil {
		a.withdrawalSvc.Stop()
	}
	if a.scannerSvc != nil {
		a.scannerSvc.Stop()
	}
	if a.callbackSvc != nil {
		a.callbackSvc.Stop()
	}
	if a.attribution != nil {
		a.attribution.Stop()
	}

	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.httpServer.Shutdown(shutdownCtx)
	}

	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.blockchainClient != nil {
		a.blockchainClient.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, _ := a.db.DB(); sqlDB != nil {
			_ = sqlDB.Close()
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// Stop 停止应用
func (a *App) Stop() {
	close(a.stopCh)
}
