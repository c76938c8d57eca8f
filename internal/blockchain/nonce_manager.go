package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNonceLockFailed  = errors.New("failed to acquire nonce lock")
	ErrNonceNotAcquired = errors.New("nonce not acquired")
)

// pendingNonceReader 链上 nonce 数据源
type pendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager 热钱包 Nonce 管理器
// Redis 分布式锁保证多实例下 nonce 分配不冲突
type NonceManager struct {
	client      pendingNonceReader
	redis       *redis.Client
	wallet      common.Address
	chainID     int64
	lockTimeout time.Duration

	mu           sync.RWMutex
	lastSyncTime time.Time
	syncInterval time.Duration

	pendingMu  sync.RWMutex
	pendingTxs map[uint64]string // nonce -> txHash
}

// NonceManagerConfig 配置
type NonceManagerConfig struct {
	Wallet       common.Address
	ChainID      int64
	LockTimeout  time.Duration
	SyncInterval time.Duration
}

// NewNonceManager 创建 Nonce 管理器
func NewNonceManager(client pendingNonceReader, rdb *redis.Client, cfg *NonceManagerConfig) *NonceManager {
	lockTimeout := cfg.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 30 * time.Second
	}
	syncInterval := cfg.SyncInterval
	if syncInterval == 0 {
		syncInterval = 5 * time.Minute
	}

	return &NonceManager{
		client:       client,
		redis:        rdb,
		wallet:       cfg.Wallet,
		chainID:      cfg.ChainID,
		lockTimeout:  lockTimeout,
		syncInterval: syncInterval,
		pendingTxs:   make(map[uint64]string),
	}
}

func (m *NonceManager) nonceKey() string {
	return fmt.Sprintf("chainnotify:nonce:%s:%d", m.wallet.Hex(), m.chainID)
}

func (m *NonceManager) lockKey() string {
	return fmt.Sprintf("chainnotify:nonce:lock:%s:%d", m.wallet.Hex(), m.chainID)
}

// AcquireNonce 获取并锁定一个 Nonce
// 成功发送后调用 ConfirmNonce，构建失败时调用 ReleaseNonce
func (m *NonceManager) AcquireNonce(ctx context.Context) (uint64, error) {
	ok, err := m.redis.SetNX(ctx, m.lockKey(), "1", m.lockTimeout).Result()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNonceLockFailed
	}
	defer m.redis.Del(ctx, m.lockKey())

	if m.needsSync() {
		if err := m.syncFromChain(ctx); err != nil {
			return 0, err
		}
	}

	nonce, err := m.currentNonce(ctx)
	if err != nil {
		return 0, err
	}
	if err := m.redis.Set(ctx, m.nonceKey(), nonce+1, 0).Err(); err != nil {
		return 0, err
	}

	m.pendingMu.Lock()
	m.pendingTxs[nonce] = ""
	m.pendingMu.Unlock()

	return nonce, nil
}

// ConfirmNonce 关联已发送交易
func (m *NonceManager) ConfirmNonce(nonce uint64, txHash string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if _, exists := m.pendingTxs[nonce]; exists {
		m.pendingTxs[nonce] = txHash
	}
}

// ReleaseNonce 释放未使用的 Nonce
// nonce 计数器不回退，空洞交由下一次链上同步收敛
func (m *NonceManager) ReleaseNonce(nonce uint64) error {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if _, exists := m.pendingTxs[nonce]; !exists {
		return ErrNonceNotAcquired
	}
	delete(m.pendingTxs, nonce)
	return nil
}

// SyncFromChain 强制从链上同步 Nonce (处理 nonce too low)
func (m *NonceManager) SyncFromChain(ctx context.Context) error {
	ok, err := m.redis.SetNX(ctx, m.lockKey(), "1", m.lockTimeout).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNonceLockFailed
	}
	defer m.redis.Del(ctx, m.lockKey())

	return m.syncFromChain(ctx)
}

func (m *NonceManager) syncFromChain(ctx context.Context) error {
	chainNonce, err := m.client.PendingNonceAt(ctx, m.wallet)
	if err != nil {
		return err
	}
	if err := m.redis.Set(ctx, m.nonceKey(), chainNonce, 0).Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSyncTime = time.Now()
	m.mu.Unlock()
	return nil
}

func (m *NonceManager) currentNonce(ctx context.Context) (uint64, error) {
	val, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	if err == redis.Nil {
		return m.client.PendingNonceAt(ctx, m.wallet)
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (m *NonceManager) needsSync() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.lastSyncTime) > m.syncInterval
}
