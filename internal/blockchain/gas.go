package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"
)

// ErrGasPriceTooHigh gas 价格超出上限
var ErrGasPriceTooHigh = errors.New("gas price exceeds maximum")

const (
	gasPriceCacheTTL   = 15 * time.Second
	gasPriceBufferPct  = 10              // 建议价上浮百分比
	defaultMaxGasPrice = 500_000_000_000 // 500 gwei
)

// gasPriceSuggester 建议价数据源
type gasPriceSuggester interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// GasPricer 带缓存的 gas 价格源
// 扫描周期内多笔交易复用同一次询价，上浮 10% 加速打包
type GasPricer struct {
	client      gasPriceSuggester
	maxGasPrice *big.Int

	mu        sync.Mutex
	cached    *big.Int
	fetchedAt time.Time
}

// NewGasPricer 创建 gas 价格源，maxGasPrice 为 nil 时使用默认上限
func NewGasPricer(client gasPriceSuggester, maxGasPrice *big.Int) *GasPricer {
	if maxGasPrice == nil {
		maxGasPrice = big.NewInt(defaultMaxGasPrice)
	}
	return &GasPricer{
		client:      client,
		maxGasPrice: maxGasPrice,
	}
}

// GasPrice 返回上浮后的 gas 价格，超出上限时报错
func (p *GasPricer) GasPrice(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && time.Since(p.fetchedAt) < gasPriceCacheTTL {
		return new(big.Int).Set(p.cached), nil
	}

	suggested, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	buffered := new(big.Int).Mul(suggested, big.NewInt(100+gasPriceBufferPct))
	buffered.Div(buffered, big.NewInt(100))

	if buffered.Cmp(p.maxGasPrice) > 0 {
		return nil, ErrGasPriceTooHigh
	}

	p.cached = buffered
	p.fetchedAt = time.Now()
	return new(big.Int).Set(buffered), nil
}

// Invalidate 清空缓存 (交易被打回时强制重新询价)
func (p *GasPricer) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}
