package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paywatch/chain-notify/internal/model"
	"github.com/paywatch/chain-notify/pkg/logger"
)

var (
	ErrInvalidRange   = errors.New("invalid block range")
	ErrNoChunkScanned = errors.New("no chunk scanned successfully")
)

// ERC-20 Transfer(address,address,uint256) 事件签名
var transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ERC-20 方法选择器
var (
	transferMethodID  = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	balanceOfMethodID = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
)

const (
	defaultChunkSize      = 200
	defaultMaxConcurrency = 5
	defaultChunkRetries   = 3
	defaultRetryBase      = time.Second
	defaultRetryCap       = 5 * time.Second
	parallelDecodeMinLogs = 256
	defaultTokenGasLimit  = 90000
	defaultNativeGasLimit = 21000
)

// Gateway 代币网关，封装扫描与转账的链上交互
type Gateway struct {
	client *Client
	nonce  *NonceManager
	gas    *GasPricer
	token  common.Address

	chunkSize      uint64
	maxConcurrency int
	chunkRetries   int
	retryBase      time.Duration
	retryCap       time.Duration
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	TokenAddress   string
	ChunkSize      uint64
	MaxConcurrency int
	ChunkRetries   int
}

// NewGateway 创建代币网关
func NewGateway(client *Client, nonce *NonceManager, cfg *GatewayConfig) *Gateway {
	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency == 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	chunkRetries := cfg.ChunkRetries
	if chunkRetries == 0 {
		chunkRetries = defaultChunkRetries
	}

	return &Gateway{
		client:         client,
		nonce:          nonce,
		gas:            NewGasPricer(client, nil),
		token:          common.HexToAddress(cfg.TokenAddress),
		chunkSize:      chunkSize,
		maxConcurrency: maxConcurrency,
		chunkRetries:   chunkRetries,
		retryBase:      defaultRetryBase,
		retryCap:       defaultRetryCap,
	}
}

// TokenAddress 返回代币合约地址
func (g *Gateway) TokenAddress() common.Address {
	return g.token
}

// FundingAddress 返回热钱包地址
func (g *Gateway) FundingAddress() common.Address {
	return g.client.Address()
}

// BlockNumber 获取最新区块号
func (g *Gateway) BlockNumber(ctx context.Context) (uint64, error) {
	return g.client.BlockNumber(ctx)
}

// HealthCheck 链路探活
func (g *Gateway) HealthCheck(ctx context.Context) error {
	return g.client.HealthCheck(ctx)
}

// chunkResult 单个区块段的扫描结果
type chunkResult struct {
	fromBlock uint64
	toBlock   uint64
	events    []*model.TransferEvent
	err       error
}

// TokenTransfers 扫描 [fromBlock, toBlock] 内的代币转账事件
//
// 区块段并发拉取，单段失败不影响其他段。返回值 scannedUpTo 是从 fromBlock
// 起连续成功的最后一个区块，水位只能推进到这里；其后成功段的事件一并返回，
// 下一轮重扫时靠 tx_hash 唯一约束去重。
func (g *Gateway) TokenTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]*model.TransferEvent, uint64, error) {
	if fromBlock > toBlock {
		return nil, 0, ErrInvalidRange
	}

	var chunks []chunkResult
	for start := fromBlock; start <= toBlock; start += g.chunkSize {
		end := start + g.chunkSize - 1
		if end > toBlock {
			end = toBlock
		}
		chunks = append(chunks, chunkResult{fromBlock: start, toBlock: end})
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.maxConcurrency)
	for i := range chunks {
		chunk := &chunks[i]
		eg.Go(func() error {
			chunk.events, chunk.err = g.fetchChunk(egCtx, chunk.fromBlock, chunk.toBlock)
			// 单段失败不终止整轮扫描
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, err
	}

	// 连续成功前缀决定水位
	scannedUpTo := uint64(0)
	scannedAny := false
	var events []*model.TransferEvent
	for i := range chunks {
		if chunks[i].err != nil {
			logger.Warn("chunk scan failed",
				zap.Uint64("from_block", chunks[i].fromBlock),
				zap.Uint64("to_block", chunks[i].toBlock),
				zap.Error(chunks[i].err))
			break
		}
		scannedUpTo = chunks[i].toBlock
		scannedAny = true
		events = append(events, chunks[i].events...)
	}
	if !scannedAny {
		return nil, 0, ErrNoChunkScanned
	}

	// 后续成功段也收集，靠唯一约束兜底去重
	for i := range chunks {
		if chunks[i].toBlock <= scannedUpTo || chunks[i].err != nil {
			continue
		}
		events = append(events, chunks[i].events...)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	return events, scannedUpTo, nil
}

// fetchChunk 拉取单个区块段，指数退避重试
func (g *Gateway) fetchChunk(ctx context.Context, fromBlock, toBlock uint64) ([]*model.TransferEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{g.token},
		Topics:    [][]common.Hash{{transferEventTopic}},
	}

	var logs []types.Log
	var lastErr error
	backoff := g.retryBase
	for attempt := 0; attempt < g.chunkRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > g.retryCap {
				backoff = g.retryCap
			}
		}

		logs, lastErr = g.client.FilterLogs(ctx, query)
		if lastErr == nil {
			return g.decodeLogs(logs), nil
		}
	}
	return nil, lastErr
}

// decodeLogs 解码 Transfer 日志，畸形日志跳过
func (g *Gateway) decodeLogs(logs []types.Log) []*model.TransferEvent {
	if len(logs) < parallelDecodeMinLogs {
		events := make([]*model.TransferEvent, 0, len(logs))
		for i := range logs {
			if ev := decodeTransferLog(&logs[i]); ev != nil {
				events = append(events, ev)
			}
		}
		return events
	}

	// 大批量日志并行解码
	decoded := make([]*model.TransferEvent, len(logs))
	var wg sync.WaitGroup
	workers := g.maxConcurrency
	step := (len(logs) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * step
		if start >= len(logs) {
			break
		}
		end := start + step
		if end > len(logs) {
			end = len(logs)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				decoded[i] = decodeTransferLog(&logs[i])
			}
		}(start, end)
	}
	wg.Wait()

	events := make([]*model.TransferEvent, 0, len(logs))
	for _, ev := range decoded {
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// decodeTransferLog 解码单条 Transfer 日志，非标准日志返回 nil
func decodeTransferLog(log *types.Log) *model.TransferEvent {
	if log.Removed {
		return nil
	}
	if len(log.Topics) != 3 || log.Topics[0] != transferEventTopic {
		return nil
	}
	if len(log.Data) != 32 {
		return nil
	}

	amount := new(big.Int).SetBytes(log.Data)
	return &model.TransferEvent{
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
		FromAddress: strings.ToLower(common.BytesToAddress(log.Topics[1].Bytes()).Hex()),
		ToAddress:   strings.ToLower(common.BytesToAddress(log.Topics[2].Bytes()).Hex()),
		Amount:      decimal.NewFromBigInt(amount, 0),
		LogIndex:    log.Index,
		TxIndex:     log.TxIndex,
	}
}

// TokenBalance 查询地址的代币余额 (原始整数单位)
func (g *Gateway) TokenBalance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfMethodID...)
	data = append(data, common.LeftPadBytes(account.Bytes(), 32)...)

	result, err := g.client.CallContract(ctx, ethereum.CallMsg{
		To:   &g.token,
		Data: data,
	}, nil)
	if err != nil {
		return decimal.Zero, err
	}
	if len(result) < 32 {
		return decimal.Zero, nil
	}
	return decimal.NewFromBigInt(new(big.Int).SetBytes(result[:32]), 0), nil
}

// NativeBalance 查询地址的原生币余额
func (g *Gateway) NativeBalance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	balance, err := g.client.BalanceAt(ctx, account, nil)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(balance, 0), nil
}

// SendToken 从热钱包发送代币转账，返回交易哈希
func (g *Gateway) SendToken(ctx context.Context, to common.Address, amount decimal.Decimal) (string, error) {
	data := make([]byte, 0, 68)
	data = append(data, transferMethodID...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.BigInt().Bytes(), 32)...)

	return g.sendTransaction(ctx, g.token, big.NewInt(0), data, defaultTokenGasLimit)
}

// SendNative 从热钱包发送原生币 (归集 gas 预付)
func (g *Gateway) SendNative(ctx context.Context, to common.Address, amount decimal.Decimal) (string, error) {
	return g.sendTransaction(ctx, to, amount.BigInt(), nil, defaultNativeGasLimit)
}

// SendTokenFrom 用指定私钥发送代币 (归集钱包转出到金库)
// 归集钱包交易量低，nonce 直接从链上取，不走热钱包的 nonce 管理
func (g *Gateway) SendTokenFrom(ctx context.Context, keyHex string, to common.Address, amount decimal.Decimal) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", err
	}
	gasPrice, err := g.gas.GasPrice(ctx)
	if err != nil {
		return "", err
	}

	data := make([]byte, 0, 68)
	data = append(data, transferMethodID...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.BigInt().Bytes(), 32)...)

	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &g.token,
		Data: data,
	})
	if err != nil {
		gasLimit = defaultTokenGasLimit
	}

	tx := types.NewTransaction(nonce, g.token, big.NewInt(0), gasLimit, gasPrice, data)
	signer := types.NewEIP155Signer(big.NewInt(g.client.ChainID()))
	signedTx, err := types.SignTx(tx, signer, key)
	if err != nil {
		return "", err
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return "", err
	}

	txHash := signedTx.Hash().Hex()
	logger.Info("transaction sent",
		zap.String("tx_hash", txHash),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()))
	return txHash, nil
}

// sendTransaction 构建、签名并发送交易
func (g *Gateway) sendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, fallbackGasLimit uint64) (string, error) {
	nonce, err := g.nonce.AcquireNonce(ctx)
	if err != nil {
		return "", err
	}

	gasPrice, err := g.gas.GasPrice(ctx)
	if err != nil {
		g.nonce.ReleaseNonce(nonce)
		return "", err
	}

	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  g.client.Address(),
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		gasLimit = fallbackGasLimit
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signedTx, err := g.client.SignTransaction(tx)
	if err != nil {
		g.nonce.ReleaseNonce(nonce)
		return "", err
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		if strings.Contains(err.Error(), "nonce too low") {
			g.nonce.SyncFromChain(ctx)
		}
		g.nonce.ReleaseNonce(nonce)
		return "", err
	}

	txHash := signedTx.Hash().Hex()
	g.nonce.ConfirmNonce(nonce, txHash)

	logger.Info("transaction sent",
		zap.String("tx_hash", txHash),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce))
	return txHash, nil
}
