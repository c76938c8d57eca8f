package service

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/paywatch/chain-notify/internal/model"
)

// ChainGateway 服务层依赖的链上交互能力
// *blockchain.Gateway 实现该接口
type ChainGateway interface {
	HealthCheck(ctx context.Context) error
	BlockNumber(ctx context.Context) (uint64, error)
	TokenTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]*model.TransferEvent, uint64, error)
	TokenBalance(ctx context.Context, account common.Address) (decimal.Decimal, error)
	FundingAddress() common.Address
	SendToken(ctx context.Context, to common.Address, amount decimal.Decimal) (string, error)
	SendNative(ctx context.Context, to common.Address, amount decimal.Decimal) (string, error)
	SendTokenFrom(ctx context.Context, keyHex string, to common.Address, amount decimal.Decimal) (string, error)
}
