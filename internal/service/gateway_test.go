package service

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/paywatch/chain-notify/internal/blockchain"
	"github.com/paywatch/chain-notify/internal/model"
)

var _ ChainGateway = (*blockchain.Gateway)(nil)

// mockChainGateway 模拟链上网关
type mockChainGateway struct {
	mock.Mock
}

func (m *mockChainGateway) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockChainGateway) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockChainGateway) TokenTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]*model.TransferEvent, uint64, error) {
	args := m.Called(ctx, fromBlock, toBlock)
	if args.Get(0) == nil {
		return nil, args.Get(1).(uint64), args.Error(2)
	}
	return args.Get(0).([]*model.TransferEvent), args.Get(1).(uint64), args.Error(2)
}

func (m *mockChainGateway) TokenBalance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockChainGateway) FundingAddress() common.Address {
	args := m.Called()
	return args.Get(0).(common.Address)
}

func (m *mockChainGateway) SendToken(ctx context.Context, to common.Address, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, to, amount)
	return args.String(0), args.Error(1)
}

func (m *mockChainGateway) SendNative(ctx context.Context, to common.Address, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, to, amount)
	return args.String(0), args.Error(1)
}

func (m *mockChainGateway) SendTokenFrom(ctx context.Context, keyHex string, to common.Address, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, keyHex, to, amount)
	return args.String(0), args.Error(1)
}
