package blockchain

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Validation(t *testing.T) {
	t.Run("no RPC URLs", func(t *testing.T) {
		_, err := NewClient(&ClientConfig{ChainID: 1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one RPC URL is required")
	})

	t.Run("invalid private key", func(t *testing.T) {
		_, err := NewClient(&ClientConfig{
			ChainID:    1,
			RPCURLs:    []string{"http://localhost:8545"},
			PrivateKey: "not-a-key",
		})
		require.Error(t, err)
	})
}

func TestClient_SignTransaction_NoKey(t *testing.T) {
	c := &Client{chainID: 1}

	tx := types.NewTransaction(0, common.Address{}, big.NewInt(0), 21000, big.NewInt(1), nil)
	_, err := c.SignTransaction(tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key not configured")
}

// 全部端点在复查窗口内均不健康时直接报错，不发起拨号
func TestClient_Connect_AllEndpointsDown(t *testing.T) {
	c := &Client{
		endpoints: []*RPCEndpoint{
			{URL: "http://localhost:1", IsHealthy: false, LastCheck: time.Now()},
			{URL: "http://localhost:2", IsHealthy: false, LastCheck: time.Now()},
		},
		healthCheckFreq: time.Minute,
	}

	err := c.connect(context.Background())
	assert.ErrorIs(t, err, ErrNoHealthyRPC)
}

// 连接缺失时探活等同重连
func TestClient_Probe_NoConnection(t *testing.T) {
	c := &Client{
		endpoints: []*RPCEndpoint{
			{URL: "http://localhost:1", IsHealthy: false, LastCheck: time.Now()},
		},
		healthCheckFreq: time.Minute,
	}

	err := c.probe(context.Background())
	assert.ErrorIs(t, err, ErrNoHealthyRPC)
}

func TestClient_MarkEndpointDown(t *testing.T) {
	ep := &RPCEndpoint{URL: "http://localhost:1", IsHealthy: true}
	c := &Client{endpoints: []*RPCEndpoint{ep}}

	c.markEndpointDown(ep)
	c.markEndpointDown(ep)

	assert.False(t, ep.IsHealthy)
	assert.Equal(t, 2, ep.ErrorCount)
	assert.False(t, ep.LastCheck.IsZero())
}

func TestClient_Close_Idempotent(t *testing.T) {
	c := &Client{stopCh: make(chan struct{})}
	c.Close()
	c.Close()

	select {
	case <-c.stopCh:
	default:
		t.Fatal("stop channel should be closed")
	}
}

func TestClient_Accessors(t *testing.T) {
	addr := common.HexToAddress("0x1234567890123456789012345678901234567890")
	c := &Client{chainID: 56, address: addr}

	assert.Equal(t, int64(56), c.ChainID())
	assert.Equal(t, addr, c.Address())
}
