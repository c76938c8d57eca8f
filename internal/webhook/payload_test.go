package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDepositPayload(t *testing.T) {
	payload, err := BuildDepositPayload(&DepositNotice{
		Amount:      "1.5",
		Currency:    "USDT",
		FromAddress: "0xfrom",
		TxHash:      "0xhash",
		ToAddress:   "0xto",
		UserID:      "user-1",
	}, "secret")
	require.NoError(t, err)

	var params map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &params))

	assert.Equal(t, "1.5", params["amount"])
	assert.Equal(t, "USDT", params["currency"])
	assert.Equal(t, "0xfrom", params["fromAddress"])
	assert.Equal(t, "0xhash", params["hash"])
	assert.Equal(t, "0xto", params["toAddress"])
	assert.Equal(t, "user-1", params["userId"])
	assert.Equal(t, "1", params["walletType"])
	assert.NotEmpty(t, params["timestamp"])

	// 签名可被接收方校验
	sign := params["sign"]
	require.NotEmpty(t, sign)
	delete(params, "sign")
	assert.True(t, Verify(params, "secret", sign))
}

func TestBuildWithdrawalPayload(t *testing.T) {
	payload, err := BuildWithdrawalPayload(&WithdrawalNotice{
		Address:        "0xto",
		Amount:         "100",
		TxHash:         "0xhash",
		TransID:        "trans-1",
		TransferStatus: "1",
	}, "secret")
	require.NoError(t, err)

	var params map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &params))

	assert.Equal(t, "0xto", params["address"])
	assert.Equal(t, "100", params["amount"])
	assert.Equal(t, "0xhash", params["hash"])
	assert.Equal(t, "trans-1", params["transId"])
	assert.Equal(t, "1", params["transferStatus"])

	sign := params["sign"]
	require.NotEmpty(t, sign)
	delete(params, "sign")
	assert.True(t, Verify(params, "secret", sign))
}

// 受理阶段还没有链上哈希，hash 为空时不参与签名
func TestBuildWithdrawalPayload_NoTxHash(t *testing.T) {
	payload, err := BuildWithdrawalPayload(&WithdrawalNotice{
		Address:        "0xto",
		Amount:         "100",
		TransID:        "trans-1",
		TransferStatus: "0",
	}, "secret")
	require.NoError(t, err)

	var params map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &params))

	sign := params["sign"]
	delete(params, "sign")
	assert.True(t, Verify(params, "secret", sign))
}
