package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallbackStatus_String(t *testing.T) {
	tests := []struct {
		status   CallbackStatus
		expected string
	}{
		{CallbackStatusPending, "PENDING"},
		{CallbackStatusCompleted, "COMPLETED"},
		{CallbackStatusFailed, "FAILED"},
		{CallbackStatus(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestCallbackStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status     CallbackStatus
		isTerminal bool
	}{
		{CallbackStatusPending, false},
		{CallbackStatusCompleted, true},
		{CallbackStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.isTerminal, tt.status.IsTerminal())
		})
	}
}

func TestPendingCallback_TableName(t *testing.T) {
	assert.Equal(t, "chain_pending_callbacks", PendingCallback{}.TableName())
}

func TestPendingCallback_Key(t *testing.T) {
	c := &PendingCallback{
		CallbackType:   CallbackTypeWithdrawal,
		RelatedID:      "trans-1",
		TransferStatus: "1",
	}
	assert.Equal(t, "withdrawal|trans-1|1", c.Key())

	// 充值回调无子状态
	d := &PendingCallback{
		CallbackType: CallbackTypeDeposit,
		RelatedID:    "0xabc",
	}
	assert.Equal(t, "deposit|0xabc|", d.Key())
}

// 同一提现不同阶段的回调键互不冲突
func TestPendingCallback_Key_DistinctPerStage(t *testing.T) {
	accepted := &PendingCallback{CallbackType: CallbackTypeWithdrawal, RelatedID: "trans-1", TransferStatus: WithdrawalCallbackAccepted}
	completed := &PendingCallback{CallbackType: CallbackTypeWithdrawal, RelatedID: "trans-1", TransferStatus: WithdrawalCallbackCompleted}
	assert.NotEqual(t, accepted.Key(), completed.Key())
}
