package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithdrawalStatus_String(t *testing.T) {
	tests := []struct {
		status   WithdrawalStatus
		expected string
	}{
		{WithdrawalStatusPending, "PENDING"},
		{WithdrawalStatusProcessing, "PROCESSING"},
		{WithdrawalStatusCompleted, "COMPLETED"},
		{WithdrawalStatusFailed, "FAILED"},
		{WithdrawalStatus(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestWithdrawalStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status     WithdrawalStatus
		isTerminal bool
	}{
		{WithdrawalStatusPending, false},
		{WithdrawalStatusProcessing, false},
		{WithdrawalStatusCompleted, true},
		{WithdrawalStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.isTerminal, tt.status.IsTerminal())
		})
	}
}

func TestCallbackStatusOf(t *testing.T) {
	assert.Equal(t, WithdrawalCallbackAccepted, CallbackStatusOf(WithdrawalStatusPending))
	assert.Equal(t, WithdrawalCallbackAccepted, CallbackStatusOf(WithdrawalStatusProcessing))
	assert.Equal(t, WithdrawalCallbackCompleted, CallbackStatusOf(WithdrawalStatusCompleted))
	assert.Equal(t, WithdrawalCallbackFailed, CallbackStatusOf(WithdrawalStatusFailed))
	assert.Equal(t, "", CallbackStatusOf(WithdrawalStatus(99)))
}

func TestWithdrawalRecord_TableName(t *testing.T) {
	assert.Equal(t, "chain_withdrawals", WithdrawalRecord{}.TableName())
}

// 外部 transId 优先于内部 withdrawalId
func TestWithdrawalRecord_CorrelationID(t *testing.T) {
	w := &WithdrawalRecord{WithdrawalID: "wd-1", TransID: "trans-1"}
	assert.Equal(t, "trans-1", w.CorrelationID())

	w.TransID = ""
	assert.Equal(t, "wd-1", w.CorrelationID())
}
