package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectionStatus_String(t *testing.T) {
	tests := []struct {
		status   CollectionStatus
		expected string
	}{
		{CollectionStatusPending, "PENDING"},
		{CollectionStatusProcessing, "PROCESSING"},
		{CollectionStatusCompleted, "COMPLETED"},
		{CollectionStatusFailed, "FAILED"},
		{CollectionStatus(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestCollectionStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status     CollectionStatus
		isTerminal bool
	}{
		{CollectionStatusPending, false},
		{CollectionStatusProcessing, false},
		{CollectionStatusCompleted, true},
		{CollectionStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.isTerminal, tt.status.IsTerminal())
		})
	}
}

func TestCollectionRecord_TableName(t *testing.T) {
	assert.Equal(t, "chain_collections", CollectionRecord{}.TableName())
}

func TestTrackedAddress_TableName(t *testing.T) {
	assert.Equal(t, "chain_tracked_addresses", TrackedAddress{}.TableName())
}

func TestTrackedAddress_IsWallet(t *testing.T) {
	wallet := &TrackedAddress{Source: AddressSourceWallet}
	assert.True(t, wallet.IsWallet())

	sub := &TrackedAddress{Source: AddressSourceSubscription}
	assert.False(t, sub.IsWallet())
}
