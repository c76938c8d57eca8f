package model

import "github.com/shopspring/decimal"

// TransferConfirmedEvent 充值确认事件 (Kafka)
type TransferConfirmedEvent struct {
	TxHash            string          `json:"tx_hash"`
	BlockNumber       uint64          `json:"block_number"`
	FromAddress       string          `json:"from_address"`
	ToAddress         string          `json:"to_address"`
	Amount            decimal.Decimal `json:"amount"`
	UserID            string          `json:"user_id"`
	ConfirmationCount uint64          `json:"confirmation_count"`
	ConfirmedAt       int64           `json:"confirmed_at"`
}

// WithdrawalStatusEvent 提现状态变更事件 (Kafka)
type WithdrawalStatusEvent struct {
	WithdrawalID string          `json:"withdrawal_id"`
	TransID      string          `json:"trans_id"`
	UserID       string          `json:"user_id"`
	ToAddress    string          `json:"to_address"`
	Amount       decimal.Decimal `json:"amount"`
	TxHash       string          `json:"tx_hash"`
	Status       string          `json:"status"`
	ChangedAt    int64           `json:"changed_at"`
}
