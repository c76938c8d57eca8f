package model

import "github.com/shopspring/decimal"

// TransferStatus 充值转账状态
type TransferStatus int8

const (
	TransferStatusPending   TransferStatus = 0 // 待确认
	TransferStatusConfirmed TransferStatus = 1 // 已确认
	TransferStatusFailed    TransferStatus = 2 // 失败
)

func (s TransferStatus) String() string {
	switch s {
	case TransferStatusPending:
		return "PENDING"
	case TransferStatusConfirmed:
		return "CONFIRMED"
	case TransferStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusConfirmed || s == TransferStatusFailed
}

// TransferEvent 链上转账事件 (瞬态，仅存在于内存)
type TransferEvent struct {
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	FromAddress string          `json:"from_address"` // 小写 hex
	ToAddress   string          `json:"to_address"`   // 小写 hex
	Amount      decimal.Decimal `json:"amount"`       // 原始整数单位
	LogIndex    uint            `json:"log_index"`
	TxIndex     uint            `json:"tx_index"`
}

// Transfer 转账记录 (每个 tx_hash 唯一)
type Transfer struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash            string          `gorm:"column:tx_hash;type:varchar(66);uniqueIndex;not null" json:"tx_hash"`
	BlockNumber       uint64          `gorm:"column:block_number;type:bigint;index:idx_transfers_block_status;not null" json:"block_number"`
	LogIndex          uint            `gorm:"column:log_index;type:int;not null" json:"log_index"`
	TxIndex           uint            `gorm:"column:tx_index;type:int;not null" json:"tx_index"`
	FromAddress       string          `gorm:"column:from_address;type:varchar(42);not null" json:"from_address"`
	ToAddress         string          `gorm:"column:to_address;type:varchar(42);index:idx_transfers_to_status;not null" json:"to_address"`
	Amount            decimal.Decimal `gorm:"column:amount;type:decimal(65,0);not null" json:"amount"`
	UserID            string          `gorm:"column:user_id;type:varchar(64);index" json:"user_id"`
	Status            TransferStatus  `gorm:"column:status;type:smallint;index:idx_transfers_block_status;index:idx_transfers_to_status;index:idx_transfers_sent_status;not null;default:0" json:"status"`
	ConfirmationCount uint64          `gorm:"column:confirmation_count;type:bigint;not null;default:0" json:"confirmation_count"`
	Credited          bool            `gorm:"column:credited;type:boolean;not null;default:false" json:"credited"`
	WebhookSent       bool            `gorm:"column:webhook_sent;type:boolean;index:idx_transfers_sent_status;not null;default:false" json:"webhook_sent"`
	WebhookSentAt     int64           `gorm:"column:webhook_sent_at;type:bigint" json:"webhook_sent_at"`
	CreatedAt         int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt         int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Transfer) TableName() string {
	return "chain_transfers"
}
