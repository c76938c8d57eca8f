package model

import "github.com/shopspring/decimal"

// CollectionStatus 归集状态
type CollectionStatus int8

const (
	CollectionStatusPending    CollectionStatus = 0 // 待处理
	CollectionStatusProcessing CollectionStatus = 1 // 处理中 (含 gas 补充子步骤)
	CollectionStatusCompleted  CollectionStatus = 2 // 已完成
	CollectionStatusFailed     CollectionStatus = 3 // 失败
)

func (s CollectionStatus) String() string {
	switch s {
	case CollectionStatusPending:
		return "PENDING"
	case CollectionStatusProcessing:
		return "PROCESSING"
	case CollectionStatusCompleted:
		return "COMPLETED"
	case CollectionStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s CollectionStatus) IsTerminal() bool {
	return s == CollectionStatusCompleted || s == CollectionStatusFailed
}

// CollectionRecord 资金归集记录
type CollectionRecord struct {
	ID           int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	CollectionID string           `gorm:"column:collection_id;type:varchar(64);uniqueIndex;not null" json:"collection_id"`
	FromAddress  string           `gorm:"column:from_address;type:varchar(42);index:idx_collections_addr_status;not null" json:"from_address"`
	ToAddress    string           `gorm:"column:to_address;type:varchar(42);not null" json:"to_address"`
	Amount       decimal.Decimal  `gorm:"column:amount;type:decimal(65,0);not null" json:"amount"`
	GasTxHash    string           `gorm:"column:gas_tx_hash;type:varchar(66)" json:"gas_tx_hash"`
	TxHash       string           `gorm:"column:tx_hash;type:varchar(66)" json:"tx_hash"`
	Status       CollectionStatus `gorm:"column:status;type:smallint;index:idx_collections_addr_status;index:idx_collections_status_created;not null;default:0" json:"status"`
	ErrorMessage string           `gorm:"column:error_message;type:varchar(500)" json:"error_message"`
	RetryCount   int              `gorm:"column:retry_count;type:int;not null;default:0" json:"retry_count"`
	CreatedAt    int64            `gorm:"column:created_at;type:bigint;index:idx_collections_status_created;not null" json:"created_at"`
	UpdatedAt    int64            `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (CollectionRecord) TableName() string {
	return "chain_collections"
}
