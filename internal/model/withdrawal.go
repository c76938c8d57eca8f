package model

import "github.com/shopspring/decimal"

// WithdrawalStatus 提现状态
type WithdrawalStatus int8

const (
	WithdrawalStatusPending    WithdrawalStatus = 0 // 待处理
	WithdrawalStatusProcessing WithdrawalStatus = 1 // 处理中
	WithdrawalStatusCompleted  WithdrawalStatus = 2 // 已完成
	WithdrawalStatusFailed     WithdrawalStatus = 3 // 失败
)

func (s WithdrawalStatus) String() string {
	switch s {
	case WithdrawalStatusPending:
		return "PENDING"
	case WithdrawalStatusProcessing:
		return "PROCESSING"
	case WithdrawalStatusCompleted:
		return "COMPLETED"
	case WithdrawalStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalStatusCompleted || s == WithdrawalStatusFailed
}

// 提现回调 transferStatus 状态码
const (
	WithdrawalCallbackAccepted  = "0" // 申请成功
	WithdrawalCallbackCompleted = "1" // 成功
	WithdrawalCallbackFailed    = "2" // 失败
)

// CallbackStatusOf 返回提现状态对应的回调状态码
// 受理回调在记录仍为 pending 时发出，pending 与 processing 共用受理码
func CallbackStatusOf(s WithdrawalStatus) string {
	switch s {
	case WithdrawalStatusPending, WithdrawalStatusProcessing:
		return WithdrawalCallbackAccepted
	case WithdrawalStatusCompleted:
		return WithdrawalCallbackCompleted
	case WithdrawalStatusFailed:
		return WithdrawalCallbackFailed
	default:
		return ""
	}
}

// WithdrawalRecord 提现记录
type WithdrawalRecord struct {
	ID           int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalID string           `gorm:"column:withdrawal_id;type:varchar(64);uniqueIndex;not null" json:"withdrawal_id"`
	TransID      string           `gorm:"column:trans_id;type:varchar(64);index" json:"trans_id"`
	UserID       string           `gorm:"column:user_id;type:varchar(64);index:idx_withdrawals_user_status" json:"user_id"`
	ToAddress    string           `gorm:"column:to_address;type:varchar(42);index:idx_withdrawals_addr_status;not null" json:"to_address"`
	Amount       decimal.Decimal  `gorm:"column:amount;type:decimal(65,0);not null" json:"amount"`
	TxHash       string           `gorm:"column:tx_hash;type:varchar(66)" json:"tx_hash"`
	Status       WithdrawalStatus `gorm:"column:status;type:smallint;index:idx_withdrawals_user_status;index:idx_withdrawals_addr_status;index:idx_withdrawals_status_created;not null;default:0" json:"status"`
	ErrorMessage string           `gorm:"column:error_message;type:varchar(500)" json:"error_message"`
	RetryCount   int              `gorm:"column:retry_count;type:int;not null;default:0" json:"retry_count"`
	CreatedAt    int64            `gorm:"column:created_at;type:bigint;index:idx_withdrawals_status_created;not null" json:"created_at"`
	UpdatedAt    int64            `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (WithdrawalRecord) TableName() string {
	return "chain_withdrawals"
}

// CorrelationID 返回外部可见的关联键 (优先外部 transId)
func (w *WithdrawalRecord) CorrelationID() string {
	if w.TransID != "" {
		return w.TransID
	}
	return w.WithdrawalID
}
