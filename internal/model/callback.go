package model

import "time"

const (
	// DefaultCallbackMaxRetries 队列内补发次数上限
	DefaultCallbackMaxRetries = 20
	// CallbackRetryInterval 补发间隔
	CallbackRetryInterval = 30 * time.Second
	// CallbackRetention 终态回调的留存时长
	CallbackRetention = 7 * 24 * time.Hour
)

// CallbackType 回调类型
type CallbackType string

const (
	CallbackTypeWithdrawal CallbackType = "withdrawal"
	CallbackTypeDeposit    CallbackType = "deposit"
)

// CallbackStatus 回调队列状态
type CallbackStatus int8

const (
	CallbackStatusPending   CallbackStatus = 0 // 待投递
	CallbackStatusCompleted CallbackStatus = 1 // 已投递
	CallbackStatusFailed    CallbackStatus = 2 // 终态失败
)

func (s CallbackStatus) String() string {
	switch s {
	case CallbackStatusPending:
		return "PENDING"
	case CallbackStatusCompleted:
		return "COMPLETED"
	case CallbackStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s CallbackStatus) IsTerminal() bool {
	return s == CallbackStatusCompleted || s == CallbackStatusFailed
}

// PendingCallback 待投递回调 (持久化重试队列)
//
// 逻辑键为 (callback_type, related_id, transfer_status)；并发入队可能产生
// 多行，投递成功时同键兄弟行一并完结。
type PendingCallback struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CallbackType   CallbackType   `gorm:"column:callback_type;type:varchar(20);index:idx_callbacks_key;not null" json:"callback_type"`
	RelatedID      string         `gorm:"column:related_id;type:varchar(66);index:idx_callbacks_key;not null" json:"related_id"`
	TransferStatus string         `gorm:"column:transfer_status;type:varchar(20);index:idx_callbacks_key" json:"transfer_status"`
	Payload        string         `gorm:"column:payload;type:jsonb;not null" json:"payload"` // 已签名 JSON
	URL            string         `gorm:"column:url;type:varchar(500);not null" json:"url"`
	RetryCount     int            `gorm:"column:retry_count;type:int;not null;default:0" json:"retry_count"`
	MaxRetries     int            `gorm:"column:max_retries;type:int;not null;default:20" json:"max_retries"`
	NextRetryAt    int64          `gorm:"column:next_retry_at;type:bigint;index:idx_callbacks_due;not null" json:"next_retry_at"`
	Status         CallbackStatus `gorm:"column:status;type:smallint;index:idx_callbacks_due;not null;default:0" json:"status"`
	LastError      string         `gorm:"column:last_error;type:varchar(500)" json:"last_error"`
	CreatedAt      int64          `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt      int64          `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (PendingCallback) TableName() string {
	return "chain_pending_callbacks"
}

// Key 返回逻辑去重键
func (c *PendingCallback) Key() string {
	return string(c.CallbackType) + "|" + c.RelatedID + "|" + c.TransferStatus
}
