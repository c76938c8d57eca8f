package model

import "github.com/shopspring/decimal"

// AddressSource 地址来源
type AddressSource string

const (
	AddressSourceSubscription AddressSource = "subscription" // 外部订阅地址
	AddressSourceWallet       AddressSource = "wallet"       // 托管钱包地址
)

// TrackedAddress 被跟踪地址 (订阅地址或托管钱包)
//
// 托管钱包行额外携带入账余额与签名材料；私钥内容对本服务不透明，
// 加密存取由外部钱包系统负责。
type TrackedAddress struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Address        string          `gorm:"column:address;type:varchar(42);uniqueIndex;not null" json:"address"` // 小写 hex
	UserID         string          `gorm:"column:user_id;type:varchar(64);index;not null" json:"user_id"`
	Source         AddressSource   `gorm:"column:source;type:varchar(20);not null" json:"source"`
	Balance        decimal.Decimal `gorm:"column:balance;type:decimal(65,0);not null;default:0" json:"balance"`
	PrivateKey     string          `gorm:"column:private_key;type:varchar(256)" json:"-"`
	CollectEnabled bool            `gorm:"column:collect_enabled;type:boolean;not null;default:true" json:"collect_enabled"`
	CreatedAt      int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt      int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (TrackedAddress) TableName() string {
	return "chain_tracked_addresses"
}

// IsWallet 判断是否为托管钱包地址
func (a *TrackedAddress) IsWallet() bool {
	return a.Source == AddressSourceWallet
}
