package model

// ScanCursorID 扫描游标单例行 ID
const ScanCursorID int64 = 1

// ScanCursor 扫描游标 (单行，记录最后扫描区块水位)
type ScanCursor struct {
	ID               int64  `gorm:"primaryKey" json:"id"`
	LastScannedBlock uint64 `gorm:"column:last_scanned_block;type:bigint;not null;default:0" json:"last_scanned_block"`
	LastScanAt       int64  `gorm:"column:last_scan_at;type:bigint;not null;default:0" json:"last_scan_at"`
	IsScanning       bool   `gorm:"column:is_scanning;type:boolean;not null;default:false" json:"is_scanning"`
	CreatedAt        int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt        int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (ScanCursor) TableName() string {
	return "chain_scan_cursors"
}
