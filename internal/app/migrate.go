package app

import (
	"gorm.io/gorm"

	"github.com/paywatch/chain-notify/internal/model"
)

// AutoMigrate 迁移全部业务表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.ScanCursor{},
		&model.Transfer{},
		&model.TrackedAddress{},
		&model.WithdrawalRecord{},
		&model.CollectionRecord{},
		&model.PendingCallback{},
	)
}
