package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/paywatch/chain-notify/internal/model"
)

var (
	// ErrCursorNotFound 游标不存在
	ErrCursorNotFound = errors.New("scan cursor not found")
	// ErrCursorMovedBackward 游标回退被拒绝
	ErrCursorMovedBackward = errors.New("scan cursor cannot move backward")
)

// CursorRepository 扫描游标仓储接口
type CursorRepository interface {
	Get(ctx context.Context) (*model.ScanCursor, error)
	// EnsureExists 初始化单例行，已存在则不变
	EnsureExists(ctx context.Context, startBlock uint64) error
	// AdvanceTo 单调推进水位，目标低于当前值时返回 ErrCursorMovedBackward
	AdvanceTo(ctx context.Context, block uint64) error
	SetScanning(ctx context.Context, scanning bool) error
	TouchScanTime(ctx context.Context) error
}

// cursorRepository 扫描游标仓储实现
type cursorRepository struct {
	*Repository
}

// NewCursorRepository 创建扫描游标仓储
func NewCursorRepository(db *gorm.DB) CursorRepository {
	return &cursorRepository{Repository: NewRepository(db)}
}

func (r *cursorRepository) Get(ctx context.Context) (*model.ScanCursor, error) {
	var cursor model.ScanCursor
	err := r.DB(ctx).Where("id = ?", model.ScanCursorID).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCursorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (r *cursorRepository) EnsureExists(ctx context.Context, startBlock uint64) error {
	now := time.Now().UnixMilli()
	cursor := &model.ScanCursor{
		ID:               model.ScanCursorID,
		LastScannedBlock: startBlock,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(cursor).Error
}

func (r *cursorRepository) AdvanceTo(ctx context.Context, block uint64) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.ScanCursor{}).
		Where("id = ? AND last_scanned_block <= ?", model.ScanCursorID, block).
		Updates(map[string]interface{}{
			"last_scanned_block": block,
			"last_scan_at":       now,
			"updated_at":         now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 单例行缺失或目标低于当前水位
		var count int64
		if err := r.DB(ctx).Model(&model.ScanCursor{}).
			Where("id = ?", model.ScanCursorID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrCursorNotFound
		}
		return ErrCursorMovedBackward
	}
	return nil
}

func (r *cursorRepository) SetScanning(ctx context.Context, scanning bool) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.ScanCursor{}).
		Where("id = ?", model.ScanCursorID).
		Updates(map[string]interface{}{
			"is_scanning": scanning,
			"updated_at":  now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCursorNotFound
	}
	return nil
}

func (r *cursorRepository) TouchScanTime(ctx context.Context) error {
	now := time.Now().UnixMilli()
	return r.DB(ctx).Model(&model.ScanCursor{}).
		Where("id = ?", model.ScanCursorID).
		Updates(map[string]interface{}{
			"last_scan_at": now,
			"updated_at":   now,
		}).Error
}
