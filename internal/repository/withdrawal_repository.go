package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/paywatch/chain-notify/internal/model"
)

var (
	// ErrWithdrawalNotFound 提现记录不存在
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	// ErrDuplicateWithdrawal 提现记录已存在
	ErrDuplicateWithdrawal = errors.New("duplicate withdrawal")
)

// WithdrawalRepository 提现记录仓储接口
type WithdrawalRepository interface {
	Create(ctx context.Context, record *model.WithdrawalRecord) error
	GetByWithdrawalID(ctx context.Context, withdrawalID string) (*model.WithdrawalRecord, error)
	GetByTransID(ctx context.Context, transID string) (*model.WithdrawalRecord, error)

	// UpdateStatus 状态迁移；expect 不匹配当前状态时不更新并返回 ErrWithdrawalNotFound
	UpdateStatus(ctx context.Context, withdrawalID string, expect, next model.WithdrawalStatus, txHash string) error
	// MarkFailed 标记失败并累加重试计数
	MarkFailed(ctx context.Context, withdrawalID string, errorMessage string) error

	// ListStalePending 捞取遗留的待处理记录 (崩溃恢复)
	ListStalePending(ctx context.Context, before int64, limit int) ([]*model.WithdrawalRecord, error)
	ListByUser(ctx context.Context, userID string, page *Pagination) ([]*model.WithdrawalRecord, error)
}

// withdrawalRepository 提现记录仓储实现
type withdrawalRepository struct {
	*Repository
}

// NewWithdrawalRepository 创建提现记录仓储
func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepository{Repository: NewRepository(db)}
}

func (r *withdrawalRepository) Create(ctx context.Context, record *model.WithdrawalRecord) error {
	now := time.Now().UnixMilli()
	record.CreatedAt = now
	record.UpdatedAt = now

	err := r.DB(ctx).Create(record).Error
	if err != nil && isDuplicateKeyError(err) {
		return ErrDuplicateWithdrawal
	}
	return err
}

func (r *withdrawalRepository) GetByWithdrawalID(ctx context.Context, withdrawalID string) (*model.WithdrawalRecord, error) {
	var record model.WithdrawalRecord
	err := r.DB(ctx).Where("withdrawal_id = ?", withdrawalID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *withdrawalRepository) GetByTransID(ctx context.Context, transID string) (*model.WithdrawalRecord, error) {
	var record model.WithdrawalRecord
	err := r.DB(ctx).Where("trans_id = ?", transID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *withdrawalRepository) UpdateStatus(ctx context.Context, withdrawalID string, expect, next model.WithdrawalStatus, txHash string) error {
	now := time.Now().UnixMilli()
	updates := map[string]interface{}{
		"status":     next,
		"updated_at": now,
	}
	if txHash != "" {
		updates["tx_hash"] = txHash
	}

	result := r.DB(ctx).Model(&model.WithdrawalRecord{}).
		Where("withdrawal_id = ? AND status = ?", withdrawalID, expect).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}

func (r *withdrawalRepository) MarkFailed(ctx context.Context, withdrawalID string, errorMessage string) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.WithdrawalRecord{}).
		Where("withdrawal_id = ?", withdrawalID).
		Updates(map[string]interface{}{
			"status":        model.WithdrawalStatusFailed,
			"error_message": errorMessage,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"updated_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}

func (r *withdrawalRepository) ListStalePending(ctx context.Context, before int64, limit int) ([]*model.WithdrawalRecord, error) {
	var records []*model.WithdrawalRecord
	err := r.DB(ctx).
		Where("status = ? AND created_at < ?", model.WithdrawalStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *withdrawalRepository) ListByUser(ctx context.Context, userID string, page *Pagination) ([]*model.WithdrawalRecord, error) {
	var records []*model.WithdrawalRecord

	query := r.DB(ctx).Model(&model.WithdrawalRecord{}).Where("user_id = ?", userID)

	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&records).Error
	return records, err
}
