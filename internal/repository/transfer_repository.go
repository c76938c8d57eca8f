package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/paywatch/chain-notify/internal/model"
)

var (
	// ErrTransferNotFound 转账记录不存在
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrDuplicateTransfer 重复转账记录
	ErrDuplicateTransfer = errors.New("duplicate transfer")
)

// TransferRepository 转账记录仓储接口
type TransferRepository interface {
	// Create 创建记录；tx_hash 已存在返回 ErrDuplicateTransfer
	Create(ctx context.Context, record *model.Transfer) error
	GetByTxHash(ctx context.Context, txHash string) (*model.Transfer, error)
	ExistsByTxHash(ctx context.Context, txHash string) (bool, error)

	// 确认推进
	ListPendingConfirmation(ctx context.Context, limit int) ([]*model.Transfer, error)
	UpdateConfirmation(ctx context.Context, txHash string, count uint64, status model.TransferStatus) error

	// 回调投递
	ListConfirmedUnnotified(ctx context.Context, limit int) ([]*model.Transfer, error)
	MarkWebhookSent(ctx context.Context, txHash string) error

	// 余额入账副作用
	ListUncredited(ctx context.Context, limit int) ([]*model.Transfer, error)
	MarkCredited(ctx context.Context, txHash string) error

	ListByToAddress(ctx context.Context, address string, page *Pagination) ([]*model.Transfer, error)

	// DeleteNotifiedBefore 留存清理：仅删除已通知且早于截止时间的记录
	DeleteNotifiedBefore(ctx context.Context, cutoff int64) (int64, error)
}

// transferRepository 转账记录仓储实现
type transferRepository struct {
	*Repository
}

// NewTransferRepository 创建转账记录仓储
func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{Repository: NewRepository(db)}
}

func (r *transferRepository) Create(ctx context.Context, record *model.Transfer) error {
	now := time.Now().UnixMilli()
	record.CreatedAt = now
	record.UpdatedAt = now

	err := r.DB(ctx).Create(record).Error
	if err != nil && isDuplicateKeyError(err) {
		return ErrDuplicateTransfer
	}
	return err
}

func (r *transferRepository) GetByTxHash(ctx context.Context, txHash string) (*model.Transfer, error) {
	var record model.Transfer
	err := r.DB(ctx).Where("tx_hash = ?", txHash).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *transferRepository) ExistsByTxHash(ctx context.Context, txHash string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Transfer{}).
		Where("tx_hash = ?", txHash).
		Count(&count).Error
	return count > 0, err
}

func (r *transferRepository) ListPendingConfirmation(ctx context.Context, limit int) ([]*model.Transfer, error) {
	var records []*model.Transfer
	err := r.DB(ctx).
		Where("status = ?", model.TransferStatusPending).
		Order("block_number ASC, log_index ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *transferRepository) UpdateConfirmation(ctx context.Context, txHash string, count uint64, status model.TransferStatus) error {
	now := time.Now().UnixMilli()
	// 只允许在 pending 状态上推进，已确认的记录不会回退
	result := r.DB(ctx).Model(&model.Transfer{}).
		Where("tx_hash = ? AND status = ? AND confirmation_count <= ?",
			txHash, model.TransferStatusPending, count).
		Updates(map[string]interface{}{
			"confirmation_count": count,
			"status":             status,
			"updated_at":         now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransferNotFound
	}
	return nil
}

func (r *transferRepository) ListConfirmedUnnotified(ctx context.Context, limit int) ([]*model.Transfer, error) {
	var records []*model.Transfer
	err := r.DB(ctx).
		Where("status = ? AND webhook_sent = ?", model.TransferStatusConfirmed, false).
		Order("block_number ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *transferRepository) MarkWebhookSent(ctx context.Context, txHash string) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.Transfer{}).
		Where("tx_hash = ?", txHash).
		Updates(map[string]interface{}{
			"webhook_sent":    true,
			"webhook_sent_at": now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransferNotFound
	}
	return nil
}

func (r *transferRepository) ListUncredited(ctx context.Context, limit int) ([]*model.Transfer, error) {
	var records []*model.Transfer
	err := r.DB(ctx).
		Where("credited = ?", false).
		Order("block_number ASC, log_index ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *transferRepository) MarkCredited(ctx context.Context, txHash string) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.Transfer{}).
		Where("tx_hash = ? AND credited = ?", txHash, false).
		Updates(map[string]interface{}{
			"credited":   true,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransferNotFound
	}
	return nil
}

func (r *transferRepository) ListByToAddress(ctx context.Context, address string, page *Pagination) ([]*model.Transfer, error) {
	var records []*model.Transfer

	query := r.DB(ctx).Model(&model.Transfer{}).Where("to_address = ?", address)

	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Order("block_number DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&records).Error
	return records, err
}

func (r *transferRepository) DeleteNotifiedBefore(ctx context.Context, cutoff int64) (int64, error) {
	result := r.DB(ctx).
		Where("webhook_sent = ? AND created_at < ?", true, cutoff).
		Delete(&model.Transfer{})
	return result.RowsAffected, result.Error
}
