package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/paywatch/chain-notify/internal/model"
)

// ErrCollectionNotFound 归集记录不存在
var ErrCollectionNotFound = errors.New("collection not found")

// CollectionRepository 归集记录仓储接口
type CollectionRepository interface {
	Create(ctx context.Context, record *model.CollectionRecord) error
	GetByCollectionID(ctx context.Context, collectionID string) (*model.CollectionRecord, error)

	UpdateStatus(ctx context.Context, collectionID string, expect, next model.CollectionStatus) error
	SetGasTxHash(ctx context.Context, collectionID string, gasTxHash string) error
	SetTxHash(ctx context.Context, collectionID string, txHash string) error
	MarkFailed(ctx context.Context, collectionID string, errorMessage string) error

	// HasActiveForAddress 判断地址是否有未完结的归集 (避免重复归集)
	HasActiveForAddress(ctx context.Context, address string) (bool, error)
	ListStalePending(ctx context.Context, before int64, limit int) ([]*model.CollectionRecord, error)
}

// collectionRepository 归集记录仓储实现
type collectionRepository struct {
	*Repository
}

// NewCollectionRepository 创建归集记录仓储
func NewCollectionRepository(db *gorm.DB) CollectionRepository {
	return &collectionRepository{Repository: NewRepository(db)}
}

func (r *collectionRepository) Create(ctx context.Context, record *model.CollectionRecord) error {
	now := time.Now().UnixMilli()
	record.CreatedAt = now
	record.UpdatedAt = now
	return r.DB(ctx).Create(record).Error
}

func (r *collectionRepository) GetByCollectionID(ctx context.Context, collectionID string) (*model.CollectionRecord, error) {
	var record model.CollectionRecord
	err := r.DB(ctx).Where("collection_id = ?", collectionID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCollectionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *collectionRepository) UpdateStatus(ctx context.Context, collectionID string, expect, next model.CollectionStatus) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.CollectionRecord{}).
		Where("collection_id = ? AND status = ?", collectionID, expect).
		Updates(map[string]interface{}{
			"status":     next,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

func (r *collectionRepository) SetGasTxHash(ctx context.Context, collectionID string, gasTxHash string) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.CollectionRecord{}).
		Where("collection_id = ?", collectionID).
		Updates(map[string]interface{}{
			"gas_tx_hash": gasTxHash,
			"updated_at":  now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

func (r *collectionRepository) SetTxHash(ctx context.Context, collectionID string, txHash string) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.CollectionRecord{}).
		Where("collection_id = ?", collectionID).
		Updates(map[string]interface{}{
			"tx_hash":    txHash,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

func (r *collectionRepository) MarkFailed(ctx context.Context, collectionID string, errorMessage string) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.CollectionRecord{}).
		Where("collection_id = ?", collectionID).
		Updates(map[string]interface{}{
			"status":        model.CollectionStatusFailed,
			"error_message": errorMessage,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"updated_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

func (r *collectionRepository) HasActiveForAddress(ctx context.Context, address string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.CollectionRecord{}).
		Where("from_address = ? AND status IN ?", address,
			[]model.CollectionStatus{model.CollectionStatusPending, model.CollectionStatusProcessing}).
		Count(&count).Error
	return count > 0, err
}

func (r *collectionRepository) ListStalePending(ctx context.Context, before int64, limit int) ([]*model.CollectionRecord, error) {
	var records []*model.CollectionRecord
	err := r.DB(ctx).
		Where("status = ? AND created_at < ?", model.CollectionStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
