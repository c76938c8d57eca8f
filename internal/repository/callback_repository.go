package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/paywatch/chain-notify/internal/model"
)

// ErrCallbackNotFound 回调记录不存在
var ErrCallbackNotFound = errors.New("pending callback not found")

// CallbackRepository 待补发回调仓储接口
type CallbackRepository interface {
	// Enqueue 入队；同键已有 PENDING 行时不重复入队
	Enqueue(ctx context.Context, cb *model.PendingCallback) error
	GetByID(ctx context.Context, id int64) (*model.PendingCallback, error)

	// ListDue 捞取到期且未达重试上限的待补发行，按 next_retry_at 升序
	ListDue(ctx context.Context, now int64, limit int) ([]*model.PendingCallback, error)

	// CompleteGroup 按键完成同组所有 PENDING 行 (兄弟行一并完成)
	CompleteGroup(ctx context.Context, callbackType model.CallbackType, relatedID, transferStatus string) (int64, error)
	// ScheduleRetry 失败后重排下一次补发
	ScheduleRetry(ctx context.Context, id int64, nextRetryAt int64, lastError string) error
	// MarkFailed 达到重试上限，置为终态
	MarkFailed(ctx context.Context, id int64, lastError string) error

	CountPending(ctx context.Context) (int64, error)
	// DeleteTerminalBefore 留存清理：仅删除终态且早于截止时间的行
	DeleteTerminalBefore(ctx context.Context, cutoff int64) (int64, error)
}

// callbackRepository 待补发回调仓储实现
type callbackRepository struct {
	*Repository
}

// NewCallbackRepository 创建待补发回调仓储
func NewCallbackRepository(db *gorm.DB) CallbackRepository {
	return &callbackRepository{Repository: NewRepository(db)}
}

func (r *callbackRepository) Enqueue(ctx context.Context, cb *model.PendingCallback) error {
	return r.Transaction(ctx, func(txCtx context.Context) error {
		var count int64
		err := r.DB(txCtx).Model(&model.PendingCallback{}).
			Where("callback_type = ? AND related_id = ? AND transfer_status = ? AND status = ?",
				cb.CallbackType, cb.RelatedID, cb.TransferStatus, model.CallbackStatusPending).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			// 同键待补发行已存在，保持队列去重
			return nil
		}

		now := time.Now().UnixMilli()
		cb.Status = model.CallbackStatusPending
		cb.RetryCount = 0
		if cb.MaxRetries == 0 {
			cb.MaxRetries = model.DefaultCallbackMaxRetries
		}
		if cb.NextRetryAt == 0 {
			cb.NextRetryAt = now + model.CallbackRetryInterval.Milliseconds()
		}
		cb.CreatedAt = now
		cb.UpdatedAt = now
		return r.DB(txCtx).Create(cb).Error
	})
}

func (r *callbackRepository) GetByID(ctx context.Context, id int64) (*model.PendingCallback, error) {
	var cb model.PendingCallback
	err := r.DB(ctx).Where("id = ?", id).First(&cb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCallbackNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cb, nil
}

func (r *callbackRepository) ListDue(ctx context.Context, now int64, limit int) ([]*model.PendingCallback, error) {
	var records []*model.PendingCallback
	err := r.DB(ctx).
		Where("status = ? AND next_retry_at <= ? AND retry_count < max_retries",
			model.CallbackStatusPending, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *callbackRepository) CompleteGroup(ctx context.Context, callbackType model.CallbackType, relatedID, transferStatus string) (int64, error) {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.PendingCallback{}).
		Where("callback_type = ? AND related_id = ? AND transfer_status = ? AND status = ?",
			callbackType, relatedID, transferStatus, model.CallbackStatusPending).
		Updates(map[string]interface{}{
			"status":     model.CallbackStatusCompleted,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

func (r *callbackRepository) ScheduleRetry(ctx context.Context, id int64, nextRetryAt int64, lastError string) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.PendingCallback{}).
		Where("id = ? AND status = ?", id, model.CallbackStatusPending).
		Updates(map[string]interface{}{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"next_retry_at": nextRetryAt,
			"last_error":    lastError,
			"updated_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCallbackNotFound
	}
	return nil
}

func (r *callbackRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.PendingCallback{}).
		Where("id = ? AND status = ?", id, model.CallbackStatusPending).
		Updates(map[string]interface{}{
			"status":     model.CallbackStatusFailed,
			"last_error": lastError,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCallbackNotFound
	}
	return nil
}

func (r *callbackRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.PendingCallback{}).
		Where("status = ?", model.CallbackStatusPending).
		Count(&count).Error
	return count, err
}

func (r *callbackRepository) DeleteTerminalBefore(ctx context.Context, cutoff int64) (int64, error) {
	result := r.DB(ctx).
		Where("status IN ? AND created_at < ?",
			[]model.CallbackStatus{model.CallbackStatusCompleted, model.CallbackStatusFailed}, cutoff).
		Delete(&model.PendingCallback{})
	return result.RowsAffected, result.Error
}
