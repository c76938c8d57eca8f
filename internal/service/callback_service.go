package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paywatch/chain-notify/internal/metrics"
	"github.com/paywatch/chain-notify/internal/model"
	"github.com/paywatch/chain-notify/internal/repository"
	"github.com/paywatch/chain-notify/internal/webhook"
	"github.com/paywatch/chain-notify/pkg/logger"
)

const (
	callbackSweepInterval = 30 * time.Second
	callbackSweepBatch    = 50
	callbackRowDelay      = 500 * time.Millisecond
	retentionInterval     = time.Hour
)

// CallbackService 回调投递服务
//
// 快速路径 3 次重试后仍失败的回调转入持久化队列，由 30s 扫描器补发，
// 保证至少一次投递。终态行按留存期清理。
type CallbackService struct {
	callbackRepo repository.CallbackRepository
	transferRepo repository.TransferRepository
	client       *webhook.Client

	retention time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCallbackService 创建回调投递服务
func NewCallbackService(
	callbackRepo repository.CallbackRepository,
	transferRepo repository.TransferRepository,
	client *webhook.Client,
	retention time.Duration,
) *CallbackService {
	if retention == 0 {
		retention = model.CallbackRetention
	}
	return &CallbackService{
		callbackRepo: callbackRepo,
		transferRepo: transferRepo,
		client:       client,
		retention:    retention,
	}
}

// Start 启动补发扫描与留存清理
func (s *CallbackService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.sweepLoop(runCtx)
	go s.retentionLoop(runCtx)

	logger.Info("callback service started")
}

// Stop 停止后台循环，在途投递自然完成
func (s *CallbackService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("callback service stopped")
}

// DeliverOrEnqueue 投递回调；快速重试耗尽后入持久化队列
// 返回是否即时投递成功
func (s *CallbackService) DeliverOrEnqueue(ctx context.Context, callbackType model.CallbackType, relatedID, transferStatus, url, payload string) (bool, error) {
	start := time.Now()
	err := s.client.Deliver(ctx, url, payload)
	if err == nil {
		metrics.RecordWebhookDelivery(string(callbackType), "success", time.Since(start).Seconds())
		return true, nil
	}

	logger.Warn("fast delivery exhausted, enqueueing callback",
		zap.String("type", string(callbackType)),
		zap.String("related_id", relatedID),
		zap.Error(err))

	if err := s.Enqueue(ctx, callbackType, relatedID, transferStatus, url, payload); err != nil {
		return false, err
	}
	metrics.RecordWebhookDelivery(string(callbackType), "enqueued", 0)
	return false, nil
}

// Enqueue 写入持久化补发队列，同键 PENDING 行存在时去重
func (s *CallbackService) Enqueue(ctx context.Context, callbackType model.CallbackType, relatedID, transferStatus, url, payload string) error {
	return s.callbackRepo.Enqueue(ctx, &model.PendingCallback{
		CallbackType:   callbackType,
		RelatedID:      relatedID,
		TransferStatus: transferStatus,
		Payload:        payload,
		URL:            url,
	})
}

func (s *CallbackService) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(callbackSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				logger.Error("callback sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce 执行一轮补发
//
// 到期行按逻辑键分组，同键只投递最早的一行；成功完结整组，失败只
// 重排被尝试的那一行。行间 500ms 间隔避免打爆下游。
func (s *CallbackService) SweepOnce(ctx context.Context) error {
	now := time.Now().UnixMilli()
	due, err := s.callbackRepo.ListDue(ctx, now, callbackSweepBatch)
	if err != nil {
		return err
	}

	// 同键保留最早创建的行
	groups := make(map[string]*model.PendingCallback)
	for _, cb := range due {
		key := cb.Key()
		if cur, ok := groups[key]; !ok || cb.CreatedAt < cur.CreatedAt {
			groups[key] = cb
		}
	}

	first := true
	for _, cb := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !first {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(callbackRowDelay):
			}
		}
		first = false

		s.redeliver(ctx, cb)
	}

	if count, err := s.callbackRepo.CountPending(ctx); err == nil {
		metrics.UpdatePendingCallbacks(count)
	}
	return nil
}

func (s *CallbackService) redeliver(ctx context.Context, cb *model.PendingCallback) {
	start := time.Now()
	err := s.client.DeliverOnce(ctx, cb.URL, cb.Payload)
	if err == nil {
		completed, cerr := s.callbackRepo.CompleteGroup(ctx, cb.CallbackType, cb.RelatedID, cb.TransferStatus)
		if cerr != nil {
			logger.Error("failed to complete callback group",
				zap.Int64("id", cb.ID), zap.Error(cerr))
			return
		}
		metrics.RecordWebhookDelivery(string(cb.CallbackType), "success", time.Since(start).Seconds())
		logger.Info("queued callback delivered",
			zap.Int64("id", cb.ID),
			zap.String("type", string(cb.CallbackType)),
			zap.String("related_id", cb.RelatedID),
			zap.Int64("siblings_completed", completed))
		return
	}

	// 重试上限内重排，达到上限置为终态失败
	if cb.RetryCount+1 >= cb.MaxRetries {
		if ferr := s.callbackRepo.MarkFailed(ctx, cb.ID, err.Error()); ferr != nil {
			logger.Error("failed to mark callback failed", zap.Int64("id", cb.ID), zap.Error(ferr))
			return
		}
		metrics.RecordWebhookDelivery(string(cb.CallbackType), "exhausted", 0)
		logger.Error("callback retries exhausted",
			zap.Int64("id", cb.ID),
			zap.String("type", string(cb.CallbackType)),
			zap.String("related_id", cb.RelatedID),
			zap.Int("retry_count", cb.RetryCount+1),
			zap.Error(err))
		return
	}

	nextRetryAt := time.Now().Add(model.CallbackRetryInterval).UnixMilli()
	if rerr := s.callbackRepo.ScheduleRetry(ctx, cb.ID, nextRetryAt, err.Error()); rerr != nil {
		logger.Error("failed to schedule callback retry", zap.Int64("id", cb.ID), zap.Error(rerr))
		return
	}
	metrics.RecordWebhookDelivery(string(cb.CallbackType), "retried", 0)
}

func (s *CallbackService) retentionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeExpired(ctx)
		}
	}
}

// purgeExpired 清理过期的终态回调与已通知转账
func (s *CallbackService) purgeExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention).UnixMilli()

	deleted, err := s.callbackRepo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		logger.Error("callback retention purge failed", zap.Error(err))
	} else if deleted > 0 {
		logger.Info("purged terminal callbacks", zap.Int64("deleted", deleted))
	}

	deleted, err = s.transferRepo.DeleteNotifiedBefore(ctx, cutoff)
	if err != nil {
		logger.Error("transfer retention purge failed", zap.Error(err))
	} else if deleted > 0 {
		logger.Info("purged notified transfers", zap.Int64("deleted", deleted))
	}
}
