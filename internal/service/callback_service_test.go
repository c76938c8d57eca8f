package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/paywatch/chain-notify/internal/model"
	"github.com/paywatch/chain-notify/internal/repository"
	"github.com/paywatch/chain-notify/internal/webhook"
)

// mockCallbackRepository 模拟回调队列仓储
type mockCallbackRepository struct {
	mock.Mock
}

func (m *mockCallbackRepository) Enqueue(ctx context.Context, cb *model.PendingCallback) error {
	args := m.Called(ctx, cb)
	return args.Error(0)
}

func (m *mockCallbackRepository) GetByID(ctx context.Context, id int64) (*model.PendingCallback, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PendingCallback), args.Error(1)
}

func (m *mockCallbackRepository) ListDue(ctx context.Context, now int64, limit int) ([]*model.PendingCallback, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.PendingCallback), args.Error(1)
}

func (m *mockCallbackRepository) CompleteGroup(ctx context.Context, callbackType model.CallbackType, relatedID, transferStatus string) (int64, error) {
	args := m.Called(ctx, callbackType, relatedID, transferStatus)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCallbackRepository) ScheduleRetry(ctx context.Context, id int64, nextRetryAt int64, lastError string) error {
	args := m.Called(ctx, id, nextRetryAt, lastError)
	return args.Error(0)
}

func (m *mockCallbackRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	args := m.Called(ctx, id, lastError)
	return args.Error(0)
}

func (m *mockCallbackRepository) CountPending(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCallbackRepository) DeleteTerminalBefore(ctx context.Context, cutoff int64) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// mockTransferRepository 模拟转账仓储
type mockTransferRepository struct {
	mock.Mock
}

func (m *mockTransferRepository) Create(ctx context.Context, record *model.Transfer) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockTransferRepository) GetByTxHash(ctx context.Context, txHash string) (*model.Transfer, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transfer), args.Error(1)
}

func (m *mockTransferRepository) ExistsByTxHash(ctx context.Context, txHash string) (bool, error) {
	args := m.Called(ctx, txHash)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransferRepository) ListPendingConfirmation(ctx context.Context, limit int) ([]*model.Transfer, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transfer), args.Error(1)
}

func (m *mockTransferRepository) UpdateConfirmation(ctx context.Context, txHash string, count uint64, status model.TransferStatus) error {
	args := m.Called(ctx, txHash, count, status)
	return args.Error(0)
}

func (m *mockTransferRepository) ListConfirmedUnnotified(ctx context.Context, limit int) ([]*model.Transfer, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transfer), args.Error(1)
}

func (m *mockTransferRepository) MarkWebhookSent(ctx context.Context, txHash string) error {
	args := m.Called(ctx, txHash)
	return args.Error(0)
}

func (m *mockTransferRepository) ListUncredited(ctx context.Context, limit int) ([]*model.Transfer, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transfer), args.Error(1)
}

func (m *mockTransferRepository) MarkCredited(ctx context.Context, txHash string) error {
	args := m.Called(ctx, txHash)
	return args.Error(0)
}

func (m *mockTransferRepository) ListByToAddress(ctx context.Context, address string, page *repository.Pagination) ([]*model.Transfer, error) {
	args := m.Called(ctx, address, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transfer), args.Error(1)
}

func (m *mockTransferRepository) DeleteNotifiedBefore(ctx context.Context, cutoff int64) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func newTestCallbackService(callbackRepo repository.CallbackRepository, transferRepo repository.TransferRepository) *CallbackService {
	return NewCallbackService(callbackRepo, transferRepo, webhook.NewClient(2*time.Second), 0)
}

func TestCallbackService_DeliverOrEnqueue_Immediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	callbackRepo := new(mockCallbackRepository)
	svc := newTestCallbackService(callbackRepo, new(mockTransferRepository))

	delivered, err := svc.DeliverOrEnqueue(context.Background(),
		model.CallbackTypeDeposit, "0xabc", "", srv.URL, "{}")

	require.NoError(t, err)
	assert.True(t, delivered)
	callbackRepo.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

// 快速重试耗尽后转入持久化队列
func TestCallbackService_DeliverOrEnqueue_FallsBackToQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	callbackRepo := new(mockCallbackRepository)
	callbackRepo.On("Enqueue", mock.Anything, mock.MatchedBy(func(cb *model.PendingCallback) bool {
		return cb.CallbackType == model.CallbackTypeWithdrawal &&
			cb.RelatedID == "trans-1" &&
			cb.TransferStatus == "1" &&
			cb.URL == srv.URL
	})).Return(nil)

	svc := newTestCallbackService(callbackRepo, new(mockTransferRepository))

	delivered, err := svc.DeliverOrEnqueue(context.Background(),
		model.CallbackTypeWithdrawal, "trans-1", "1", srv.URL, "{}")

	require.NoError(t, err)
	assert.False(t, delivered)
	callbackRepo.AssertExpectations(t)
}

// 同键多行只投递最早的一行，成功后整组完结
func TestCallbackService_SweepOnce_GroupsByKey(t *testing.T) {
	var bodies atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodies.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	callbackRepo := new(mockCallbackRepository)
	due := []*model.PendingCallback{
		{ID: 2, CallbackType: model.CallbackTypeDeposit, RelatedID: "0xabc", URL: srv.URL, Payload: "{}", MaxRetries: 20, CreatedAt: 2000},
		{ID: 1, CallbackType: model.CallbackTypeDeposit, RelatedID: "0xabc", URL: srv.URL, Payload: "{}", MaxRetries: 20, CreatedAt: 1000},
	}
	callbackRepo.On("ListDue", mock.Anything, mock.Anything, callbackSweepBatch).Return(due, nil)
	// 最早创建的行 (ID 1) 代表整组投递
	callbackRepo.On("CompleteGroup", mock.Anything, model.CallbackTypeDeposit, "0xabc", "").
		Return(int64(2), nil).Once()
	callbackRepo.On("CountPending", mock.Anything).Return(int64(0), nil)

	svc := newTestCallbackService(callbackRepo, new(mockTransferRepository))

	require.NoError(t, svc.SweepOnce(context.Background()))
	assert.Equal(t, int32(1), bodies.Load(), "one delivery per group")
	callbackRepo.AssertExpectations(t)
}

// 失败时重排下一次补发
func TestCallbackService_SweepOnce_SchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	callbackRepo := new(mockCallbackRepository)
	due := []*model.PendingCallback{
		{ID: 7, CallbackType: model.CallbackTypeDeposit, RelatedID: "0xabc", URL: srv.URL, Payload: "{}", RetryCount: 3, MaxRetries: 20},
	}
	callbackRepo.On("ListDue", mock.Anything, mock.Anything, callbackSweepBatch).Return(due, nil)
	callbackRepo.On("ScheduleRetry", mock.Anything, int64(7), mock.Anything, mock.Anything).Return(nil).Once()
	callbackRepo.On("CountPending", mock.Anything).Return(int64(1), nil)

	svc := newTestCallbackService(callbackRepo, new(mockTransferRepository))

	require.NoError(t, svc.SweepOnce(context.Background()))
	callbackRepo.AssertExpectations(t)
	callbackRepo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

// 达到重试上限的行置为终态失败
func TestCallbackService_SweepOnce_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	callbackRepo := new(mockCallbackRepository)
	due := []*model.PendingCallback{
		{ID: 9, CallbackType: model.CallbackTypeWithdrawal, RelatedID: "trans-1", TransferStatus: "2",
			URL: srv.URL, Payload: "{}", RetryCount: 19, MaxRetries: 20},
	}
	callbackRepo.On("ListDue", mock.Anything, mock.Anything, callbackSweepBatch).Return(due, nil)
	callbackRepo.On("MarkFailed", mock.Anything, int64(9), mock.Anything).Return(nil).Once()
	callbackRepo.On("CountPending", mock.Anything).Return(int64(0), nil)

	svc := newTestCallbackService(callbackRepo, new(mockTransferRepository))

	require.NoError(t, svc.SweepOnce(context.Background()))
	callbackRepo.AssertExpectations(t)
	callbackRepo.AssertNotCalled(t, "ScheduleRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCallbackService_SweepOnce_NothingDue(t *testing.T) {
	callbackRepo := new(mockCallbackRepository)
	callbackRepo.On("ListDue", mock.Anything, mock.Anything, callbackSweepBatch).
		Return([]*model.PendingCallback{}, nil)
	callbackRepo.On("CountPending", mock.Anything).Return(int64(0), nil)

	svc := newTestCallbackService(callbackRepo, new(mockTransferRepository))

	assert.NoError(t, svc.SweepOnce(context.Background()))
}

// 留存清理同时覆盖终态回调与已通知转账
func TestCallbackService_PurgeExpired(t *testing.T) {
	callbackRepo := new(mockCallbackRepository)
	transferRepo := new(mockTransferRepository)

	var callbackCutoff, transferCutoff int64
	callbackRepo.On("DeleteTerminalBefore", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { callbackCutoff = args.Get(1).(int64) }).
		Return(int64(3), nil).Once()
	transferRepo.On("DeleteNotifiedBefore", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { transferCutoff = args.Get(1).(int64) }).
		Return(int64(5), nil).Once()

	svc := newTestCallbackService(callbackRepo, transferRepo)
	svc.purgeExpired(context.Background())

	callbackRepo.AssertExpectations(t)
	transferRepo.AssertExpectations(t)
	assert.Equal(t, callbackCutoff, transferCutoff, "both purges share one cutoff")

	// 默认留存 7 天
	expected := time.Now().Add(-model.CallbackRetention).UnixMilli()
	assert.InDelta(t, expected, callbackCutoff, float64(5*time.Second.Milliseconds()))
}

func TestCallbackService_StartStop(t *testing.T) {
	svc := newTestCallbackService(new(mockCallbackRepository), new(mockTransferRepository))

	svc.Start(context.Background())
	svc.Start(context.Background()) // 重复启动为空操作
	svc.Stop()
	svc.Stop() // 重复停止为空操作
}
