package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/paywatch/chain-notify/internal/model"
)

// withdrawalColumns 返回 chain_withdrawals 表的所有列名
func withdrawalColumns() []string {
	return []string{
		"id", "withdrawal_id", "trans_id", "user_id", "to_address", "amount",
		"tx_hash", "status", "error_message", "retry_count", "created_at", "updated_at",
	}
}

func TestWithdrawalRepository_Create_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawalRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "chain_withdrawals"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	record := &model.WithdrawalRecord{
		WithdrawalID: "wd-1",
		UserID:       "user-1",
		ToAddress:    "0xto",
		Amount:       decimal.NewFromInt(1000000),
	}
	err := repo.Create(context.Background(), record)

	require.NoError(t, err)
	assert.NotZero(t, record.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalRepository_Create_Duplicate(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawalRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "chain_withdrawals"`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &model.WithdrawalRecord{WithdrawalID: "wd-1"})

	assert.ErrorIs(t, err, ErrDuplicateWithdrawal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalRepository_GetByWithdrawalID_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawalRepository(db)
	now := time.Now().UnixMilli()

	rows := sqlmock.NewRows(withdrawalColumns()).AddRow(
		1, "wd-1", "trans-1", "user-1", "0xto", "1000000",
		"", int8(model.WithdrawalStatusPending), "", 0, now, now,
	)
	mock.ExpectQuery(`SELECT \* FROM "chain_withdrawals" WHERE withdrawal_id = \$1`).
		WithArgs("wd-1", 1).
		WillReturnRows(rows)

	record, err := repo.GetByWithdrawalID(context.Background(), "wd-1")

	require.NoError(t, err)
	assert.Equal(t, "trans-1", record.TransID)
	assert.Equal(t, model.WithdrawalStatusPending, record.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalRepository_GetByTransID_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawalRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "chain_withdrawals" WHERE trans_id = \$1`).
		WithArgs("missing", 1).
		WillReturnError(gorm.ErrRecordNotFound)

	record, err := repo.GetByTransID(context.Background(), "missing")

	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalRepository_UpdateStatus_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawalRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "chain_withdrawals" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateStatus(context.Background(), "wd-1",
		model.WithdrawalStatusProcessing, model.WithdrawalStatusCompleted, "0xhash")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 期望状态不匹配时不迁移，另一实例可能已接手
func TestWithdrawalRepository_UpdateStatus_StateMismatch(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawalRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "chain_withdrawals" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.UpdateStatus(context.Background(), "wd-1",
		model.WithdrawalStatusPending, model.WithdrawalStatusProcessing, "")

	assert.ErrorIs(t, err, ErrWithdrawalNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalRepository_MarkFailed(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawalRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "chain_withdrawals" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, repo.MarkFailed(context.Background(), "wd-1", "insufficient balance"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalRepository_ListStalePending(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewWithdrawalRepository(db)
	now := time.Now().UnixMilli()

	rows := sqlmock.NewRows(withdrawalColumns()).AddRow(
		1, "wd-1", "", "user-1", "0xto", "1000000",
		"", int8(model.WithdrawalStatusPending), "", 0, now-120000, now-120000,
	)
	mock.ExpectQuery(`SELECT \* FROM "chain_withdrawals" WHERE status = \$1 AND created_at < \$2`).
		WillReturnRows(rows)

	records, err := repo.ListStalePending(context.Background(), now-60000, 10)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "wd-1", records[0].WithdrawalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
