package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/paywatch/chain-notify/internal/model"
)

var (
	// ErrAddressNotFound 地址不存在
	ErrAddressNotFound = errors.New("tracked address not found")
	// ErrDuplicateAddress 地址已存在
	ErrDuplicateAddress = errors.New("duplicate tracked address")
)

// AddressRepository 被跟踪地址仓储接口
type AddressRepository interface {
	Create(ctx context.Context, addr *model.TrackedAddress) error
	GetByAddress(ctx context.Context, address string) (*model.TrackedAddress, error)
	// FindByAddresses 归属查询：返回候选集中被跟踪的子集
	FindByAddresses(ctx context.Context, addresses []string) ([]*model.TrackedAddress, error)
	ListWallets(ctx context.Context, collectOnly bool, limit int) ([]*model.TrackedAddress, error)
	// CreditBalance 入账 (余额累加，单文档原子更新)
	CreditBalance(ctx context.Context, address string, delta decimal.Decimal) error
}

// addressRepository 被跟踪地址仓储实现
type addressRepository struct {
	*Repository
}

// NewAddressRepository 创建被跟踪地址仓储
func NewAddressRepository(db *gorm.DB) AddressRepository {
	return &addressRepository{Repository: NewRepository(db)}
}

func (r *addressRepository) Create(ctx context.Context, addr *model.TrackedAddress) error {
	now := time.Now().UnixMilli()
	addr.CreatedAt = now
	addr.UpdatedAt = now

	err := r.DB(ctx).Create(addr).Error
	if err != nil && isDuplicateKeyError(err) {
		return ErrDuplicateAddress
	}
	return err
}

func (r *addressRepository) GetByAddress(ctx context.Context, address string) (*model.TrackedAddress, error) {
	var addr model.TrackedAddress
	err := r.DB(ctx).Where("address = ?", address).First(&addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func (r *addressRepository) FindByAddresses(ctx context.Context, addresses []string) ([]*model.TrackedAddress, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	var records []*model.TrackedAddress
	err := r.DB(ctx).
		Where("address IN ?", addresses).
		Find(&records).Error
	return records, err
}

func (r *addressRepository) ListWallets(ctx context.Context, collectOnly bool, limit int) ([]*model.TrackedAddress, error) {
	query := r.DB(ctx).Where("source = ?", model.AddressSourceWallet)
	if collectOnly {
		query = query.Where("collect_enabled = ?", true)
	}

	var records []*model.TrackedAddress
	err := query.Order("id ASC").Limit(limit).Find(&records).Error
	return records, err
}

func (r *addressRepository) CreditBalance(ctx context.Context, address string, delta decimal.Decimal) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.TrackedAddress{}).
		Where("address = ?", address).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAddressNotFound
	}
	return nil
}
