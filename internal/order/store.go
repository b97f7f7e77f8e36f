package order

import (
	"context"
	"errors"

	"dianping/internal/model"

	"gorm.io/gorm"
)

// Tx 是一次持久化事务内可见的操作集合。事务对象显式作为参数传递，
// 不依赖任何线程绑定状态，跨 goroutine 使用也不会失效。
type Tx interface {
	// CountOrders 统计某用户在某券上的既有订单数（一人一单的权威检查）。
	CountOrders(ctx context.Context, userID, voucherID int64) (int64, error)
	// DecrementStock 条件扣减库存：stock = stock - 1 WHERE stock > 0。
	// 返回 false 表示库存已为 0，未发生扣减。
	DecrementStock(ctx context.Context, voucherID int64) (bool, error)
	// SaveOrder 写入订单行。
	SaveOrder(ctx context.Context, o *model.VoucherOrder) error
}

// Store 订单持久层入口。
type Store interface {
	// GetVoucher 按 id 查券，不存在返回 (nil, nil)。
	GetVoucher(ctx context.Context, id int64) (*model.Voucher, error)
	// InTx 在单个数据库事务内执行 fn，fn 返回错误则整体回滚。
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// GormStore 基于 gorm 的 Store 实现。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建持久层。
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetVoucher(ctx context.Context, id int64) (*model.Voucher, error) {
	var v model.Voucher
	err := s.db.WithContext(ctx).First(&v, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// GetOrder 按订单 id 查询，不存在返回 (nil, nil)。
func (s *GormStore) GetOrder(ctx context.Context, id int64) (*model.VoucherOrder, error) {
	var o model.VoucherOrder
	err := s.db.WithContext(ctx).First(&o, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (s *GormStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(g *gorm.DB) error {
		return fn(gormTx{db: g})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t gormTx) CountOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	var count int64
	err := t.db.WithContext(ctx).Model(&model.VoucherOrder{}).
		Where("user_id = ? AND voucher_id = ?", userID, voucherID).
		Count(&count).Error
	return count, err
}

func (t gormTx) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	res := t.db.WithContext(ctx).Model(&model.Voucher{}).
		Where("id = ? AND stock > 0", voucherID).
		UpdateColumn("stock", gorm.Expr("stock - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (t gormTx) SaveOrder(ctx context.Context, o *model.VoucherOrder) error {
	return t.db.WithContext(ctx).Create(o).Error
}
