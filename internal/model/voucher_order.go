package model

import "time"

// VoucherOrder 秒杀订单。ID 由分布式 ID 生成器预先分配，不用自增主键。
// (user_id, voucher_id) 唯一索引是一人一单的最终权威约束。
type VoucherOrder struct {
	ID        int64     `gorm:"primarykey;autoIncrement:false" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID    int64 `gorm:"not null;uniqueIndex:idx_user_voucher" json:"user_id"`
	VoucherID int64 `gorm:"not null;uniqueIndex:idx_user_voucher" json:"voucher_id"`
}

func (VoucherOrder) TableName() string { return "voucher_orders" }
