package model

import (
	"time"

	"gorm.io/gorm"
)

// Voucher 秒杀券：库存与抢购时间窗。
// Stock 只允许通过条件扣减（stock = stock - 1 WHERE stock > 0）修改，
// 禁止读-改-写，否则并发下会超卖。
type Voucher struct {
	ID        int64          `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ShopID    uint      `gorm:"not null;index" json:"shop_id"`
	Title     string    `gorm:"size:128;not null" json:"title"`
	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	PayValue  int64     `gorm:"not null" json:"pay_value"` // 秒杀价，单位分
	BeginTime time.Time `gorm:"not null" json:"begin_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
}

func (Voucher) TableName() string { return "vouchers" }
