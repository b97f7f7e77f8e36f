package model

import (
	"time"

	"gorm.io/gorm"
)

// Shop 商铺信息，读多写少，读路径全部走缓存。
type Shop struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name    string `gorm:"size:128;not null" json:"name"`
	TypeID  uint   `gorm:"not null;index" json:"type_id"`
	Address string `gorm:"size:255" json:"address"`
	// AvgPrice 人均消费，单位分。
	AvgPrice int64 `gorm:"not null;default:0" json:"avg_price"`
	Score    int   `gorm:"not null;default:0" json:"score"` // 评分 x10 存整数
}

func (Shop) TableName() string { return "shops" }
