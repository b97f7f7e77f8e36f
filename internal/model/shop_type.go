package model

// ShopType 首页商铺分类，几乎不变，整表缓存在 Redis list 中。
type ShopType struct {
	ID   uint   `gorm:"primarykey" json:"id"`
	Name string `gorm:"size:32;not null" json:"name"`
	Icon string `gorm:"size:255" json:"icon"`
	Sort int    `gorm:"not null;default:0;index" json:"sort"`
}

func (ShopType) TableName() string { return "shop_types" }
