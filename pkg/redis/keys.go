package redis

import "fmt"

// 统一约定所有 Redis key 的命名，线上部署依赖这些前缀，不可随意更改。
const (
	// CacheShopPrefix 商铺信息缓存前缀（穿透防护模式）。
	CacheShopPrefix = "cache:shop:"
	// CacheShopTypeKey 首页商铺类型列表缓存（list 类型）。
	CacheShopTypeKey = "cache:shop:type:"
	// CacheVoucherPrefix 秒杀券基础信息缓存前缀。
	CacheVoucherPrefix = "cache:voucher:"
	// LockShopPrefix 商铺缓存重建互斥锁前缀，短租约。
	LockShopPrefix = "lock:shop:"
	// LockVoucherPrefix 秒杀券缓存重建锁前缀。
	LockVoucherPrefix = "lock:voucher:"
	// PendingOrdersKey 已通过准入、待异步落库的订单描述符列表。
	PendingOrdersKey = "seckill:orders:pending"
)

// StockKey 秒杀库存的 Redis 镜像。
func StockKey(voucherID int64) string {
	return fmt.Sprintf("seckill:stock:%d", voucherID)
}

// OrderSetKey 某张券的已购用户集合，用于一人一单判断。
func OrderSetKey(voucherID int64) string {
	return fmt.Sprintf("seckill:order:%d", voucherID)
}

// OrderLockKey 异步落库时的用户级分布式锁。
func OrderLockKey(userID int64) string {
	return fmt.Sprintf("lock:order:%d", userID)
}

// ShopLockKey 商铺缓存重建锁。
func ShopLockKey(id string) string {
	return LockShopPrefix + id
}

// DailySeqKey ID 生成器的按天自增计数器，date 形如 yyyy:MM:dd。
func DailySeqKey(name, date string) string {
	return fmt.Sprintf("icr:%s:%s", name, date)
}
