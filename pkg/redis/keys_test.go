package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// key 命名是线上契约，改动会导致新旧进程互相看不见对方的数据。
func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "seckill:stock:7", StockKey(7))
	assert.Equal(t, "seckill:order:7", OrderSetKey(7))
	assert.Equal(t, "lock:order:42", OrderLockKey(42))
	assert.Equal(t, "lock:shop:3", ShopLockKey("3"))
	assert.Equal(t, "icr:order:2022:06:15", DailySeqKey("order", "2022:06:15"))
	assert.Equal(t, "seckill:orders:pending", PendingOrdersKey)
	assert.Equal(t, "cache:shop:", CacheShopPrefix)
	assert.Equal(t, "cache:voucher:", CacheVoucherPrefix)
}
