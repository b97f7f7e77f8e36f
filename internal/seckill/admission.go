package seckill

import (
	"context"
	"fmt"

	rediskey "dianping/pkg/redis"
)

// admitLua：准入判定的全部读写在 Redis 内作为一个原子步骤执行。
// 查库存、查一人一单、扣减与登记之间不存在任何可被并发利用的间隙，
// 拆成多次 GET/SET 的话，check 与 mutate 之间的窗口必然导致超卖或重复下单。
// KEYS[1]=库存，KEYS[2]=已购用户集合，KEYS[3]=待落库订单列表
// ARGV[1]=userId，ARGV[2]=订单描述符 orderId:userId:voucherId
// 返回：0 成功，1 库存不足，2 重复下单
const admitLua = `
local stockKey = KEYS[1]
local orderSetKey = KEYS[2]
local pendingKey = KEYS[3]
local userId = ARGV[1]
local descriptor = ARGV[2]

if tonumber(redis.call('GET', stockKey) or '0') <= 0 then
  return 1
end
if redis.call('SISMEMBER', orderSetKey, userId) == 1 then
  return 2
end
redis.call('DECRBY', stockKey, 1)
redis.call('SADD', orderSetKey, userId)
redis.call('RPUSH', pendingKey, descriptor)
return 0
`

// AdmitStatus 准入脚本的判定结果。
type AdmitStatus int

const (
	AdmitOK AdmitStatus = iota
	AdmitOutOfStock
	AdmitDuplicate
)

// Admitter 执行一次原子准入判定。
type Admitter interface {
	Admit(ctx context.Context, voucherID, userID, orderID int64) (AdmitStatus, error)
}

// evaler 协调存储的脚本执行能力。
type evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisAdmitter 基于 Lua 脚本的 Admitter 实现。
type RedisAdmitter struct {
	store evaler
}

// NewRedisAdmitter 创建准入执行器。
func NewRedisAdmitter(store evaler) *RedisAdmitter {
	return &RedisAdmitter{store: store}
}

func (a *RedisAdmitter) Admit(ctx context.Context, voucherID, userID, orderID int64) (AdmitStatus, error) {
	keys := []string{
		rediskey.StockKey(voucherID),
		rediskey.OrderSetKey(voucherID),
		rediskey.PendingOrdersKey,
	}
	res, err := a.store.Eval(ctx, admitLua, keys,
		userID, Descriptor(orderID, userID, voucherID))
	if err != nil {
		return 0, fmt.Errorf("run admit script: %w", err)
	}
	code, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected admit script result type %T", res)
	}
	switch code {
	case 0:
		return AdmitOK, nil
	case 1:
		return AdmitOutOfStock, nil
	case 2:
		return AdmitDuplicate, nil
	default:
		return 0, fmt.Errorf("unknown admit script result %d", code)
	}
}
