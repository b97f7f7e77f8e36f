package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// luaReleaseIfMatch 仅当锁值匹配持有者令牌时才删除，避免租约过期后误删他人新锁。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local holder = ARGV[1]
if redis.call('GET', lockKey) == holder then
  return redis.call('DEL', lockKey)
end
return 0
`

// Locker 提供带租约的分布式锁。持有者崩溃后锁随租约到期自动释放，
// 不会永久阻塞同一 key。
type Locker struct {
	c     *Client
	lease time.Duration
}

// NewLocker 创建锁工厂，lease 为每把锁的租约时长。
func NewLocker(c *Client, lease time.Duration) *Locker {
	return &Locker{c: c, lease: lease}
}

// TryLock 非阻塞尝试加锁。ok=false 表示锁已被他人持有。
// 成功时返回释放函数，释放函数必须在所有退出路径上调用。
func (l *Locker) TryLock(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error) {
	holder := uuid.NewString()
	ok, err = l.c.SetNX(ctx, key, holder, l.lease)
	if err != nil || !ok {
		return nil, false, err
	}
	release = func(ctx context.Context) error {
		_, err := l.c.Eval(ctx, luaReleaseIfMatch, []string{key}, holder)
		return err
	}
	return release, true, nil
}
