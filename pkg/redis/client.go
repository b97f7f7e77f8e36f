package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// Client 是协调存储的薄封装：只暴露本系统用到的一小撮命令，
// 上层包通过各自声明的小接口消费它，便于在测试中替换。
type Client struct {
	rdb *rd.Client
}

// New 按地址与 db 序号建立连接。
func New(addr string, db int) *Client {
	return &Client{rdb: rd.NewClient(&rd.Options{
		Addr: addr,
		DB:   db,
	})}
}

// NewFromClient 复用已有连接（测试或多实例共享时使用）。
func NewFromClient(rdb *rd.Client) *Client {
	return &Client{rdb: rdb}
}

// Close 释放连接。
func (c *Client) Close() error { return c.rdb.Close() }

// Ping 连通性探测，启动时 fail fast。
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get 读取字符串值。found=false 表示 key 不存在（区别于空串值）。
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// Set 写入字符串值，ttl<=0 表示不设置物理过期。
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX 条件写入，作为短租约锁的获取原语。
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Del 删除 key。
func (c *Client) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Incr 原子自增，返回自增后的值。
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

// Eval 执行 Lua 脚本，脚本内的多个读写作为单个原子步骤生效。
func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return c.rdb.Eval(ctx, script, keys, args...).Result()
}

// RPush 向列表尾部追加元素。
func (c *Client) RPush(ctx context.Context, key string, values ...interface{}) error {
	return c.rdb.RPush(ctx, key, values...).Err()
}

// LRange 读取列表区间。
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb.LRange(ctx, key, start, stop).Result()
}

// LRem 从列表中移除 count 个等于 value 的元素。
func (c *Client) LRem(ctx context.Context, key string, count int64, value string) error {
	return c.rdb.LRem(ctx, key, count, value).Err()
}

// Expire 刷新 key 的过期时间。
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}
