package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Strategy 标记该 key 前缀使用的缓存策略。同一前缀在实体生命周期内只用一种策略，
// 物理 TTL 条目与逻辑过期条目不允许混在同一个 key 上。
type Strategy int

const (
	// PassThrough 旁路读 + 空值标记，解决缓存穿透。
	PassThrough Strategy = iota
	// LogicalExpire 逻辑过期 + 后台重建，解决热 key 缓存击穿，读侧永不阻塞。
	LogicalExpire
	// Mutex 互斥重建 + 双重检查，用于不能接受读到旧值的场景。
	Mutex
)

// ErrRetryBudget Mutex 模式下重试预算耗尽仍未拿到锁。
var ErrRetryBudget = errors.New("cache: mutex retry budget exceeded")

// store 是缓存客户端需要的协调存储子集。
type store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// LoadFunc 回源加载。返回 (nil, nil) 表示数据源中不存在该 id。
type LoadFunc func(ctx context.Context, id string) (any, error)

// Options 描述一次查询的 key 前缀、策略与各项时长。
type Options struct {
	KeyPrefix  string
	Strategy   Strategy
	TTL        time.Duration
	LockPrefix string // LogicalExpire / Mutex 模式的重建锁前缀
	Retries    int    // Mutex 模式重试预算，<=0 取默认值
}

// envelope 逻辑过期条目的物理编码：负载 + 过期时刻，无物理 TTL。
type envelope struct {
	Data     json.RawMessage `json:"data"`
	ExpireAt time.Time       `json:"expireAt"`
}

const (
	defaultMutexRetries = 3
	mutexRetrySleep     = 50 * time.Millisecond
	rebuildTimeout      = 10 * time.Second
)

// Client 通用缓存客户端，按 Options.Strategy 分派到三种读路径。
type Client struct {
	store   store
	log     *zap.Logger
	now     func() time.Time
	nullTTL time.Duration
	lockTTL time.Duration

	// 后台重建任务池：有界，单 key 同时最多一次重建（由重建锁保证）。
	rebuilds chan func()
	done     chan struct{}
}

// NewClient 创建缓存客户端并启动重建任务池。
// nullTTL 是空值标记的短 TTL，lockTTL 是重建锁的租约。
func NewClient(s store, log *zap.Logger, nullTTL, lockTTL time.Duration, rebuildWorkers int) *Client {
	if rebuildWorkers <= 0 {
		rebuildWorkers = 10
	}
	c := &Client{
		store:    s,
		log:      log,
		now:      time.Now,
		nullTTL:  nullTTL,
		lockTTL:  lockTTL,
		rebuilds: make(chan func(), 4*rebuildWorkers),
		done:     make(chan struct{}),
	}
	for i := 0; i < rebuildWorkers; i++ {
		go c.rebuildLoop()
	}
	return c
}

// Close 停止重建任务池。
func (c *Client) Close() { close(c.done) }

func (c *Client) rebuildLoop() {
	for {
		select {
		case <-c.done:
			return
		case task := <-c.rebuilds:
			task()
		}
	}
}

// Get 按策略查询 keyPrefix+id，命中时反序列化到 dest。
// found=false 表示数据源中不存在（或逻辑过期模式下的冷 miss）。
func (c *Client) Get(ctx context.Context, opt Options, id string, dest any, load LoadFunc) (bool, error) {
	switch opt.Strategy {
	case LogicalExpire:
		return c.getWithLogicalExpire(ctx, opt, id, dest, load)
	case Mutex:
		return c.getWithMutex(ctx, opt, id, dest, load)
	default:
		return c.getWithPassThrough(ctx, opt, id, dest, load)
	}
}

// getWithPassThrough 旁路读：miss 回源，源不存在时写入短 TTL 空值标记，
// 阻断对不存在 id 的反复回源。
func (c *Client) getWithPassThrough(ctx context.Context, opt Options, id string, dest any, load LoadFunc) (bool, error) {
	key := opt.KeyPrefix + id
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		if raw == "" {
			// 空值标记：源里没有，不再回源
			return false, nil
		}
		return true, json.Unmarshal([]byte(raw), dest)
	}

	v, err := load(ctx, id)
	if err != nil {
		return false, err
	}
	if v == nil {
		if err := c.store.Set(ctx, key, "", c.nullTTL); err != nil {
			c.log.Warn("cache set null marker", zap.String("key", key), zap.Error(err))
		}
		return false, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	if err := c.store.Set(ctx, key, string(b), opt.TTL); err != nil {
		c.log.Warn("cache set", zap.String("key", key), zap.Error(err))
	}
	return true, json.Unmarshal(b, dest)
}

// getWithLogicalExpire 逻辑过期读：条目无物理 TTL，过期后立刻返回旧值，
// 抢到重建锁的读者把重建丢给后台任务池，读路径永不等待重建。
// 冷 miss 直接返回未命中，预热由调用方负责（见 SetLogical）。
func (c *Client) getWithLogicalExpire(ctx context.Context, opt Options, id string, dest any, load LoadFunc) (bool, error) {
	key := opt.KeyPrefix + id
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return false, err
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return false, err
	}
	if env.ExpireAt.After(c.now()) {
		return true, nil
	}

	// 已逻辑过期：尝试加重建锁，没抢到说明重建已在途
	lockKey := opt.LockPrefix + id
	ok, err := c.store.SetNX(ctx, lockKey, "1", c.lockTTL)
	if err != nil {
		c.log.Warn("cache rebuild lock", zap.String("key", lockKey), zap.Error(err))
		return true, nil
	}
	if ok {
		c.submitRebuild(key, lockKey, id, opt.TTL, load)
	}
	// 无论重建与否都先返回旧值
	return true, nil
}

func (c *Client) submitRebuild(key, lockKey, id string, ttl time.Duration, load LoadFunc) {
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		defer cancel()
		defer func() {
			if err := c.store.Del(ctx, lockKey); err != nil {
				c.log.Warn("cache rebuild unlock", zap.String("key", lockKey), zap.Error(err))
			}
		}()

		v, err := load(ctx, id)
		if err != nil {
			c.log.Error("cache rebuild load", zap.String("key", key), zap.Error(err))
			return
		}
		if v == nil {
			c.log.Warn("cache rebuild: source has no record", zap.String("key", key))
			return
		}
		if err := c.SetLogical(ctx, key, v, ttl); err != nil {
			c.log.Error("cache rebuild set", zap.String("key", key), zap.Error(err))
		}
	}

	select {
	case c.rebuilds <- task:
	default:
		// 任务池满：放弃本轮重建并立即还锁，下一个读者再试
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := c.store.Del(ctx, lockKey); err != nil {
			c.log.Warn("cache rebuild unlock", zap.String("key", lockKey), zap.Error(err))
		}
		c.log.Warn("cache rebuild pool full, skip", zap.String("key", key))
	}
}

// SetLogical 以逻辑过期编码写入缓存，供预热与后台重建使用。
func (c *Client) SetLogical(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	b, err := json.Marshal(envelope{Data: data, ExpireAt: c.now().Add(ttl)})
	if err != nil {
		return err
	}
	// 逻辑过期条目不带物理 TTL
	return c.store.Set(ctx, key, string(b), 0)
}

// Delete 使缓存失效（写路径：先写库再删缓存）。
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.store.Del(ctx, key)
}

// getWithMutex 互斥重建读：miss 时抢短租约锁，拿到锁后双重检查再回源，
// 没拿到则休眠后从头重试，重试次数受预算约束，耗尽返回 ErrRetryBudget。
func (c *Client) getWithMutex(ctx context.Context, opt Options, id string, dest any, load LoadFunc) (bool, error) {
	key := opt.KeyPrefix + id
	lockKey := opt.LockPrefix + id
	retries := opt.Retries
	if retries <= 0 {
		retries = defaultMutexRetries
	}

	for attempt := 0; attempt <= retries; attempt++ {
		raw, found, err := c.store.Get(ctx, key)
		if err != nil {
			return false, err
		}
		if found {
			if raw == "" {
				return false, nil
			}
			return true, json.Unmarshal([]byte(raw), dest)
		}

		locked, err := c.store.SetNX(ctx, lockKey, "1", c.lockTTL)
		if err != nil {
			return false, err
		}
		if !locked {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(mutexRetrySleep):
			}
			continue
		}

		found, err = c.rebuildUnderMutex(ctx, opt, key, lockKey, id, dest, load)
		return found, err
	}
	return false, ErrRetryBudget
}

// rebuildUnderMutex 持锁重建，锁在所有退出路径上释放。
func (c *Client) rebuildUnderMutex(ctx context.Context, opt Options, key, lockKey, id string, dest any, load LoadFunc) (bool, error) {
	defer func() {
		if err := c.store.Del(ctx, lockKey); err != nil {
			c.log.Warn("cache mutex unlock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	// 双重检查：别的持有者可能刚重建完
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		if raw == "" {
			return false, nil
		}
		return true, json.Unmarshal([]byte(raw), dest)
	}

	v, err := load(ctx, id)
	if err != nil {
		return false, err
	}
	if v == nil {
		if err := c.store.Set(ctx, key, "", c.nullTTL); err != nil {
			c.log.Warn("cache set null marker", zap.String("key", key), zap.Error(err))
		}
		return false, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	if err := c.store.Set(ctx, key, string(b), opt.TTL); err != nil {
		c.log.Warn("cache set", zap.String("key", key), zap.Error(err))
	}
	return true, json.Unmarshal(b, dest)
}
