package seckill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dianping/internal/cache"
	"dianping/internal/idgen"
	"dianping/internal/model"
	rediskey "dianping/pkg/redis"

	"go.uber.org/zap"
)

// 准入失败的类型化结果，直接返回给调用方，不用异常做控制流。
var (
	// ErrVoucherNotFound 券不存在。
	ErrVoucherNotFound = errors.New("voucher not found")
	// ErrNotStarted 秒杀尚未开始。
	ErrNotStarted = errors.New("seckill not started")
	// ErrEnded 秒杀已结束。
	ErrEnded = errors.New("seckill ended")
	// ErrOutOfStock 库存不足。
	ErrOutOfStock = errors.New("out of stock")
	// ErrDuplicate 同一用户重复下单。
	ErrDuplicate = errors.New("duplicate order")
	// ErrQueueFull 落库队列已满，准入侧的背压信号。
	// 此时 Redis 侧的预留已生效，描述符仍在待落库列表中等待恢复扫描，
	// 绝不允许静默丢单。
	ErrQueueFull = errors.New("order queue full")
)

// voucherStore 只需要读券的能力。
type voucherStore interface {
	GetVoucher(ctx context.Context, id int64) (*model.Voucher, error)
}

// Service 秒杀下单入口。
// 快路径只做：时间窗校验（读缓存券）→ 生成订单 ID → 一次原子准入 →
// 任务入队，随后立刻把订单 ID 返回给调用方；落库由 worker 异步完成。
type Service struct {
	log        *zap.Logger
	cache      *cache.Client
	ids        *idgen.Worker
	admitter   Admitter
	vouchers   voucherStore
	tasks      chan OrderTask
	voucherTTL time.Duration
	now        func() time.Time
}

// NewService 创建秒杀服务，queueSize 是落库队列容量。
func NewService(log *zap.Logger, c *cache.Client, ids *idgen.Worker, admitter Admitter,
	vouchers voucherStore, queueSize int, voucherTTL time.Duration) *Service {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Service{
		log:        log,
		cache:      c,
		ids:        ids,
		admitter:   admitter,
		vouchers:   vouchers,
		tasks:      make(chan OrderTask, queueSize),
		voucherTTL: voucherTTL,
		now:        time.Now,
	}
}

// Tasks 暴露给落库 worker 的任务队列。
func (s *Service) Tasks() <-chan OrderTask { return s.tasks }

// SeckillVoucher 尝试为 userID 抢购 voucherID，成功返回订单 ID。
// 返回的订单此刻尚未持久化；状态 0 的准入是一个最终必然落库
// （或留下告警日志）的承诺，没有回滚路径。
func (s *Service) SeckillVoucher(ctx context.Context, voucherID, userID int64) (int64, error) {
	v, err := s.loadVoucher(ctx, voucherID)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, ErrVoucherNotFound
	}

	// 时间窗在进入原子步骤之前用缓存数据判掉
	now := s.now()
	if now.Before(v.BeginTime) {
		return 0, ErrNotStarted
	}
	if now.After(v.EndTime) {
		return 0, ErrEnded
	}

	orderID, err := s.ids.NextID(ctx, "order")
	if err != nil {
		return 0, fmt.Errorf("generate order id: %w", err)
	}

	status, err := s.admitter.Admit(ctx, voucherID, userID, orderID)
	if err != nil {
		// 协调存储不可用时拒绝购买，绝不绕过库存检查放行
		return 0, fmt.Errorf("admit: %w", err)
	}
	switch status {
	case AdmitOutOfStock:
		return 0, ErrOutOfStock
	case AdmitDuplicate:
		return 0, ErrDuplicate
	}

	task := OrderTask{OrderID: orderID, UserID: userID, VoucherID: voucherID}
	select {
	case s.tasks <- task:
	default:
		s.log.Error("order queue full, task left on pending list",
			zap.Int64("orderId", orderID),
			zap.Int64("userId", userID),
			zap.Int64("voucherId", voucherID))
		return 0, ErrQueueFull
	}

	return orderID, nil
}

// WarmVoucher 预热券缓存。逻辑过期条目没有内联重建，
// 建券/预热接口必须先调这里，否则读侧按冷 miss 处理。
func (s *Service) WarmVoucher(ctx context.Context, v *model.Voucher) error {
	return s.cache.SetLogical(ctx, fmt.Sprintf("%s%d", rediskey.CacheVoucherPrefix, v.ID), v, s.voucherTTL)
}

// loadVoucher 读券走逻辑过期缓存：秒杀期间读远多于写，
// 过期也先拿旧值，重建在后台完成，准入路径不等缓存。
func (s *Service) loadVoucher(ctx context.Context, voucherID int64) (*model.Voucher, error) {
	var v model.Voucher
	opt := cache.Options{
		KeyPrefix:  rediskey.CacheVoucherPrefix,
		Strategy:   cache.LogicalExpire,
		TTL:        s.voucherTTL,
		LockPrefix: rediskey.LockVoucherPrefix,
	}
	found, err := s.cache.Get(ctx, opt, fmt.Sprintf("%d", voucherID), &v,
		func(ctx context.Context, _ string) (any, error) {
			got, err := s.vouchers.GetVoucher(ctx, voucherID)
			if err != nil {
				return nil, err
			}
			if got == nil {
				return nil, nil
			}
			return got, nil
		})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &v, nil
}
