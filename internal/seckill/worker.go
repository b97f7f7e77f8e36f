package seckill

import (
	"context"
	"time"

	"dianping/internal/model"
	"dianping/internal/order"
	"dianping/internal/queue"
	rediskey "dianping/pkg/redis"

	"go.uber.org/zap"
)

// locker 用户级分布式锁。
type locker interface {
	TryLock(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error)
}

// pendingList 待落库列表的恢复视角：进程崩溃后从这里续扫。
type pendingList interface {
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LRem(ctx context.Context, key string, count int64, value string) error
}

// eventPublisher 订单落库成功后的下游通知，可为 nil。
type eventPublisher interface {
	Publish(ctx context.Context, msg queue.OrderMessage) error
}

// Worker 唯一的落库消费者：严格按入队顺序处理任务，
// 把对持久层的并发写压力收敛为恒定的单个在途事务。
type Worker struct {
	log     *zap.Logger
	store   order.Store
	locks   locker
	tasks   <-chan OrderTask
	pending pendingList
	events  eventPublisher
	now     func() time.Time
}

// NewWorker 创建落库 worker。events 传 nil 则不发下游事件。
func NewWorker(log *zap.Logger, store order.Store, locks locker,
	tasks <-chan OrderTask, pending pendingList, events eventPublisher) *Worker {
	return &Worker{
		log:     log,
		store:   store,
		locks:   locks,
		tasks:   tasks,
		pending: pending,
		events:  events,
		now:     time.Now,
	}
}

// Run 先回放上次崩溃遗留在待落库列表中的任务，再进入消费循环。
// ctx 取消后返回；处理中的任务会先走完当前事务。
func (w *Worker) Run(ctx context.Context) {
	w.recover(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.tasks:
			w.handle(ctx, task)
			w.removeDescriptor(ctx, task.Descriptor())
		}
	}
}

// recover 回放待落库列表。列表中的描述符在任务终态（落库或留痕告警）之前
// 不会被移除，所以准入与落库之间崩溃的订单在这里找回。
func (w *Worker) recover(ctx context.Context) {
	entries, err := w.pending.LRange(ctx, rediskey.PendingOrdersKey, 0, -1)
	if err != nil {
		w.log.Error("recover pending orders", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}
	w.log.Info("recovering pending orders", zap.Int("count", len(entries)))
	for _, raw := range entries {
		task, err := ParseDescriptor(raw)
		if err != nil {
			// 脏描述符：留痕后移除，不能卡住整个列表
			w.log.Error("drop malformed pending order", zap.String("descriptor", raw), zap.Error(err))
			w.removeDescriptor(ctx, raw)
			continue
		}
		w.handle(ctx, task)
		w.removeDescriptor(ctx, raw)
	}
}

// handle 处理单个任务直至终态。任务失败无自动重试：
// 漏单可人工对账补回，重复下单不行，所以宁丢勿重。
func (w *Worker) handle(ctx context.Context, task OrderTask) {
	fields := []zap.Field{
		zap.Int64("orderId", task.OrderID),
		zap.Int64("userId", task.UserID),
		zap.Int64("voucherId", task.VoucherID),
	}

	// 用户级锁只做非阻塞尝试。准入脚本已经挡掉了重复下单，
	// 这里是针对时钟/锁服务异常的兜底，不是主正确性机制。
	release, ok, err := w.locks.TryLock(ctx, rediskey.OrderLockKey(task.UserID))
	if err != nil {
		w.log.Error("acquire order lock", append(fields, zap.Error(err))...)
		return
	}
	if !ok {
		w.log.Error("order lock held, drop task", fields...)
		return
	}
	defer func() {
		if err := release(ctx); err != nil {
			w.log.Warn("release order lock", append(fields, zap.Error(err))...)
		}
	}()

	persisted := false
	err = w.store.InTx(ctx, func(tx order.Tx) error {
		// 权威的一人一单检查：缓存侧的判定不是事实源
		count, err := tx.CountOrders(ctx, task.UserID, task.VoucherID)
		if err != nil {
			return err
		}
		if count > 0 {
			w.log.Warn("order already persisted, skip", fields...)
			return nil
		}

		// 权威的条件扣减。失败说明 Redis 计数与库内库存已漂移，
		// 必须以 error 级日志暴露给告警，不允许吞掉。
		decremented, err := tx.DecrementStock(ctx, task.VoucherID)
		if err != nil {
			return err
		}
		if !decremented {
			w.log.Error("stock counters diverged: durable decrement failed after admission", fields...)
			return nil
		}

		if err := tx.SaveOrder(ctx, &model.VoucherOrder{
			ID:        task.OrderID,
			CreatedAt: w.now(),
			UserID:    task.UserID,
			VoucherID: task.VoucherID,
		}); err != nil {
			return err
		}
		persisted = true
		return nil
	})
	if err != nil {
		w.log.Error("persist order", append(fields, zap.Error(err))...)
		return
	}

	if persisted && w.events != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := w.events.Publish(pubCtx, queue.OrderMessage{
			OrderID:   task.OrderID,
			UserID:    task.UserID,
			VoucherID: task.VoucherID,
			CreatedAt: w.now(),
		}); err != nil {
			w.log.Warn("publish order event", append(fields, zap.Error(err))...)
		}
	}
}

func (w *Worker) removeDescriptor(ctx context.Context, descriptor string) {
	if err := w.pending.LRem(ctx, rediskey.PendingOrdersKey, 1, descriptor); err != nil {
		w.log.Warn("remove pending descriptor", zap.String("descriptor", descriptor), zap.Error(err))
	}
}
