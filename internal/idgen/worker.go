package idgen

import (
	"context"
	"time"

	rediskey "dianping/pkg/redis"
)

// 固定纪元 2022-06-15 00:00:00 UTC，与现网已发放的 ID 对齐，不可更改。
const beginTimestamp int64 = 1655251200

// countBits 低 32 位留给当日序列号。
const countBits = 32

// incrementer 只需要协调存储的原子自增能力。
type incrementer interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// Worker 生成全局唯一、大致按时间递增的 64 位 ID：
// 高位为相对纪元的秒级时间戳，低 32 位为按天自增的序列号。
// 序列号按天分 key，既避免单 key 无限增长，也方便按天统计发放量。
// 跨进程唯一由 Redis INCR 的原子性保证，无中心分配器。
type Worker struct {
	store incrementer
	now   func() time.Time
}

// NewWorker 创建 ID 生成器。
func NewWorker(store incrementer) *Worker {
	return &Worker{store: store, now: time.Now}
}

// NextID 为名为 name 的序列生成下一个 ID。
// 时钟非递减的前提下（NTP 上游已保证），同一序列的 ID 单日内严格递增。
func (w *Worker) NextID(ctx context.Context, name string) (int64, error) {
	now := w.now().UTC()
	timestamp := now.Unix() - beginTimestamp

	date := now.Format("2006:01:02")
	count, err := w.store.Incr(ctx, rediskey.DailySeqKey(name, date))
	if err != nil {
		return 0, err
	}

	return timestamp<<countBits | count, nil
}
