package seckill

import (
	"context"
	"sync"
	"testing"
	"time"

	"dianping/internal/model"
	"dianping/internal/order"
	"dianping/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// memOrders 内存版持久层，事务即一把互斥锁。
type memOrders struct {
	mu       sync.Mutex
	vouchers map[int64]*model.Voucher
	saved    []model.VoucherOrder
}

func newMemOrders() *memOrders {
	return &memOrders{vouchers: map[int64]*model.Voucher{}}
}

func (m *memOrders) GetVoucher(_ context.Context, id int64) (*model.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vouchers[id], nil
}

func (m *memOrders) InTx(_ context.Context, fn func(tx order.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memTx{m: m})
}

func (m *memOrders) savedOrders() []model.VoucherOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.VoucherOrder, len(m.saved))
	copy(out, m.saved)
	return out
}

type memTx struct{ m *memOrders }

func (t memTx) CountOrders(_ context.Context, userID, voucherID int64) (int64, error) {
	var n int64
	for _, o := range t.m.saved {
		if o.UserID == userID && o.VoucherID == voucherID {
			n++
		}
	}
	return n, nil
}

func (t memTx) DecrementStock(_ context.Context, voucherID int64) (bool, error) {
	v, ok := t.m.vouchers[voucherID]
	if !ok || v.Stock <= 0 {
		return false, nil
	}
	v.Stock--
	return true, nil
}

func (t memTx) SaveOrder(_ context.Context, o *model.VoucherOrder) error {
	t.m.saved = append(t.m.saved, *o)
	return nil
}

type fakeLocker struct {
	mu     sync.Mutex
	deny   bool
	locked map[string]int
}

func (l *fakeLocker) TryLock(_ context.Context, key string) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny {
		return nil, false, nil
	}
	if l.locked == nil {
		l.locked = map[string]int{}
	}
	l.locked[key]++
	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.locked[key]--
		return nil
	}
	return release, true, nil
}

func (l *fakeLocker) held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked[key] > 0
}

type fakePending struct {
	mu      sync.Mutex
	entries []string
}

func (p *fakePending) LRange(_ context.Context, _ string, _, _ int64) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.entries))
	copy(out, p.entries)
	return out, nil
}

func (p *fakePending) LRem(_ context.Context, _ string, _ int64, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e == value {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (p *fakePending) add(tasks ...OrderTask) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range tasks {
		p.entries = append(p.entries, t.Descriptor())
	}
}

func (p *fakePending) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

type fakeEvents struct {
	mu   sync.Mutex
	msgs []queue.OrderMessage
}

func (e *fakeEvents) Publish(_ context.Context, msg queue.OrderMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
	return nil
}

func (e *fakeEvents) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.msgs)
}

type workerFixture struct {
	worker  *Worker
	orders  *memOrders
	locks   *fakeLocker
	pending *fakePending
	events  *fakeEvents
	tasks   chan OrderTask
	logs    *observer.ObservedLogs
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	f := &workerFixture{
		orders:  newMemOrders(),
		locks:   &fakeLocker{},
		pending: &fakePending{},
		events:  &fakeEvents{},
		tasks:   make(chan OrderTask, 64),
		logs:    logs,
	}
	f.worker = NewWorker(zap.New(core), f.orders, f.locks, f.tasks, f.pending, f.events)
	return f
}

func (f *workerFixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// errorLogged 是否出现过含 msg 的 error 级日志。
func (f *workerFixture) errorLogged(msg string) bool {
	for _, e := range f.logs.All() {
		if e.Level == zap.ErrorLevel && e.Message == msg {
			return true
		}
	}
	return false
}

func TestWorkerPersistsAdmittedOrder(t *testing.T) {
	f := newWorkerFixture(t)
	f.orders.vouchers[5] = &model.Voucher{ID: 5, Stock: 10}

	task := OrderTask{OrderID: 1001, UserID: 77, VoucherID: 5}
	f.pending.add(task)
	f.run(t)
	f.tasks <- task

	assert.Eventually(t, func() bool {
		return len(f.orders.savedOrders()) == 1 && f.pending.size() == 0 &&
			!f.locks.held("lock:order:77")
	}, time.Second, 5*time.Millisecond)

	saved := f.orders.savedOrders()[0]
	assert.Equal(t, int64(1001), saved.ID)
	assert.Equal(t, int64(77), saved.UserID)
	assert.Equal(t, int64(5), saved.VoucherID)
	assert.Equal(t, int64(9), f.orders.vouchers[5].Stock)
	assert.Equal(t, 1, f.events.count())
}

func TestWorkerSkipsAlreadyPersistedOrder(t *testing.T) {
	f := newWorkerFixture(t)
	f.orders.vouchers[5] = &model.Voucher{ID: 5, Stock: 10}
	f.orders.saved = []model.VoucherOrder{{ID: 900, UserID: 77, VoucherID: 5}}

	task := OrderTask{OrderID: 1001, UserID: 77, VoucherID: 5}
	f.pending.add(task)
	f.run(t)
	f.tasks <- task

	assert.Eventually(t, func() bool {
		return f.pending.size() == 0
	}, time.Second, 5*time.Millisecond)

	// 权威检查挡掉重复：不新增行、不扣库存、不发事件
	assert.Len(t, f.orders.savedOrders(), 1)
	assert.Equal(t, int64(10), f.orders.vouchers[5].Stock)
	assert.Equal(t, 0, f.events.count())
}

func TestWorkerAlertsOnStockDivergence(t *testing.T) {
	f := newWorkerFixture(t)
	// 持久层库存已为 0，但准入已放行：必须暴露为 error 级告警
	f.orders.vouchers[5] = &model.Voucher{ID: 5, Stock: 0}

	task := OrderTask{OrderID: 1001, UserID: 77, VoucherID: 5}
	f.pending.add(task)
	f.run(t)
	f.tasks <- task

	assert.Eventually(t, func() bool {
		return f.errorLogged("stock counters diverged: durable decrement failed after admission")
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.orders.savedOrders())
	assert.Equal(t, 0, f.events.count())
}

func TestWorkerRecoversPendingListOnStartup(t *testing.T) {
	f := newWorkerFixture(t)
	f.orders.vouchers[5] = &model.Voucher{ID: 5, Stock: 10}

	// 上次崩溃遗留的任务只存在于持久列表中，不在内存队列里
	f.pending.add(
		OrderTask{OrderID: 1001, UserID: 77, VoucherID: 5},
		OrderTask{OrderID: 1002, UserID: 78, VoucherID: 5},
	)
	f.run(t)

	assert.Eventually(t, func() bool {
		return len(f.orders.savedOrders()) == 2 && f.pending.size() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(8), f.orders.vouchers[5].Stock)
}

func TestWorkerDropsMalformedDescriptor(t *testing.T) {
	f := newWorkerFixture(t)
	f.pending.mu.Lock()
	f.pending.entries = []string{"not-a-descriptor"}
	f.pending.mu.Unlock()

	f.run(t)

	assert.Eventually(t, func() bool {
		return f.pending.size() == 0 && f.errorLogged("drop malformed pending order")
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerDropsTaskWhenLockDenied(t *testing.T) {
	f := newWorkerFixture(t)
	f.orders.vouchers[5] = &model.Voucher{ID: 5, Stock: 10}
	f.locks.deny = true

	task := OrderTask{OrderID: 1001, UserID: 77, VoucherID: 5}
	f.pending.add(task)
	f.run(t)
	f.tasks <- task

	assert.Eventually(t, func() bool {
		return f.errorLogged("order lock held, drop task") && f.pending.size() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.orders.savedOrders())
}

func TestWorkerEventualConsistencyNeverSilent(t *testing.T) {
	f := newWorkerFixture(t)
	// 两张券：一张正常，一张库存已漂移
	f.orders.vouchers[5] = &model.Voucher{ID: 5, Stock: 1}
	f.orders.vouchers[6] = &model.Voucher{ID: 6, Stock: 0}

	tasks := []OrderTask{
		{OrderID: 1001, UserID: 1, VoucherID: 5},
		{OrderID: 1002, UserID: 2, VoucherID: 6},
	}
	f.pending.add(tasks...)
	f.run(t)
	for _, task := range tasks {
		f.tasks <- task
	}

	// 每个状态 0 的准入要么落库、要么留下 error 级日志，绝不无声丢失
	assert.Eventually(t, func() bool {
		persisted := len(f.orders.savedOrders()) == 1
		alerted := f.errorLogged("stock counters diverged: durable decrement failed after admission")
		return persisted && alerted && f.pending.size() == 0
	}, time.Second, 5*time.Millisecond)

	require.Len(t, f.orders.savedOrders(), 1)
	assert.Equal(t, int64(1001), f.orders.savedOrders()[0].ID)
}
