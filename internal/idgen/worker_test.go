package idgen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIncr struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (f *fakeIncr) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return f.counts[key], nil
}

func TestNextIDLayout(t *testing.T) {
	store := &fakeIncr{}
	w := NewWorker(store)
	now := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	id, err := w.NextID(context.Background(), "order")
	require.NoError(t, err)

	assert.Equal(t, now.Unix()-beginTimestamp, id>>countBits)
	assert.Equal(t, int64(1), id&((1<<countBits)-1))
	// 计数器按天分 key
	assert.Equal(t, int64(1), store.counts["icr:order:2026:08:29"])
}

func TestNextIDStrictlyIncreasing(t *testing.T) {
	store := &fakeIncr{}
	w := NewWorker(store)
	now := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	w.now = func() time.Time {
		// 时钟非递减
		now = now.Add(time.Millisecond)
		return now
	}

	var prev int64
	for i := 0; i < 1000; i++ {
		id, err := w.NextID(context.Background(), "order")
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNextIDSequencesAreIndependent(t *testing.T) {
	store := &fakeIncr{}
	w := NewWorker(store)
	now := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	a1, err := w.NextID(context.Background(), "order")
	require.NoError(t, err)
	b1, err := w.NextID(context.Background(), "refund")
	require.NoError(t, err)

	// 不同序列各自从 1 开始计数
	assert.Equal(t, a1&((1<<countBits)-1), b1&((1<<countBits)-1))
}
