package barrier

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBarrier(trigger func()) *Barrier {
	level, _ := log.ToLevel("error")
	return New(trigger, log.NewTestLogger(level))
}

func isDone(b *Barrier) bool {
	select {
	case <-b.Done():
		return true
	default:
		return false
	}
}

func TestThreeSessionsTwoFinished(t *testing.T) {
	var fired atomic.Int32
	b := newTestBarrier(func() { fired.Add(1) })

	b.Join("a")
	b.Join("b")
	b.Join("c")

	assert.False(t, b.NotifyFinished("a"))
	assert.False(t, b.NotifyFinished("b"))
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, isDone(b))

	finished, total := b.Counts()
	assert.Equal(t, 2, finished)
	assert.Equal(t, 3, total)

	assert.True(t, b.NotifyFinished("c"))
	assert.Equal(t, int32(1), fired.Load())
	assert.True(t, isDone(b))

	assert.False(t, b.NotifyFinished("c"))
	assert.Equal(t, int32(1), fired.Load())
}

func TestConcurrentNotifyFiresOnce(t *testing.T) {
	const n = 64
	for round := 0; round < 20; round++ {
		var fired atomic.Int32
		b := newTestBarrier(func() { fired.Add(1) })

		for i := 0; i < n; i++ {
			b.Join(fmt.Sprintf("s%d", i))
		}

		var winners atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				<-start
				if b.NotifyFinished(id) {
					winners.Add(1)
				}
			}(fmt.Sprintf("s%d", i))
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), fired.Load())
		require.Equal(t, int32(1), winners.Load())
	}
}

func TestDoesNotFireBeforeAllFinished(t *testing.T) {
	const n = 10
	var fired atomic.Int32
	b := newTestBarrier(func() { fired.Add(1) })

	for i := 0; i < n; i++ {
		b.Join(fmt.Sprintf("s%d", i))
	}
	for i := 0; i < n-1; i++ {
		b.NotifyFinished(fmt.Sprintf("s%d", i))
		require.Equal(t, int32(0), fired.Load())
	}
	b.NotifyFinished(fmt.Sprintf("s%d", n-1))
	assert.Equal(t, int32(1), fired.Load())
}

func TestEmptyBarrierNeverFires(t *testing.T) {
	b := newTestBarrier(nil)

	b.Join("a")
	assert.False(t, b.Leave("a"))
	assert.False(t, isDone(b))
}

func TestLeaveCompletesBarrier(t *testing.T) {
	var fired atomic.Int32
	b := newTestBarrier(func() { fired.Add(1) })

	b.Join("a")
	b.Join("b")
	assert.False(t, b.NotifyFinished("a"))

	assert.True(t, b.Leave("b"))
	assert.Equal(t, int32(1), fired.Load())

	assert.False(t, b.Leave("b"))
}

func TestLeaveAfterFinishIsIgnored(t *testing.T) {
	b := newTestBarrier(nil)

	b.Join("a")
	b.Join("b")
	b.NotifyFinished("a")

	assert.False(t, b.Leave("a"))
	finished, total := b.Counts()
	assert.Equal(t, 1, finished)
	assert.Equal(t, 2, total)
}

func TestJoinAfterFireIgnored(t *testing.T) {
	b := newTestBarrier(nil)

	b.Join("a")
	require.True(t, b.NotifyFinished("a"))

	b.Join("late")
	finished, total := b.Counts()
	assert.Equal(t, 1, finished)
	assert.Equal(t, 1, total)
}
