package session

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func startedLoop(t *testing.T, buffer int) *Loop {
	t.Helper()
	l := NewLoop(buffer, quietLogger(), nil)
	require.NoError(t, l.Start())
	t.Cleanup(l.Stop)
	return l
}

func TestLoop_InvokeRunsTask(t *testing.T) {
	l := startedLoop(t, 8)

	var ran bool
	require.NoError(t, l.Invoke(func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_InvokeFromLoopRunsInline(t *testing.T) {
	// GOAL: A closure already executing on the loop can invoke another
	// mutation without deadlocking on its own task queue.
	l := startedLoop(t, 1)

	var inner bool
	require.NoError(t, l.Invoke(func() {
		_ = l.Invoke(func() { inner = true })
	}))
	assert.True(t, inner, "nested Invoke MUST run inline on the loop goroutine")
}

func TestLoop_PostFromForeignGoroutine(t *testing.T) {
	l := startedLoop(t, 8)

	var count atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			l.Post("event", func() { count.Add(1) })
		}
	}()
	<-done

	assert.Eventually(t, func() bool { return count.Load() == 10 },
		time.Second, 5*time.Millisecond)
}

func TestLoop_PostFromLoopRunsInline(t *testing.T) {
	l := startedLoop(t, 8)

	var inner bool
	require.NoError(t, l.Invoke(func() {
		l.Post("event", func() { inner = true })
		assert.True(t, inner, "Post from the loop goroutine MUST apply immediately")
	}))
}

func TestLoop_PostAfterStopDrops(t *testing.T) {
	l := NewLoop(8, quietLogger(), nil)
	require.NoError(t, l.Start())
	l.Stop()

	accepted := l.Post("late-event", func() {
		t.Error("task ran after loop stop")
	})
	assert.False(t, accepted, "event after shutdown MUST be dropped, not applied")

	assert.Error(t, l.Invoke(func() {}))
}

func TestLoop_StopDrainsAcceptedTasks(t *testing.T) {
	l := NewLoop(64, quietLogger(), nil)
	require.NoError(t, l.Start())

	// Park the loop so posted tasks pile up in the buffer.
	gate := make(chan struct{})
	l.Post("gate", func() { <-gate })

	var count atomic.Int32
	for i := 0; i < 20; i++ {
		require.True(t, l.Post("event", func() { count.Add(1) }))
	}
	close(gate)
	l.Stop()

	assert.Equal(t, int32(20), count.Load(), "accepted tasks MUST run before shutdown completes")
}

func TestLoop_PostDropsWhenBufferFull(t *testing.T) {
	l := NewLoop(1, quietLogger(), nil)
	require.NoError(t, l.Start())

	gate := make(chan struct{})
	l.Post("gate", func() { <-gate })

	// One slot fills the buffer; the next post cannot block the producer.
	filled := false
	dropped := false
	for i := 0; i < 10; i++ {
		if l.Post("event", func() {}) {
			filled = true
		} else {
			dropped = true
		}
	}
	assert.True(t, filled)
	assert.True(t, dropped, "a full buffer MUST drop instead of blocking")

	close(gate)
	l.Stop()
}

func TestLoop_StartTwiceFails(t *testing.T) {
	l := startedLoop(t, 8)
	assert.Error(t, l.Start())
}
