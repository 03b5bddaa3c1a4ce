package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInOrder(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	require.NoError(t, l.Do(ctx, func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoopSurvivesPanic(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Do(ctx, func() { ran = true }))
	assert.True(t, ran)
}

func TestDoAfterStop(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()
	<-l.Done()
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrStopped)
}

func TestAfterCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var fired atomic.Int32
	stop := l.After(20*time.Millisecond, func() { fired.Add(1) })
	assert.True(t, stop())
	assert.False(t, stop())

	l.After(5*time.Millisecond, func() { fired.Add(10) })
	assert.Eventually(t, func() bool { return fired.Load() == 10 }, time.Second, 5*time.Millisecond)
}

func TestSpawnPostsBack(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var result atomic.Value
	l.Spawn(func() {
		v := "from-spawn"
		l.Post(func() { result.Store(v) })
	})
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Do(ctx, func() {}))
	assert.Equal(t, "from-spawn", result.Load())
}

func TestManualAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	m := NewManual(start)
	var order []string
	m.After(2*time.Second, func() { order = append(order, "b") })
	m.After(time.Second, func() {
		order = append(order, "a")
		m.After(500*time.Millisecond, func() { order = append(order, "a2") })
	})
	cancel := m.After(1500*time.Millisecond, func() { order = append(order, "x") })
	assert.True(t, cancel())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a"}, order)
	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "a2", "b"}, order)
	assert.Equal(t, start.Add(2*time.Second), m.Now())
}

func TestManualSpawn(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var got []string
	m.Spawn(func() { m.Post(func() { got = append(got, "one") }) })
	m.Spawn(func() { m.Post(func() { got = append(got, "two") }) })
	assert.Equal(t, 2, m.Spawned())
	assert.True(t, m.RunNextSpawned())
	assert.Equal(t, []string{"one"}, got)
	m.RunSpawned()
	assert.Equal(t, []string{"one", "two"}, got)
	assert.False(t, m.RunNextSpawned())
}
