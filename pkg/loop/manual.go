package loop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Executor for tests. Nothing runs until the test
// calls Drain, RunSpawned or Advance, and all of them execute on the calling
// goroutine.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	queue   []func()
	spawned []func()
	timers  []*manualTimer
	seq     int
}

type manualTimer struct {
	at   time.Time
	seq  int
	fn   func()
	dead bool
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

func (m *Manual) Spawn(fn func()) {
	m.mu.Lock()
	m.spawned = append(m.spawned, fn)
	m.mu.Unlock()
}

func (m *Manual) After(d time.Duration, fn func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if t.dead {
			return false
		}
		t.dead = true
		return true
	}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Drain runs queued loop tasks, including ones they post, until the queue
// is empty.
func (m *Manual) Drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}

// RunSpawned runs pending off-loop work in spawn order, then drains.
func (m *Manual) RunSpawned() {
	m.mu.Lock()
	work := m.spawned
	m.spawned = nil
	m.mu.Unlock()
	for _, fn := range work {
		fn()
	}
	m.Drain()
}

// RunNextSpawned runs only the oldest pending off-loop job, then drains.
// It reports whether there was one.
func (m *Manual) RunNextSpawned() bool {
	return m.RunSpawnedAt(0)
}

// RunSpawnedAt runs the i-th pending off-loop job, then drains. Tests use
// it to complete requests out of issue order.
func (m *Manual) RunSpawnedAt(i int) bool {
	m.mu.Lock()
	if i < 0 || i >= len(m.spawned) {
		m.mu.Unlock()
		return false
	}
	fn := m.spawned[i]
	m.spawned = append(m.spawned[:i:i], m.spawned[i+1:]...)
	m.mu.Unlock()
	fn()
	m.Drain()
	return true
}

func (m *Manual) Spawned() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spawned)
}

// Advance moves the clock forward, firing due timers in deadline order and
// draining after each.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	for {
		m.mu.Lock()
		sort.SliceStable(m.timers, func(i, j int) bool {
			if m.timers[i].at.Equal(m.timers[j].at) {
				return m.timers[i].seq < m.timers[j].seq
			}
			return m.timers[i].at.Before(m.timers[j].at)
		})
		var next *manualTimer
		for len(m.timers) > 0 {
			t := m.timers[0]
			if t.dead {
				m.timers = m.timers[1:]
				continue
			}
			if t.at.After(target) {
				break
			}
			next = t
			m.timers = m.timers[1:]
			break
		}
		if next == nil {
			m.now = target
			m.mu.Unlock()
			m.Drain()
			return
		}
		next.dead = true
		m.now = next.at
		m.mu.Unlock()
		m.Post(next.fn)
		m.Drain()
	}
}
