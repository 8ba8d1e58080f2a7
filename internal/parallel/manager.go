// Package parallel bounds the number of external comparison processes running
// at the same time across every session in the process.
package parallel

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/semaphore"
)

// Capacity limits.
const (
	MinSlots = 1
	MaxSlots = 128
)

// Manager hands out a fixed number of slots to callers in FIFO order.
// A released slot goes directly to the longest waiting caller.
type Manager struct {
	sem      *semaphore.Weighted
	capacity int
	active   atomic.Int64
	waiting  atomic.Int64
}

// NewManager creates a manager with the given capacity, clamped to [1,128].
// A capacity <= 0 selects the number of logical CPUs.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = CPUCount()
	}
	capacity = Clamp(capacity)
	return &Manager{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Clamp limits n to [MinSlots, MaxSlots].
func Clamp(n int) int {
	return max(MinSlots, min(n, MaxSlots))
}

// CPUCount returns the number of logical CPUs.
func CPUCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Acquire blocks until a slot is available or ctx is done.
func (m *Manager) Acquire(ctx context.Context) error {
	m.waiting.Add(1)
	err := m.sem.Acquire(ctx, 1)
	m.waiting.Add(-1)
	if err != nil {
		return err
	}
	m.active.Add(1)
	return nil
}

// Release returns a slot obtained by Acquire.
func (m *Manager) Release() {
	m.active.Add(-1)
	m.sem.Release(1)
}

// RunExclusive runs fn while holding a slot. The slot is released however fn
// returns, including by panic.
func (m *Manager) RunExclusive(ctx context.Context, fn func(context.Context) error) error {
	if err := m.Acquire(ctx); err != nil {
		return err
	}
	defer m.Release()
	return fn(ctx)
}

// Capacity returns the total number of slots.
func (m *Manager) Capacity() int {
	return m.capacity
}

// Active returns the number of slots currently held.
func (m *Manager) Active() int {
	return int(m.active.Load())
}

// Waiting returns the number of callers blocked in Acquire.
func (m *Manager) Waiting() int {
	return int(m.waiting.Load())
}

// Available returns the number of free slots.
func (m *Manager) Available() int {
	return m.capacity - m.Active()
}

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
	defaultCap  int
)

// Init sets the capacity of the process-wide manager. It only has an effect
// before the first call to Default.
func Init(capacity int) {
	defaultCap = capacity
}

// Default returns the process-wide manager shared by all sessions.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultMgr = NewManager(defaultCap)
		slog.Debug("parallelization manager initialized", "slots", defaultMgr.Capacity())
	})
	return defaultMgr
}
