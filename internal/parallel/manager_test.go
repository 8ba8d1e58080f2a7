package parallel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-5, 1},
		{0, 1},
		{1, 1},
		{16, 16},
		{128, 128},
		{500, 128},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clamp(tt.in), "Clamp(%d)", tt.in)
	}
}

func TestNewManagerDefaultsToCPUCount(t *testing.T) {
	m := NewManager(0)

	assert.Equal(t, Clamp(CPUCount()), m.Capacity())
	assert.Equal(t, m.Capacity(), m.Available())
	assert.Equal(t, 0, m.Active())
}

func TestNewManagerClampsCapacity(t *testing.T) {
	assert.Equal(t, MaxSlots, NewManager(1000).Capacity())
}

func TestAcquireRelease(t *testing.T) {
	m := NewManager(2)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx))
	require.NoError(t, m.Acquire(ctx))
	assert.Equal(t, 2, m.Active())
	assert.Equal(t, 0, m.Available())

	m.Release()
	assert.Equal(t, 1, m.Active())
	m.Release()
	assert.Equal(t, 2, m.Available())
}

func TestAcquireHonorsContext(t *testing.T) {
	m := NewManager(1)
	require.NoError(t, m.Acquire(context.Background()))
	defer m.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, m.Active())
}

func TestWaitersServedInFIFOOrder(t *testing.T) {
	m := NewManager(1)
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx))

	const waiters = 5
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.RunExclusive(ctx, func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Let waiter i enqueue before waiter i+1.
		require.Eventually(t, func() bool { return m.Waiting() == i+1 }, time.Second, time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	m.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestActiveNeverExceedsCapacity(t *testing.T) {
	m := NewManager(3)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		running int
		peak    int
		wg      sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.RunExclusive(ctx, func(context.Context) error {
				mu.Lock()
				running++
				peak = max(peak, running)
				mu.Unlock()

				assert.LessOrEqual(t, m.Active(), m.Capacity())
				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 3)
	assert.Equal(t, 0, m.Active())
}

func TestRunExclusiveReleasesOnPanic(t *testing.T) {
	m := NewManager(1)

	assert.Panics(t, func() {
		_ = m.RunExclusive(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, 0, m.Active())
	assert.Equal(t, 1, m.Available())
}

func TestRunExclusivePropagatesError(t *testing.T) {
	m := NewManager(1)
	want := assert.AnError

	err := m.RunExclusive(context.Background(), func(context.Context) error { return want })

	assert.ErrorIs(t, err, want)
	assert.Equal(t, 0, m.Active())
}
