package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromise_SingleAssignment(t *testing.T) {
	t.Parallel()
	p := NewPromise[int]()

	assert.True(t, p.Resolve(42))
	assert.False(t, p.Resolve(7), "second resolve must lose")
	assert.False(t, p.Reject(errors.New("late")), "reject after resolve must lose")

	val, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestPromise_RejectWins(t *testing.T) {
	t.Parallel()
	p := NewPromise[int]()
	boom := errors.New("boom")

	assert.True(t, p.Reject(boom))
	assert.False(t, p.Resolve(1))

	_, err := p.Await(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestPromise_ConcurrentSettlers(t *testing.T) {
	t.Parallel()
	p := NewPromise[int]()

	const settlers = 32
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < settlers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if p.Resolve(i) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins, "exactly one settlement must win")

	val, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Less(t, val, settlers)
	assert.GreaterOrEqual(t, val, 0)
}

func TestPromise_AwaitBeforeSettle(t *testing.T) {
	t.Parallel()
	p := NewPromise[string]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Resolve("ready")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	val, err := p.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready", val)
}

func TestPromise_AwaitRepeatable(t *testing.T) {
	t.Parallel()
	p := NewPromise[string]()
	p.Resolve("once")

	for i := 0; i < 3; i++ {
		val, err := p.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "once", val)
	}
}

func TestPromise_AwaitCancelled(t *testing.T) {
	t.Parallel()
	p := NewPromise[int]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Await(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// Cancellation does not consume the slot.
	p.Resolve(9)
	val, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, val)
}
