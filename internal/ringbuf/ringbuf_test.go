package ringbuf

import (
	"math/rand"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidSizes(t *testing.T) {
	t.Parallel()

	for _, size := range []int{-1, 0, 1, 3, 48, 100} {
		_, err := New(size)
		require.ErrorIs(t, err, ErrInvalidSize, "size %d", size)
	}
	for _, size := range []int{2, 8, 64, 256} {
		r, err := New(size)
		require.NoError(t, err)
		require.Equal(t, size, r.Cap())
	}
}

func TestRingHoldsAtMostCapacityMinusOne(t *testing.T) {
	t.Parallel()

	r, err := New(8)
	require.NoError(t, err)
	require.True(t, r.Empty())

	for i := 0; i < 7; i++ {
		require.True(t, r.Push(byte(i)))
	}
	require.True(t, r.Full())
	require.Equal(t, 7, r.Len())
	require.False(t, r.Push(0xFF))
	require.Equal(t, 7, r.Len())

	for i := 0; i < 7; i++ {
		b, ok := r.Pop()
		require.True(t, ok)
		require.Equal(t, byte(i), b)
	}
	_, ok := r.Pop()
	require.False(t, ok)
	require.True(t, r.Empty())
}

// Interleaves pushes and pops at random and checks FIFO order across wraps.
func TestRingRandomInterleavingPreservesOrder(t *testing.T) {
	t.Parallel()

	r, err := New(16)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))

	var next, expect byte
	for step := 0; step < 10_000; step++ {
		if rng.Intn(2) == 0 {
			if r.Push(next) {
				next++
			}
		} else if b, ok := r.Pop(); ok {
			require.Equal(t, expect, b)
			expect++
		}
		require.LessOrEqual(t, r.Len(), r.Cap()-1)
	}
	for {
		b, ok := r.Pop()
		if !ok {
			break
		}
		require.Equal(t, expect, b)
		expect++
	}
	require.Equal(t, next, expect)
}

func TestRingConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()

	const total = 100_000
	r, err := New(64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			for !r.Push(byte(i)) {
				runtime.Gosched()
			}
		}
	}()

	got := make([]byte, 0, total)
	buf := make([]byte, 13)
	for len(got) < total {
		n := r.PopInto(buf)
		if n == 0 {
			runtime.Gosched()
		}
		got = append(got, buf[:n]...)
	}
	wg.Wait()

	for i, b := range got {
		require.Equal(t, byte(i), b, "offset %d", i)
	}
	require.True(t, r.Empty())
}
