package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingFIFO(t *testing.T) {
	r := New[int](3)
	require.True(t, r.Empty())

	require.NoError(t, r.Push(1))
	require.NoError(t, r.Push(2))
	require.NoError(t, r.Push(3))
	assert.True(t, r.Full())

	assert.ErrorIs(t, r.Push(4), ErrFull)

	v, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	require.NoError(t, r.Push(4))

	for _, want := range []int{2, 3, 4} {
		v, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	assert.True(t, r.Empty())
	_, ok = r.Pop()
	assert.False(t, ok)
}

func TestRingPeekDoesNotConsume(t *testing.T) {
	r := New[string](2)
	require.NoError(t, r.Push("a"))

	v, ok := r.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, r.Len())

	v, ok = r.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestRingReset(t *testing.T) {
	r := New[int](2)
	require.NoError(t, r.Push(1))
	r.Reset()
	assert.True(t, r.Empty())
	assert.Equal(t, 2, r.Cap())
}

func TestTimerExpiresOnce(t *testing.T) {
	var tm Timer
	tm.Set(0, 100)
	assert.False(t, tm.Expired(50))
	assert.True(t, tm.Expired(100))
	assert.False(t, tm.Expired(101))
}

func TestTimerStoppedByZero(t *testing.T) {
	var tm Timer
	tm.Set(0, 100)
	tm.Set(50, 0)
	assert.False(t, tm.Running(60))
	assert.False(t, tm.Expired(1000))
}

func TestTimerRepeatCarriesOverrun(t *testing.T) {
	var tm Timer
	tm.SetRepeating(0, 10)
	// serviced late, 5ms overrun
	assert.True(t, tm.Expired(15))
	// next fire should land at 15 + (10 - 5) = 20, not 25
	assert.False(t, tm.Expired(19))
	assert.True(t, tm.Expired(20))
}

func TestTimerRunningVsExpired(t *testing.T) {
	var tm Timer
	tm.Set(0, 10)
	assert.True(t, tm.Running(5))
	assert.False(t, tm.Running(10))
}
