package transcribe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	chunks := [][]byte{[]byte("he"), []byte("llo wor"), []byte("ld")}
	for _, c := range chunks {
		q.Push(c)
	}
	require.Equal(t, 3, q.Len())

	for _, want := range chunks {
		got, ok := q.Pull(10 * time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.Pull(5 * time.Millisecond)
	assert.False(t, ok, "empty queue must time out")
}

func TestQueuePullTimeout(t *testing.T) {
	q := NewQueue()
	start := time.Now()
	_, ok := q.Pull(20 * time.Millisecond)
	require.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueuePullWaitsForPush(t *testing.T) {
	q := NewQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push([]byte("late"))
	}()
	got, ok := q.Pull(time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte("late"), got)
}

func TestQueueOrderUnderLoad(t *testing.T) {
	q := NewQueue()
	const n = 1000

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			got, ok := q.Pull(time.Second)
			if !ok {
				t.Errorf("pull %d timed out", i)
				return
			}
			want := fmt.Sprintf("chunk-%d", i)
			if string(got) != want {
				t.Errorf("out of order: want %s got %s", want, got)
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		q.Push([]byte(fmt.Sprintf("chunk-%d", i)))
	}
	<-done
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue()
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Close()

	// Already-queued chunks stay pullable after close.
	got, ok := q.Pull(10 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), got)
	got, ok = q.Pull(10 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), got)

	// Drained and closed: immediate false, no timeout wait.
	start := time.Now()
	_, ok = q.Pull(time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// Pushes after close are dropped.
	q.Push([]byte("c"))
	assert.Equal(t, 0, q.Len())
}
