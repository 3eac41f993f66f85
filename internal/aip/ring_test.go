package aip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCaptureRingReadsInOrder(t *testing.T) {
	t.Parallel()

	r := NewCaptureRing(10)
	start := uint64(0)
	reader := r.NewReader(&start)

	r.Write([]byte("a"))
	r.Write([]byte("b"))

	f1, overrun, ok := reader.Read()
	require.True(t, ok)
	require.False(t, overrun)
	require.Equal(t, "a", string(f1))

	f2, overrun, ok := reader.Read()
	require.True(t, ok)
	require.False(t, overrun)
	require.Equal(t, "b", string(f2))
}

func TestCaptureRingOverrunRepositions(t *testing.T) {
	t.Parallel()

	r := NewCaptureRing(2)
	start := uint64(0)
	reader := r.NewReader(&start)

	r.Write([]byte("a"))
	r.Write([]byte("b"))
	r.Write([]byte("c")) // drops "a", reader's start index now stale

	_, overrun, ok := reader.Read()
	require.True(t, ok)
	require.True(t, overrun)
}

func TestCaptureRingCloseEndsReaders(t *testing.T) {
	t.Parallel()

	r := NewCaptureRing(4)
	reader := r.NewReader(nil)

	done := make(chan struct{})
	go func() {
		_, _, ok := reader.Read()
		require.False(t, ok)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader did not observe close")
	}
}
