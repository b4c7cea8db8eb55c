//go:build !windows
// +build !windows

package amio_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loopworks/amio"
)

func TestEventLoopCrossThreadPostAndQuit(t *testing.T) {
	l, err := amio.NewEventLoopForIO(nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var ran []int
	done := make(chan struct{})

	go func() {
		defer close(done)
		l.Loop()
	}()

	for i := 0; i < 5; i++ {
		i := i
		l.PostTask(amio.TaskFunc(func() {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		}))
	}
	// Loop checks ShouldQuit before each task, so the quit is posted as a
	// task queued behind the five rather than set directly.
	l.PostTask(amio.TaskFunc(l.PostQuit))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Loop did not return after PostQuit")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ran, 5)
}
