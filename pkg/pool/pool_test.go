package pool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestPoolRunsAllTasks(t *testing.T) {
	p := New(4, quietLogger())
	require.Equal(t, 4, p.Workers())

	var count atomic.Int32
	for i := 0; i < 100; i++ {
		p.Go(func() { count.Add(1) })
	}
	p.Wait()
	require.Equal(t, int32(100), count.Load())
}

func TestPoolDefaultsToCPUCount(t *testing.T) {
	p := New(0, quietLogger())
	require.Greater(t, p.Workers(), 0)
}

func TestPoolWaitBlocksUntilTasksFinish(t *testing.T) {
	p := New(2, quietLogger())

	release := make(chan struct{})
	var finished atomic.Bool
	p.Go(func() {
		<-release
		finished.Store(true)
	})

	waited := make(chan struct{})
	go func() {
		p.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a task was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after tasks finished")
	}
	require.True(t, finished.Load())
}

func TestPoolRecoversPanickingTask(t *testing.T) {
	p := New(2, quietLogger())

	var after atomic.Bool
	p.Go(func() { panic("broken flow") })
	p.Go(func() { after.Store(true) })
	p.Wait()

	require.True(t, after.Load(), "a panicking task must not take the pool down")
}
