package amio_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopworks/amio"
)

type countingDelegate struct {
	mu          sync.Mutex
	taskCalls   int
	quitCalls   int
}

func (d *countingDelegate) NotifyTask() {
	d.mu.Lock()
	d.taskCalls++
	d.mu.Unlock()
}

func (d *countingDelegate) NotifyQuit() {
	d.mu.Lock()
	d.quitCalls++
	d.mu.Unlock()
}

func (d *countingDelegate) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.taskCalls, d.quitCalls
}

func TestTaskQueueFIFO(t *testing.T) {
	q := amio.NewTaskQueue(nil)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		q.PostTask(amio.TaskFunc(func() { order = append(order, i) }))
	}
	for i := 0; i < 5; i++ {
		require.True(t, q.ProcessNextTask())
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.False(t, q.ProcessNextTask())
}

func TestTaskQueueNotifiesDelegate(t *testing.T) {
	d := &countingDelegate{}
	q := amio.NewTaskQueue(d)
	q.PostTask(amio.TaskFunc(func() {}))
	taskCalls, _ := d.counts()
	assert.Equal(t, 1, taskCalls)

	q.PostQuit()
	_, quitCalls := d.counts()
	assert.Equal(t, 1, quitCalls)
	assert.True(t, q.ShouldQuit())
}

func TestTaskQueuePostDuringDrainRunsNextRound(t *testing.T) {
	q := amio.NewTaskQueue(nil)
	var ran []int
	q.PostTask(amio.TaskFunc(func() {
		ran = append(ran, 1)
		// Posted mid-drain: must not run within this same ProcessTasks call.
		q.PostTask(amio.TaskFunc(func() { ran = append(ran, 2) }))
	}))

	q.ProcessTasks(0, 0)
	assert.Equal(t, []int{1}, ran)

	q.ProcessTasks(0, 0)
	assert.Equal(t, []int{1, 2}, ran)
}

func TestTaskQueueProcessTasksRespectsNLimit(t *testing.T) {
	q := amio.NewTaskQueue(nil)
	count := 0
	for i := 0; i < 10; i++ {
		q.PostTask(amio.TaskFunc(func() { count++ }))
	}
	q.ProcessTasks(time.Second, 3)
	assert.Equal(t, 3, count)
}

func TestTaskQueueDrainCancelsPending(t *testing.T) {
	q := amio.NewTaskQueue(nil)
	cancelled := 0
	for i := 0; i < 3; i++ {
		q.PostTask(&cancelTask{onCancel: func() { cancelled++ }})
	}
	q.Drain()
	assert.Equal(t, 3, cancelled)
	assert.False(t, q.ProcessNextTask())
}

type cancelTask struct{ onCancel func() }

func (c *cancelTask) Run()    {}
func (c *cancelTask) Cancel() { c.onCancel() }

func TestTaskQueueConcurrentPost(t *testing.T) {
	q := amio.NewTaskQueue(nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.PostTask(amio.TaskFunc(func() {
				mu.Lock()
				total++
				mu.Unlock()
			}))
		}()
	}
	wg.Wait()
	for q.ProcessNextTask() {
	}
	assert.Equal(t, 50, total)
}
