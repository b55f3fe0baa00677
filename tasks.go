package qiuws

import (
	"sync"
	"time"

	"github.com/tokmz/qiuws/pkg/engine"
)

// taskSet 绑定到某个连接的周期任务
// stop 之后所有任务取消，新任务不再启动
type taskSet struct {
	loop *engine.Loop

	mu      sync.Mutex
	stopped bool
	next    int
	timers  map[int]*time.Timer
}

func newTaskSet(loop *engine.Loop) *taskSet {
	return &taskSet{loop: loop, timers: make(map[int]*time.Timer)}
}

// every 每隔 interval 在事件循环上执行 fn，返回取消函数
func (ts *taskSet) every(interval time.Duration, fn func()) (cancel func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.stopped || interval <= 0 {
		return func() {}
	}
	id := ts.next
	ts.next++

	var tick func()
	tick = func() {
		ts.loop.Post(func() {
			if !ts.active(id) {
				return
			}
			fn()
			ts.mu.Lock()
			if t, ok := ts.timers[id]; ok && !ts.stopped {
				t.Reset(interval)
			}
			ts.mu.Unlock()
		})
	}
	ts.timers[id] = time.AfterFunc(interval, tick)

	return func() { ts.cancel(id) }
}

func (ts *taskSet) active(id int) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.timers[id]
	return ok && !ts.stopped
}

func (ts *taskSet) cancel(id int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[id]; ok {
		t.Stop()
		delete(ts.timers, id)
	}
}

// stop 取消全部任务
func (ts *taskSet) stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.stopped = true
	for id, t := range ts.timers {
		t.Stop()
		delete(ts.timers, id)
	}
}

// len 存活任务数
func (ts *taskSet) len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.timers)
}
