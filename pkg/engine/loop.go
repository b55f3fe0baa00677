package engine

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

// Loop 单线程事件循环
//
// 引擎的所有回调（HTTP 请求、升级、open/message/ping/pong/drain/close、aborted）
// 都投递到同一个 Loop 上串行执行：回调之间不会并发，同一连接的事件保持到达顺序。
type Loop struct {
	mu     sync.Mutex
	tasks  *queue.Queue
	wakeup chan struct{}
	log    *zap.Logger
}

var (
	defaultLoop     *Loop
	defaultLoopOnce sync.Once
)

// DefaultLoop 进程级事件循环
func DefaultLoop() *Loop {
	defaultLoopOnce.Do(func() {
		defaultLoop = NewLoop(zap.NewNop())
	})
	return defaultLoop
}

// NewLoop 创建并启动事件循环
func NewLoop(log *zap.Logger) *Loop {
	l := &Loop{
		tasks:  queue.New(),
		wakeup: make(chan struct{}, 1),
		log:    log,
	}
	go l.run()
	return l
}

// Post 投递任务，从不阻塞，可在 Loop 内部调用
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks.Add(fn)
	l.mu.Unlock()

	select {
	case l.wakeup <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	for range l.wakeup {
		for {
			l.mu.Lock()
			if l.tasks.Length() == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.tasks.Remove().(func())
			l.mu.Unlock()

			l.exec(fn)
		}
	}
}

// exec 执行单个任务，panic 不会终止循环
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("event loop task panic", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
		}
	}()
	fn()
}
