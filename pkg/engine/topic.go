package engine

import (
	"slices"
	"sync"
)

// TopicTree 进程内 topic 订阅索引
type TopicTree struct {
	mu          sync.RWMutex
	subscribers map[string]map[*WebSocket]struct{}
	topics      map[*WebSocket]map[string]struct{}
}

// NewTopicTree 创建 TopicTree
func NewTopicTree() *TopicTree {
	return &TopicTree{
		subscribers: make(map[string]map[*WebSocket]struct{}),
		topics:      make(map[*WebSocket]map[string]struct{}),
	}
}

// Subscribe 订阅，已订阅或连接已关闭时返回 false
func (t *TopicTree) Subscribe(ws *WebSocket, topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ws.Closed() {
		return false
	}
	subs := t.subscribers[topic]
	if subs == nil {
		subs = make(map[*WebSocket]struct{})
		t.subscribers[topic] = subs
	}
	if _, ok := subs[ws]; ok {
		return false
	}
	subs[ws] = struct{}{}

	own := t.topics[ws]
	if own == nil {
		own = make(map[string]struct{})
		t.topics[ws] = own
	}
	own[topic] = struct{}{}
	return true
}

// Unsubscribe 取消订阅，未订阅时返回 false
func (t *TopicTree) Unsubscribe(ws *WebSocket, topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(ws, topic)
}

func (t *TopicTree) removeLocked(ws *WebSocket, topic string) bool {
	subs := t.subscribers[topic]
	if _, ok := subs[ws]; !ok {
		return false
	}
	delete(subs, ws)
	if len(subs) == 0 {
		delete(t.subscribers, topic)
	}
	own := t.topics[ws]
	delete(own, topic)
	if len(own) == 0 {
		delete(t.topics, ws)
	}
	return true
}

// UnsubscribeAll 移除连接的全部订阅
func (t *TopicTree) UnsubscribeAll(ws *WebSocket) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic := range t.topics[ws] {
		t.removeLocked(ws, topic)
	}
}

// IsSubscribed 是否已订阅
func (t *TopicTree) IsSubscribed(ws *WebSocket, topic string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.subscribers[topic][ws]
	return ok
}

// Topics 连接已订阅的 topic（有序）
func (t *TopicTree) Topics(ws *WebSocket) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.topics[ws]))
	for topic := range t.topics[ws] {
		out = append(out, topic)
	}
	slices.Sort(out)
	return out
}

// NumSubscribers topic 的订阅者数量
func (t *TopicTree) NumSubscribers(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers[topic])
}

// Publish 向 topic 的订阅者广播，from 不为 nil 时跳过发送者
// 返回进入发送队列的连接数
func (t *TopicTree) Publish(from *WebSocket, topic string, msg []byte, isBinary, compress bool) int {
	t.mu.RLock()
	targets := make([]*WebSocket, 0, len(t.subscribers[topic]))
	for ws := range t.subscribers[topic] {
		if ws != from {
			targets = append(targets, ws)
		}
	}
	t.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}
	// 帧只读，所有订阅者共享同一份数据
	data := append([]byte(nil), msg...)
	n := 0
	for _, ws := range targets {
		if ws.send(data, isBinary, compress) != SendDropped {
			n++
		}
	}
	return n
}
