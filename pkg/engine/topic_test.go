package engine

import (
	"testing"

	"github.com/eapache/queue"
	"github.com/stretchr/testify/assert"
)

// newTestSocket 不带网络连接的 WebSocket，发送只进入队列
func newTestSocket(b *Behavior) *WebSocket {
	if b == nil {
		b = &Behavior{}
	}
	return &WebSocket{
		behavior: b,
		queue:    queue.New(),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func TestTopicTreeSubscribe(t *testing.T) {
	tree := NewTopicTree()
	ws := newTestSocket(nil)

	assert.True(t, tree.Subscribe(ws, "b"))
	assert.True(t, tree.Subscribe(ws, "a"))
	assert.False(t, tree.Subscribe(ws, "a"))
	assert.Equal(t, []string{"a", "b"}, tree.Topics(ws))
	assert.True(t, tree.IsSubscribed(ws, "a"))
	assert.Equal(t, 1, tree.NumSubscribers("a"))

	assert.True(t, tree.Unsubscribe(ws, "a"))
	assert.False(t, tree.Unsubscribe(ws, "a"))
	assert.Equal(t, []string{"b"}, tree.Topics(ws))

	tree.UnsubscribeAll(ws)
	assert.Empty(t, tree.Topics(ws))
	assert.Zero(t, tree.NumSubscribers("b"))
}

func TestTopicTreeRejectsClosedSocket(t *testing.T) {
	tree := NewTopicTree()
	ws := newTestSocket(nil)
	ws.closed = true
	assert.False(t, tree.Subscribe(ws, "a"))
}

func TestTopicTreePublish(t *testing.T) {
	tree := NewTopicTree()
	from := newTestSocket(nil)
	to := newTestSocket(nil)
	other := newTestSocket(nil)

	tree.Subscribe(from, "room")
	tree.Subscribe(to, "room")
	tree.Subscribe(other, "elsewhere")

	msg := []byte("hello")
	assert.Equal(t, 1, tree.Publish(from, "room", msg, false, false))
	assert.Equal(t, 0, from.GetBufferedAmount())
	assert.Equal(t, len(msg), to.GetBufferedAmount())
	assert.Equal(t, 0, other.GetBufferedAmount())

	// 服务端广播不排除任何订阅者
	assert.Equal(t, 2, tree.Publish(nil, "room", msg, false, false))
	assert.Equal(t, 0, tree.Publish(nil, "empty", msg, false, false))
}

func TestSendBackpressure(t *testing.T) {
	ws := newTestSocket(&Behavior{MaxBackpressure: 10})

	assert.Equal(t, SendSuccess, ws.Send(make([]byte, 8), true, false))
	assert.Equal(t, SendBackpressure, ws.Send(make([]byte, 8), true, false))
	assert.Equal(t, SendDropped, ws.Send(make([]byte, 1), true, false))
	assert.Equal(t, 16, ws.GetBufferedAmount())

	ws.closing = true
	assert.Equal(t, SendDropped, ws.Send([]byte("x"), false, false))
}

func TestSendCopiesMessage(t *testing.T) {
	ws := newTestSocket(nil)
	msg := []byte("abc")
	ws.Send(msg, false, false)
	msg[0] = 'z'

	f := ws.queue.Peek().(*frame)
	assert.Equal(t, []byte("abc"), f.data)
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "success", SendSuccess.String())
	assert.Equal(t, "backpressure", SendBackpressure.String())
	assert.Equal(t, "dropped", SendDropped.String())
	assert.Equal(t, "shared", SharedCompressor.String())
	assert.Equal(t, "dedicated", DedicatedCompressor.String())
	assert.Equal(t, "disabled", CompressionDisabled.String())
}
