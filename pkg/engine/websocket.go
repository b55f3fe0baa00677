package engine

import (
	"compress/flate"
	"errors"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	closeGrace = 4 * time.Second

	// CloseAbnormal 连接未经 close 帧断开（被强制关闭、超时或网络错误）
	CloseAbnormal = websocket.CloseAbnormalClosure
	// CloseMessageTooBig 消息超过 MaxPayloadLength
	CloseMessageTooBig = websocket.CloseMessageTooBig
)

type frameKind int

const (
	frameText frameKind = iota
	frameBinary
	framePing
	frameClose
)

type frame struct {
	kind     frameKind
	data     []byte
	compress bool
	code     int
}

// WebSocket 原始 WebSocket 句柄
//
// 出站帧进入写队列（eapache/queue），由单独的写 goroutine 发送；
// 入站帧由读 goroutine 接收后投递到 Loop。
type WebSocket struct {
	app        *App
	behavior   *Behavior
	conn       *websocket.Conn
	userData   any
	remoteAddr string
	topics     *TopicTree

	mu            sync.Mutex
	queue         *queue.Queue
	buffered      int
	backpressured bool
	corked        int
	closing       bool // 已排队 close 帧
	closed        bool
	closeCode     int
	closeMsg      []byte

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// 仅在 Loop 上访问
	closeDelivered bool
}

func newWebSocket(a *App, b *Behavior, conn *websocket.Conn, userData any, remoteAddr string) *WebSocket {
	topics := b.Topics
	if topics == nil {
		topics = a.topics
	}
	return &WebSocket{
		app:        a,
		behavior:   b,
		conn:       conn,
		userData:   userData,
		remoteAddr: remoteAddr,
		topics:     topics,
		queue:      queue.New(),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func (ws *WebSocket) start() {
	b := ws.behavior
	if b.Compression == DedicatedCompressor {
		_ = ws.conn.SetCompressionLevel(flate.BestCompression)
	}
	if b.MaxPayloadLength > 0 {
		ws.conn.SetReadLimit(b.MaxPayloadLength)
	}

	ws.app.loop.Post(func() {
		if b.Open != nil {
			b.Open(ws)
		}
	})
	go ws.readLoop()
	go ws.writeLoop()
}

// post 投递连接事件；close 事件送达后不再投递任何事件
func (ws *WebSocket) post(fn func()) {
	ws.app.loop.Post(func() {
		if !ws.closeDelivered {
			fn()
		}
	})
}

// touch 刷新空闲超时
func (ws *WebSocket) touch() {
	if d := ws.behavior.IdleTimeout; d > 0 {
		_ = ws.conn.SetReadDeadline(time.Now().Add(d))
	}
}

func (ws *WebSocket) readLoop() {
	b := ws.behavior
	ws.touch()

	ws.conn.SetPingHandler(func(data string) error {
		ws.touch()
		_ = ws.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if b.Ping != nil {
			msg := []byte(data)
			ws.post(func() { b.Ping(ws, msg) })
		}
		return nil
	})
	ws.conn.SetPongHandler(func(data string) error {
		ws.touch()
		if b.Pong != nil {
			msg := []byte(data)
			ws.post(func() { b.Pong(ws, msg) })
		}
		return nil
	})
	ws.conn.SetCloseHandler(func(code int, _ string) error {
		ws.mu.Lock()
		initiated := ws.closing
		ws.mu.Unlock()
		if !initiated {
			reply := websocket.FormatCloseMessage(code, "")
			if code == websocket.CloseNoStatusReceived {
				reply = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			}
			_ = ws.conn.WriteControl(websocket.CloseMessage, reply, time.Now().Add(writeWait))
		}
		return nil
	})

	for {
		mt, data, err := ws.conn.ReadMessage()
		if err != nil {
			code, msg := closeInfo(err)
			ws.terminate(code, msg)
			return
		}
		ws.touch()
		if b.Message != nil {
			isBinary := mt == websocket.BinaryMessage
			ws.post(func() { b.Message(ws, data, isBinary) })
		}
	}
}

func closeInfo(err error) (int, []byte) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, []byte(ce.Text)
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return CloseMessageTooBig, []byte("message too big")
	}
	return CloseAbnormal, nil
}

func (ws *WebSocket) writeLoop() {
	var ping <-chan time.Time
	if b := ws.behavior; b.SendPingsAutomatically && b.IdleTimeout > 0 {
		t := time.NewTicker(b.IdleTimeout / 2)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ws.done:
			return
		case <-ping:
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				ws.terminate(CloseAbnormal, nil)
				return
			}
		case <-ws.notify:
			if !ws.flush() {
				return
			}
		}
	}
}

// flush 发送队列中的帧，返回 false 表示连接已终止
func (ws *WebSocket) flush() bool {
	for {
		ws.mu.Lock()
		if ws.closed {
			ws.mu.Unlock()
			return false
		}
		if ws.corked > 0 || ws.queue.Length() == 0 {
			drained := ws.backpressured && ws.buffered == 0
			if drained {
				ws.backpressured = false
			}
			ws.mu.Unlock()
			if drained && ws.behavior.Drain != nil {
				ws.post(func() { ws.behavior.Drain(ws) })
			}
			return true
		}
		f := ws.queue.Remove().(*frame)
		ws.mu.Unlock()

		err := ws.writeFrame(f)

		ws.mu.Lock()
		ws.buffered -= len(f.data)
		ws.mu.Unlock()

		if err != nil {
			ws.terminate(CloseAbnormal, nil)
			return false
		}
		if f.kind == frameClose {
			// 等待对端回应 close 帧，超时后由读 goroutine 终止
			_ = ws.conn.SetReadDeadline(time.Now().Add(closeGrace))
		}
	}
}

func (ws *WebSocket) writeFrame(f *frame) error {
	deadline := time.Now().Add(writeWait)
	switch f.kind {
	case framePing:
		return ws.conn.WriteControl(websocket.PingMessage, f.data, deadline)
	case frameClose:
		return ws.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(f.code, string(f.data)), deadline)
	}

	mt := websocket.TextMessage
	if f.kind == frameBinary {
		mt = websocket.BinaryMessage
	}
	_ = ws.conn.SetWriteDeadline(deadline)
	ws.conn.EnableWriteCompression(f.compress)
	return ws.conn.WriteMessage(mt, f.data)
}

func (ws *WebSocket) signal() {
	select {
	case ws.notify <- struct{}{}:
	default:
	}
}

// enqueue 缓冲超过 MaxBackpressure 后丢弃新消息
func (ws *WebSocket) enqueue(f *frame) SendStatus {
	ws.mu.Lock()
	if ws.closed || ws.closing {
		ws.mu.Unlock()
		return SendDropped
	}
	limit := ws.behavior.MaxBackpressure
	if limit > 0 && ws.buffered > limit {
		ws.mu.Unlock()
		return SendDropped
	}
	ws.queue.Add(f)
	ws.buffered += len(f.data)
	status := SendSuccess
	if limit > 0 && ws.buffered > limit {
		ws.backpressured = true
		status = SendBackpressure
	}
	corked := ws.corked > 0
	ws.mu.Unlock()

	if !corked {
		ws.signal()
	}
	return status
}

func (ws *WebSocket) send(data []byte, isBinary, compress bool) SendStatus {
	kind := frameText
	if isBinary {
		kind = frameBinary
	}
	return ws.enqueue(&frame{kind: kind, data: data, compress: compress})
}

// Send 发送消息，msg 会被复制
func (ws *WebSocket) Send(msg []byte, isBinary, compress bool) SendStatus {
	return ws.send(append([]byte(nil), msg...), isBinary, compress)
}

// Ping 发送 ping 帧
func (ws *WebSocket) Ping(msg []byte) SendStatus {
	if len(msg) > 125 {
		msg = msg[:125]
	}
	return ws.enqueue(&frame{kind: framePing, data: append([]byte(nil), msg...)})
}

// Cork 期间的发送在 fn 返回后一并写出
func (ws *WebSocket) Cork(fn func()) {
	ws.mu.Lock()
	ws.corked++
	ws.mu.Unlock()

	defer func() {
		ws.mu.Lock()
		ws.corked--
		flush := ws.corked == 0
		ws.mu.Unlock()
		if flush {
			ws.signal()
		}
	}()
	fn()
}

// GetBufferedAmount 已排队尚未写出的字节数
func (ws *WebSocket) GetBufferedAmount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.buffered
}

// End 发送 close 帧后优雅关闭，close 事件携带 code 与 msg
func (ws *WebSocket) End(code int, msg []byte) {
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	if len(msg) > 123 {
		msg = msg[:123]
	}
	ws.mu.Lock()
	if ws.closed || ws.closing {
		ws.mu.Unlock()
		return
	}
	ws.closing = true
	ws.closeCode = code
	ws.closeMsg = append([]byte(nil), msg...)
	ws.queue.Add(&frame{kind: frameClose, code: code, data: ws.closeMsg})
	ws.mu.Unlock()
	ws.signal()
}

// Close 立即关闭底层连接，close 事件的 code 为 1006
func (ws *WebSocket) Close() {
	ws.terminate(CloseAbnormal, nil)
}

// terminate 终止连接，只执行一次
func (ws *WebSocket) terminate(code int, msg []byte) {
	ws.closeOnce.Do(func() {
		ws.mu.Lock()
		ws.closed = true
		if ws.closeCode != 0 {
			code, msg = ws.closeCode, ws.closeMsg
		}
		ws.mu.Unlock()

		close(ws.done)
		_ = ws.conn.Close()
		ws.topics.UnsubscribeAll(ws)

		ws.app.loop.Post(func() {
			if ws.closeDelivered {
				return
			}
			ws.closeDelivered = true
			if ws.behavior.Close != nil {
				ws.behavior.Close(ws, code, msg)
			}
		})
	})
}

// Closed 连接是否已终止
func (ws *WebSocket) Closed() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.closed
}

// Subscribe 订阅 topic
func (ws *WebSocket) Subscribe(topic string) bool {
	return ws.topics.Subscribe(ws, topic)
}

// Unsubscribe 取消订阅
func (ws *WebSocket) Unsubscribe(topic string) bool {
	return ws.topics.Unsubscribe(ws, topic)
}

// IsSubscribed 是否已订阅
func (ws *WebSocket) IsSubscribed(topic string) bool {
	return ws.topics.IsSubscribed(ws, topic)
}

// GetTopics 已订阅的 topic
func (ws *WebSocket) GetTopics() []string {
	return ws.topics.Topics(ws)
}

// Publish 向 topic 的其他订阅者广播，不包括自身
func (ws *WebSocket) Publish(topic string, msg []byte, isBinary, compress bool) bool {
	if ws.Closed() {
		return false
	}
	ws.topics.Publish(ws, topic, msg, isBinary, compress)
	return true
}

// UserData 升级时传入的用户数据
func (ws *WebSocket) UserData() any {
	return ws.userData
}

// RemoteAddr 对端地址
func (ws *WebSocket) RemoteAddr() string {
	return ws.remoteAddr
}

// Subprotocol 协商得到的子协议
func (ws *WebSocket) Subprotocol() string {
	return ws.conn.Subprotocol()
}
