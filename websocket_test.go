package qiuws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFixture struct {
	srv    *Server
	plugin *Plugin
	router *gin.Engine
	opened chan *WebSocket
	errs   chan error
}

// newWSFixture gin 路由经 HTTPHandler 接入，setup 在监听前注册路由
func newWSFixture(t *testing.T, setup func(f *wsFixture), opts ...WebSocketOption) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	srv := NewServer(HTTPHandler(router), WithRegistry(NewRegistry()))

	f := &wsFixture{
		srv:    srv,
		plugin: NewPlugin(srv, opts...),
		router: router,
		opened: make(chan *WebSocket, 16),
		errs:   make(chan error, 16),
	}
	wss := f.plugin.WebSocketServer()
	wss.OnOpen(func(ws *WebSocket) { f.opened <- ws })
	wss.OnError(func(err error) { f.errs <- err })
	setup(f)

	require.NoError(t, srv.Listen(context.Background(), ListenOptions{Host: "127.0.0.1"}))
	t.Cleanup(func() { srv.Close() })
	return f
}

func (f *wsFixture) url(path string) string {
	return "ws://" + f.srv.Address().String() + path
}

func (f *wsFixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	return dialURL(t, f.url(path))
}

func dialURL(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *wsFixture) waitOpen(t *testing.T) *WebSocket {
	t.Helper()
	select {
	case ws := <-f.opened:
		return ws
	case <-time.After(waitTimeout):
		t.Fatal("websocket not opened")
		return nil
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	return string(data)
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	var ne net.Error
	require.Error(t, err, "unexpected message %q", data)
	assert.True(t, errors.As(err, &ne) && ne.Timeout(), "expected timeout, got %v", err)
}

func TestWebSocketEcho(t *testing.T) {
	f := newWSFixture(t, func(f *wsFixture) {
		f.plugin.GET(f.router, "/", func(ws *WebSocket, _ *Request) error {
			ws.OnMessage(func([]byte, bool) {
				ws.SendText("Hello from Fastify!")
			})
			return nil
		})
	})

	conn := f.dial(t, "/")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("Hi from Test!")))
	assert.Equal(t, "Hello from Fastify!", readText(t, conn))
	assert.Equal(t, 1, f.plugin.WebSocketServer().Len())
}

func TestWebSocketNamespaceIsolation(t *testing.T) {
	var routeB *WebSocketRoute
	relay := func(ws *WebSocket, _ *Request) error {
		ws.Subscribe("room1")
		ws.OnMessage(func(msg []byte, isBinary bool) {
			ws.Publish("room1", msg, isBinary, false)
		})
		return nil
	}
	f := newWSFixture(t, func(f *wsFixture) {
		f.plugin.GET(f.router, "/a", relay)
		routeB = f.plugin.GET(f.router, "/b", relay, WithTopics("room1"))
	})

	a1 := f.dial(t, "/a")
	a2 := f.dial(t, "/a")
	b1 := f.dial(t, "/b")
	for range 3 {
		f.waitOpen(t)
	}

	assert.True(t, routeB.Publish("room1", []byte("server"), false, false))
	assert.Equal(t, "server", readText(t, b1))

	require.NoError(t, a1.WriteMessage(websocket.TextMessage, []byte("hello")))
	assert.Equal(t, "hello", readText(t, a2))
	expectSilence(t, b1)
	expectSilence(t, a1)
}

func TestWebSocketTopics(t *testing.T) {
	f := newWSFixture(t, func(f *wsFixture) {
		f.plugin.GET(f.router, "/topics", func(ws *WebSocket, _ *Request) error {
			assert.True(t, ws.Subscribe("room1"))
			assert.False(t, ws.Subscribe("room1"))
			assert.True(t, ws.Subscribe("room2"))
			assert.True(t, ws.Unsubscribe("room2"))
			return nil
		})
	})

	f.dial(t, "/topics")
	ws := f.waitOpen(t)

	assert.Equal(t, []string{"room1"}, ws.GetTopics())
	assert.True(t, ws.IsSubscribed("room1"))
	assert.False(t, ws.IsSubscribed("room2"))
	assert.Equal(t, []byte("/topics"), ws.Namespace())
	assert.NotEmpty(t, ws.ID())

	topics := f.plugin.WebSocketServer().topics
	assert.Equal(t, 1, topics.NumSubscribers(AllocTopic([]byte("/topics"), "room1")))
	assert.Equal(t, 0, topics.NumSubscribers("room1"))
}

func TestWebSocketOperationsAfterClose(t *testing.T) {
	closed := make(chan int, 1)
	aggregate := make(chan int, 1)
	f := newWSFixture(t, func(f *wsFixture) {
		f.plugin.GET(f.router, "/", func(ws *WebSocket, _ *Request) error {
			ws.Subscribe("room1")
			ws.OnClose(func(code int, _ []byte) { closed <- code })
			return nil
		})
		f.plugin.WebSocketServer().OnClose(func(_ *WebSocket, code int, _ []byte) { aggregate <- code })
	})

	conn := f.dial(t, "/")
	ws := f.waitOpen(t)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, msg))

	select {
	case code := <-closed:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(waitTimeout):
		t.Fatal("OnClose not fired")
	}
	assert.Equal(t, websocket.CloseNormalClosure, <-aggregate)

	assert.True(t, ws.Ended())
	assert.Equal(t, SendDropped, ws.SendText("late"))
	assert.Equal(t, SendDropped, ws.Ping(nil))
	assert.False(t, ws.Publish("room1", []byte("late"), false, false))
	assert.False(t, ws.Subscribe("room2"))
	assert.False(t, ws.Unsubscribe("room1"))
	assert.False(t, ws.IsSubscribed("room1"))
	assert.NotNil(t, ws.GetTopics())
	assert.Empty(t, ws.GetTopics())
	assert.Zero(t, ws.GetBufferedAmount())
	assert.NotPanics(t, func() {
		ws.Close()
		ws.End(websocket.CloseNormalClosure, nil)
	})
	assert.Zero(t, f.plugin.WebSocketServer().Len())
}

func TestWebSocketEnd(t *testing.T) {
	f := newWSFixture(t, func(f *wsFixture) {
		f.plugin.GET(f.router, "/", func(ws *WebSocket, _ *Request) error {
			ws.OnMessage(func([]byte, bool) {
				ws.End(4000, []byte("done"))
			})
			return nil
		})
	})

	conn := f.dial(t, "/")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("bye")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4000, ce.Code)
	assert.Equal(t, "done", ce.Text)
}

func TestServerCloseTerminatesWebSockets(t *testing.T) {
	closed := make(chan int, 1)
	f := newWSFixture(t, func(f *wsFixture) {
		f.plugin.GET(f.router, "/", func(ws *WebSocket, _ *Request) error {
			ws.OnClose(func(code int, _ []byte) { closed <- code })
			return nil
		})
	})

	conn := f.dial(t, "/")
	f.waitOpen(t)

	f.srv.Close()

	select {
	case code := <-closed:
		assert.Equal(t, websocket.CloseAbnormalClosure, code)
	case <-time.After(waitTimeout):
		t.Fatal("OnClose not fired")
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, f.plugin.WebSocketServer().Len())
}

func TestUpgradeOnPlainRouteFails(t *testing.T) {
	f := newWSFixture(t, func(f *wsFixture) {
		f.router.GET("/hello", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "Hello, World!"})
		})
	})

	_, resp, err := websocket.DefaultDialer.Dial(f.url("/hello"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	// http.ReadResponse 把 Connection: close 折叠进 resp.Close
	assert.True(t, resp.Close)

	select {
	case err := <-f.errs:
		assert.ErrorIs(t, err, ErrUpgradeFailed)
	case <-time.After(waitTimeout):
		t.Fatal("OnError not fired")
	}
	assert.Zero(t, f.plugin.WebSocketServer().Len())
}

func TestPlainRequestToWebSocketRoute(t *testing.T) {
	f := newWSFixture(t, func(f *wsFixture) {
		noop := func(*WebSocket, *Request) error { return nil }
		f.plugin.GET(f.router, "/ws", noop)
		f.plugin.GET(f.router, "/both", noop, WithFallback(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("fallback"))
		})))
	})
	base := "http://" + f.srv.Address().String()

	resp, err := http.Get(base + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	assert.Equal(t, "websocket", resp.Header.Get("Upgrade"))

	resp, err = http.Get(base + "/both")
	require.NoError(t, err)
	body := make([]byte, 16)
	n, _ := resp.Body.Read(body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fallback", string(body[:n]))
}

func TestRouteErrorHandler(t *testing.T) {
	f := newWSFixture(t, func(f *wsFixture) {
		f.plugin.GET(f.router, "/default", func(*WebSocket, *Request) error {
			return errors.New("rejected")
		})
		f.plugin.GET(f.router, "/custom", func(*WebSocket, *Request) error {
			panic("boom")
		}, WithErrorHandler(func(err error, ws *WebSocket, _ *Request) {
			ws.End(4001, []byte("custom"))
		}))
	})

	// 默认处理：直接关闭连接
	conn := f.dial(t, "/default")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var ce *websocket.CloseError
	assert.False(t, errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure)
	assert.EqualError(t, <-f.errs, "rejected")

	conn = f.dial(t, "/custom")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err = conn.ReadMessage()
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4001, ce.Code)
	assert.Contains(t, (<-f.errs).Error(), "boom")
}

func TestWebSocketSubprotocolAndBinary(t *testing.T) {
	pings := make(chan string, 1)
	f := newWSFixture(t, func(f *wsFixture) {
		f.plugin.GET(f.router, "/", func(ws *WebSocket, _ *Request) error {
			ws.OnMessage(func(msg []byte, isBinary bool) {
				ws.Send(msg, isBinary, false)
			})
			ws.OnPing(func(msg []byte) { pings <- string(msg) })
			return nil
		})
	})

	dialer := websocket.Dialer{Subprotocols: []string{"chat", "superchat"}}
	conn, _, err := dialer.Dial(f.url("/"), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "chat", conn.Subprotocol())

	ws := f.waitOpen(t)
	assert.Equal(t, "chat", ws.Subprotocol())

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{1, 2, 3}, data)

	require.NoError(t, conn.WriteControl(websocket.PingMessage, []byte("p"), time.Now().Add(time.Second)))
	select {
	case msg := <-pings:
		assert.Equal(t, "p", msg)
	case <-time.After(waitTimeout):
		t.Fatal("OnPing not fired")
	}
}

func TestCoreWebSocketRoute(t *testing.T) {
	var route *WebSocketRoute
	srv := NewServer(func(req *Request, res *Response) {
		route.Handle(req, res)
	}, WithRegistry(NewRegistry()))
	wss := NewWebSocketServer()
	wss.AddServer(srv)
	route = NewWebSocketRoute(wss, "/core", func(ws *WebSocket, req *Request) error {
		assert.Equal(t, "/core", req.Path())
		assert.True(t, req.IsUpgrade())
		ws.SendText("welcome")
		return nil
	})
	require.NoError(t, srv.Listen(context.Background(), ListenOptions{Host: "127.0.0.1"}))
	defer srv.Close()

	conn := dialURL(t, "ws://"+srv.Address().String()+"/core")
	assert.Equal(t, "welcome", readText(t, conn))
	assert.Equal(t, []string{"/core"}, wss.Routes())

	resp, err := http.Get("http://" + srv.Address().String() + "/core")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestSharedWebSocketServerOnSamePort(t *testing.T) {
	reg := NewRegistry()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := HTTPHandler(router)

	owner := NewServer(handler, WithRegistry(reg))
	plugin := NewPlugin(owner)
	plugin.GET(router, "/ws", func(ws *WebSocket, _ *Request) error {
		ws.OnMessage(func(msg []byte, _ bool) { ws.Send(msg, false, false) })
		return nil
	})
	wss := plugin.WebSocketServer()

	require.NoError(t, owner.Listen(context.Background(), ListenOptions{Host: "127.0.0.1"}))
	defer owner.Close()
	port := owner.Address().Port

	peer := NewServer(handler, WithRegistry(reg))
	if err := peer.Listen(context.Background(), ListenOptions{Host: "::1", Port: port}); err != nil {
		t.Skipf("ipv6 loopback unavailable: %v", err)
	}
	assert.Same(t, wss, peer.WebSocketServer())
	assert.Equal(t, 2, wss.Servers())
	assert.Same(t, owner, reg.Lookup(port))

	v6 := dialURL(t, "ws://[::1]:"+strconv.Itoa(port)+"/ws")
	assert.Eventually(t, func() bool { return wss.Len() == 1 }, waitTimeout, 10*time.Millisecond)

	// 非登记者关闭只解除引用，已建立的连接不受影响
	peer.Close()
	assert.Equal(t, 1, wss.Servers())
	require.NoError(t, v6.WriteMessage(websocket.TextMessage, []byte("still here")))
	assert.Equal(t, "still here", readText(t, v6))

	// 绑定失败时回滚共享
	loser := NewServer(handler, WithRegistry(reg))
	err := loser.Listen(context.Background(), ListenOptions{Host: "127.0.0.1", Port: port})
	require.ErrorIs(t, err, ErrAddressInUse)
	assert.Nil(t, loser.WebSocketServer())
	assert.Equal(t, 1, wss.Servers())

	// 登记者关闭强制关闭所有连接
	owner.Close()
	require.NoError(t, v6.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err = v6.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return wss.Len() == 0 }, waitTimeout, 10*time.Millisecond)
}

func TestSharedPortOwnershipHandedOver(t *testing.T) {
	reg := NewRegistry()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := HTTPHandler(router)

	owner := NewServer(handler, WithRegistry(reg))
	plugin := NewPlugin(owner)
	plugin.GET(router, "/ws", func(ws *WebSocket, _ *Request) error {
		ws.OnMessage(func(msg []byte, _ bool) { ws.Send(msg, false, false) })
		return nil
	})
	wss := plugin.WebSocketServer()

	require.NoError(t, owner.Listen(context.Background(), ListenOptions{Host: "127.0.0.1"}))
	defer owner.Close()
	port := owner.Address().Port

	twin := NewServer(handler, WithRegistry(reg))
	if err := twin.Listen(context.Background(), ListenOptions{Host: "127.0.0.2", Port: port}); err != nil {
		t.Skipf("127.0.0.2 unavailable: %v", err)
	}
	defer twin.Close()
	assert.Same(t, wss, twin.WebSocketServer())

	owner.Close()
	assert.Same(t, twin, reg.Lookup(port))
	assert.Equal(t, 1, wss.Servers())

	conn := dialURL(t, "ws://127.0.0.2:"+strconv.Itoa(port)+"/ws")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "ping", readText(t, conn))
	assert.Equal(t, 1, wss.Len())

	// 接管登记的 twin 关闭后不再有存活连接
	twin.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return wss.Len() == 0 }, waitTimeout, 10*time.Millisecond)
	assert.Zero(t, reg.Len())
}

func TestWebSocketDrainAfterBackpressure(t *testing.T) {
	statuses := make(chan []SendStatus, 1)
	drained := make(chan string, 2)
	f := newWSFixture(t, func(f *wsFixture) {
		f.plugin.WebSocketServer().OnDrain(func(*WebSocket) { drained <- "server" })
		f.plugin.GET(f.router, "/", func(ws *WebSocket, _ *Request) error {
			ws.OnDrain(func() { drained <- "connection" })
			payload := make([]byte, 512)
			var got []SendStatus
			// cork 期间不写出，缓冲按发送量累积
			ws.Cork(func() {
				for range 4 {
					got = append(got, ws.Send(payload, true, false))
				}
			})
			statuses <- got
			return nil
		})
	}, WithMaxBackpressure(1024))

	conn := f.dial(t, "/")
	select {
	case got := <-statuses:
		assert.Equal(t, []SendStatus{SendSuccess, SendSuccess, SendBackpressure, SendDropped}, got)
	case <-time.After(waitTimeout):
		t.Fatal("handler not called")
	}

	for range 3 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, mt)
		assert.Len(t, data, 512)
	}

	var order []string
	for range 2 {
		select {
		case who := <-drained:
			order = append(order, who)
		case <-time.After(waitTimeout):
			t.Fatalf("drain not delivered, got %v", order)
		}
	}
	assert.Equal(t, []string{"connection", "server"}, order)
}

func TestWebSocketIdleTimeout(t *testing.T) {
	type closed struct {
		code   int
		reason []byte
	}
	got := make(chan closed, 1)
	f := newWSFixture(t, func(f *wsFixture) {
		f.plugin.GET(f.router, "/", func(ws *WebSocket, _ *Request) error {
			ws.OnClose(func(code int, reason []byte) { got <- closed{code, reason} })
			return nil
		})
	}, WithIdleTimeout(300*time.Millisecond), WithSendPingsAutomatically(false))

	// 客户端保持静默
	f.dial(t, "/")
	ws := f.waitOpen(t)

	select {
	case c := <-got:
		assert.Equal(t, websocket.CloseAbnormalClosure, c.code)
		assert.Empty(t, c.reason)
	case <-time.After(waitTimeout):
		t.Fatal("idle connection not closed")
	}
	assert.True(t, ws.Ended())
	assert.Zero(t, f.plugin.WebSocketServer().Len())
}

type countingMetrics struct {
	NoopMetrics
	opened, closed, text, binary, upgradeFailures atomic.Int64
}

func (m *countingMetrics) IncrementConnections() { m.opened.Add(1) }
func (m *countingMetrics) DecrementConnections() { m.closed.Add(1) }
func (m *countingMetrics) IncrementUpgradeFailures() { m.upgradeFailures.Add(1) }
func (m *countingMetrics) IncrementMessages(isBinary bool) {
	if isBinary {
		m.binary.Add(1)
		return
	}
	m.text.Add(1)
}

func TestWebSocketMetrics(t *testing.T) {
	m := &countingMetrics{}
	closed := make(chan struct{}, 1)
	f := newWSFixture(t, func(f *wsFixture) {
		f.plugin.WebSocketServer().OnClose(func(*WebSocket, int, []byte) { closed <- struct{}{} })
		f.plugin.GET(f.router, "/", func(ws *WebSocket, _ *Request) error {
			ws.OnMessage(func(msg []byte, isBinary bool) { ws.Send(msg, isBinary, false) })
			return nil
		})
		f.router.GET("/plain", func(c *gin.Context) { c.String(http.StatusOK, "plain") })
	}, WithMetrics(m))

	conn := f.dial(t, "/")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("a")))
	readText(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1}))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	select {
	case <-closed:
	case <-time.After(waitTimeout):
		t.Fatal("close not observed")
	}
	assert.EqualValues(t, 1, m.opened.Load())
	assert.EqualValues(t, 1, m.closed.Load())
	assert.EqualValues(t, 1, m.text.Load())
	assert.EqualValues(t, 1, m.binary.Load())

	_, resp, err := websocket.DefaultDialer.Dial(f.url("/plain"), nil)
	require.Error(t, err)
	resp.Body.Close()
	select {
	case <-f.errs:
	case <-time.After(waitTimeout):
		t.Fatal("OnError not fired")
	}
	assert.EqualValues(t, 1, m.upgradeFailures.Load())
}

func TestAllocTopic(t *testing.T) {
	a := AllocTopic([]byte("a"), "b!c")
	b := AllocTopic([]byte("a!b"), "c")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, AllocTopic([]byte("a"), "b!c"))
	assert.NotEqual(t, AllocTopic([]byte("/a"), "room1"), AllocTopic([]byte("/b"), "room1"))

	tests := []struct {
		namespace []byte
		name      string
	}{
		{[]byte("/chat"), "room1"},
		{nil, "x"},
		{[]byte("/ns"), ""},
		{[]byte("a!b"), "c!d"},
		{make([]byte, 300), "long"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, StripTopic(AllocTopic(tt.namespace, tt.name)))
	}
	assert.Equal(t, "plain", StripTopic("plain"))
	assert.Equal(t, "", StripTopic(""))
}

func TestWebSocketOptions(t *testing.T) {
	wss := NewWebSocketServer(WithIdleTimeout(5*time.Second), WithCompression(CompressionDisabled))
	o := wss.Options()
	assert.Equal(t, 5*time.Second, o.IdleTimeout)
	assert.Equal(t, CompressionDisabled, o.Compression)
	assert.Equal(t, int64(16*1024*1024), o.MaxPayloadLength)
	assert.Equal(t, 64*1024, o.MaxBackpressure)
	assert.True(t, o.SendPingsAutomatically)
}

func TestParseCompression(t *testing.T) {
	tests := map[string]Compression{
		"":          SharedCompressor,
		"shared":    SharedCompressor,
		"Dedicated": DedicatedCompressor,
		"disabled":  CompressionDisabled,
		"off":       CompressionDisabled,
	}
	for in, want := range tests {
		got, err := ParseCompression(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCompression("zstd")
	assert.Error(t, err)
}
