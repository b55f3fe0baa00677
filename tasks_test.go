package qiuws

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/tokmz/qiuws/pkg/engine"
)

func TestTaskSetEvery(t *testing.T) {
	ts := newTaskSet(engine.NewLoop(zap.NewNop()))

	var n atomic.Int32
	cancel := ts.every(5*time.Millisecond, func() { n.Add(1) })
	assert.Eventually(t, func() bool { return n.Load() >= 3 }, waitTimeout, time.Millisecond)
	assert.Equal(t, 1, ts.len())

	cancel()
	assert.Equal(t, 0, ts.len())
	stopped := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, n.Load(), stopped+1)
}

func TestTaskSetStop(t *testing.T) {
	ts := newTaskSet(engine.NewLoop(zap.NewNop()))

	var a, b atomic.Int32
	ts.every(5*time.Millisecond, func() { a.Add(1) })
	ts.every(5*time.Millisecond, func() { b.Add(1) })
	assert.Equal(t, 2, ts.len())

	ts.stop()
	assert.Equal(t, 0, ts.len())

	// stop 之后不再启动新任务
	cancel := ts.every(time.Millisecond, func() { a.Add(100) })
	assert.NotNil(t, cancel)
	assert.Equal(t, 0, ts.len())
	time.Sleep(20 * time.Millisecond)
	assert.Less(t, a.Load(), int32(100))
}

func TestSocketEveryStopsWhenResponseEnds(t *testing.T) {
	var ticks atomic.Int32
	srv := newTestServer(t, func(req *Request, res *Response) {
		req.Socket().Every(2*time.Millisecond, func() { ticks.Add(1) })
		time.AfterFunc(20*time.Millisecond, func() { _ = res.End([]byte("ok")) })
	})

	resp, err := httpGet(baseURL(srv) + "/")
	if assert.NoError(t, err) {
		assert.Equal(t, "ok", resp)
	}
	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), after+1)
}
