package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := NewLoop(zap.NewNop())

	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	for i := range 100 {
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stalled")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopSurvivesPanic(t *testing.T) {
	l := NewLoop(zap.NewNop())
	done := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped after panic")
	}
}

func TestLoopPostFromTask(t *testing.T) {
	l := NewLoop(zap.NewNop())
	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested post not executed")
	}
}

func TestDefaultLoop(t *testing.T) {
	assert.Same(t, DefaultLoop(), DefaultLoop())
}
