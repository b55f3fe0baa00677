package qiuws

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGinServer(t *testing.T, setup func(r *gin.Engine)) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	setup(router)
	srv := newTestServer(t, HTTPHandler(router))
	return baseURL(srv)
}

func TestHTTPHandlerBridge(t *testing.T) {
	base := newGinServer(t, func(r *gin.Engine) {
		r.GET("/hello", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "Hello, World!"})
		})
		r.POST("/echo", func(c *gin.Context) {
			var body struct {
				Text string `json:"text"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"text": body.Text})
		})
	})

	resp, err := http.Get(base + "/hello")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"message":"Hello, World!"}`, string(body))

	payload, _ := json.Marshal(map[string]string{"text": "ping"})
	resp, err = http.Post(base+"/echo", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"text":"ping"}`, string(body))

	resp, err = http.Get(base + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPHandlerContext(t *testing.T) {
	base := newGinServer(t, func(r *gin.Engine) {
		r.GET("/ctx", func(c *gin.Context) {
			req, res, ok := RequestFromContext(c.Request.Context())
			if !ok {
				c.Status(http.StatusInternalServerError)
				return
			}
			c.String(http.StatusOK, "%s %t", req.Path(), res.Hijacked())
		})
	})

	resp, err := http.Get(base + "/ctx")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "/ctx false", string(body))
}

func TestHTTPHandlerPanic(t *testing.T) {
	base := newGinServer(t, func(r *gin.Engine) {
		r.GET("/panic", func(*gin.Context) { panic("boom") })
	})

	resp, err := http.Get(base + "/panic")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHTTPHandlerStreaming(t *testing.T) {
	srv := newTestServer(t, HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Stream", "1")
		_, _ = io.WriteString(w, "<html>")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "</html>")
	})))

	resp, err := http.Get(baseURL(srv) + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "1", resp.Header.Get("X-Stream"))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	assert.Equal(t, "<html></html>", string(body))
}

func TestPluginRouteGroup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	srv := NewServer(HTTPHandler(router), WithRegistry(NewRegistry()))
	plugin := NewPlugin(srv)

	api := router.Group("/api/v1")
	route := plugin.GET(api, "/ws/", func(*WebSocket, *Request) error { return nil })
	assert.Equal(t, "/api/v1/ws/", route.Path())
	assert.Equal(t, []byte("/api/v1/ws/"), route.Namespace())
	assert.Same(t, plugin.WebSocketServer(), srv.WebSocketServer())

	require.NoError(t, srv.Listen(context.Background(), ListenOptions{Host: "127.0.0.1"}))
	defer srv.Close()
	dialURL(t, "ws://"+srv.Address().String()+"/api/v1/ws/")
}

func TestJoinPaths(t *testing.T) {
	tests := []struct{ base, rel, want string }{
		{"/", "", "/"},
		{"/", "/ws", "/ws"},
		{"/api", "ws", "/api/ws"},
		{"/api/", "/ws/", "/api/ws/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinPaths(tt.base, tt.rel))
	}
}
