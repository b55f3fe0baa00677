package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/tokmz/qiuws/pkg/errors"
)

const testYAML = `
server:
  host: 127.0.0.1
  port: 9001
  banner: true
  connection_timeout: 5s
websocket:
  compression: shared
  idle_timeout: 16s
  max_payload_length: 16777216
`

func writeTestConfig(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	assert.Equal(t, "127.0.0.1", c.GetString("server.host"))
	assert.Equal(t, 9001, c.GetInt("server.port"))
	assert.True(t, c.GetBool("server.banner"))
	assert.Equal(t, 16*time.Second, c.GetDuration("websocket.idle_timeout"))
	assert.Equal(t, cfgPath, c.ConfigFileUsed())
}

func TestLoadWithNameAndPaths(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "qiuws.yaml", testYAML)

	c := New(WithConfigName("qiuws"), WithConfigType("yaml"), WithConfigPaths(dir))
	require.NoError(t, c.Load())
	assert.Equal(t, 9001, c.GetInt("server.port"))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	broken := writeTestConfig(t, dir, "broken.yaml", "server: [unclosed")

	tests := []struct {
		name string
		cfg  *Config
		want error
	}{
		{"文件不存在", New(WithConfigFile(filepath.Join(dir, "missing.yaml"))), ErrConfigNotFound},
		{"按名称查找不到", New(WithConfigName("missing"), WithConfigType("yaml"), WithConfigPaths(dir)), ErrConfigNotFound},
		{"格式错误", New(WithConfigFile(broken)), ErrConfigReadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Load()
			require.Error(t, err)
			assert.True(t, qerrors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDefaultsAndEnv(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)
	t.Setenv("QIUWS_SERVER_PORT", "9100")

	c := New(
		WithConfigFile(cfgPath),
		WithDefaults(map[string]any{"websocket.max_backpressure": 65536}),
		WithEnvPrefix("QIUWS"),
	)
	require.NoError(t, c.Load())

	assert.Equal(t, 9100, c.GetInt("server.port"))
	assert.Equal(t, 65536, c.GetInt("websocket.max_backpressure"))
	assert.True(t, c.IsSet("websocket.max_backpressure"))
}

func TestUnmarshalKey(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)
	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	var ws struct {
		Compression      string        `mapstructure:"compression"`
		IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
		MaxPayloadLength int64         `mapstructure:"max_payload_length"`
	}
	require.NoError(t, c.UnmarshalKey("websocket", &ws))
	assert.Equal(t, "shared", ws.Compression)
	assert.Equal(t, 16*time.Second, ws.IdleTimeout)
	assert.Equal(t, int64(16<<20), ws.MaxPayloadLength)

	var bad struct {
		Port []int `mapstructure:"port"`
	}
	err := c.UnmarshalKey("server.host", &bad)
	assert.True(t, qerrors.Is(err, ErrConfigDecodeFailed))
}

func TestProtectedMode(t *testing.T) {
	original := "server:\n  port: 9001\n"
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", original)

	c := New(WithConfigFile(cfgPath), WithProtected(true), WithAutoWatch(true))
	require.NoError(t, c.Load())
	defer c.Close()
	assert.True(t, c.IsProtected())

	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  port: 1\n"), 0644))

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(cfgPath)
		return err == nil && string(data) == original
	}, 2*time.Second, 50*time.Millisecond)
}

func TestOnChange(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)

	ports := make(chan int, 4)
	c := New(
		WithConfigFile(cfgPath),
		WithAutoWatch(true),
		WithOnChange(func(c *Config) {
			ports <- c.GetInt("server.port")
		}),
	)
	require.NoError(t, c.Load())
	defer c.Close()
	assert.True(t, c.Watching())

	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  port: 9002\n"), 0644))

	select {
	case p := <-ports:
		assert.Equal(t, 9002, p)
	case <-time.After(2 * time.Second):
		t.Fatal("onChange 未在超时内触发")
	}
}

func TestStartStopWatch(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)
	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	c.StartWatch()
	c.StartWatch()
	assert.True(t, c.Watching())
	c.StopWatch()
	assert.False(t, c.Watching())
}

func TestConcurrentAccess(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)
	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.GetString("server.host")
			_ = c.AllSettings()
		}()
		go func(i int) {
			defer wg.Done()
			c.Set("dynamic.key", i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, "127.0.0.1", c.GetString("server.host"))
}
