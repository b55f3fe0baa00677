package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

// Config 配置管理器（viper 封装，读写加锁）
type Config struct {
	viper *viper.Viper
	mu    sync.RWMutex

	configFile  string   // 配置文件完整路径
	configName  string   // 配置文件名（不含扩展名）
	configType  string   // 配置文件类型
	configPaths []string // 配置文件搜索路径

	protected bool        // 保护模式：文件被外部修改后恢复快照
	autoWatch bool        // Load 后自动开启监控
	watching  bool        // 是否正在监控
	restoring atomic.Bool // 正在恢复快照，忽略自身写入触发的事件
	snap      []byte      // 配置文件快照

	onChange func(*Config)
	onError  func(error)

	defaults  map[string]any
	envPrefix string
}

// New 创建配置管理器
func New(opts ...Option) *Config {
	c := &Config{viper: viper.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load 读取配置文件
// 找不到文件返回 ErrConfigNotFound，解析失败返回 ErrConfigReadFailed
func (c *Config) Load() error {
	c.mu.Lock()

	for k, v := range c.defaults {
		c.viper.SetDefault(k, v)
	}

	// 环境变量：server.port -> PREFIX_SERVER_PORT
	if c.envPrefix != "" {
		c.viper.SetEnvPrefix(c.envPrefix)
		c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		c.viper.AutomaticEnv()
	}

	if c.configFile != "" {
		c.viper.SetConfigFile(c.configFile)
	} else {
		if c.configName != "" {
			c.viper.SetConfigName(c.configName)
		}
		if c.configType != "" {
			c.viper.SetConfigType(c.configType)
		}
		for _, path := range c.configPaths {
			c.viper.AddConfigPath(path)
		}
	}

	if err := c.viper.ReadInConfig(); err != nil {
		c.mu.Unlock()
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || isNotExist(err) {
			return ErrConfigNotFound.WithError(err)
		}
		return ErrConfigReadFailed.WithError(err)
	}

	var snapErr error
	if c.protected {
		snapErr = c.saveSnapshot()
	}
	if c.autoWatch {
		c.startWatch()
	}
	c.mu.Unlock()

	// 释放锁后再回调
	if snapErr != nil {
		c.reportError(snapErr)
	}
	return nil
}

// ConfigFileUsed 返回实际读取的配置文件
func (c *Config) ConfigFileUsed() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.ConfigFileUsed()
}

// GetString 获取字符串配置值
func (c *Config) GetString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetString(key)
}

// GetInt 获取整数配置值
func (c *Config) GetInt(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetInt(key)
}

// GetBool 获取布尔配置值
func (c *Config) GetBool(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetBool(key)
}

// GetDuration 获取时间间隔配置值
func (c *Config) GetDuration(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetDuration(key)
}

// Set 覆盖配置值
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viper.Set(key, value)
}

// IsSet 检查配置键是否存在
func (c *Config) IsSet(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.IsSet(key)
}

// AllSettings 获取所有配置
func (c *Config) AllSettings() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.AllSettings()
}

// Unmarshal 将配置反序列化到结构体（mapstructure 标签）
func (c *Config) Unmarshal(rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.viper.Unmarshal(rawVal); err != nil {
		return ErrConfigDecodeFailed.WithError(err)
	}
	return nil
}

// UnmarshalKey 将指定 key 的配置反序列化到结构体
func (c *Config) UnmarshalKey(key string, rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.viper.UnmarshalKey(key, rawVal); err != nil {
		return ErrConfigDecodeFailed.WithError(fmt.Errorf("key %s: %w", key, err))
	}
	return nil
}

// Close 停止监控
func (c *Config) Close() {
	c.StopWatch()
}
