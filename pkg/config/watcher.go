package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// startWatch 开始监控配置文件，调用方持有 mu
func (c *Config) startWatch() {
	if c.watching {
		return
	}
	c.viper.OnConfigChange(func(fsnotify.Event) {
		if c.restoring.Load() {
			return
		}

		c.mu.RLock()
		watching := c.watching
		protected := c.protected
		onChange := c.onChange
		snap := append([]byte(nil), c.snap...)
		c.mu.RUnlock()

		if !watching {
			return
		}
		if protected {
			c.restore(snap)
			return
		}
		if onChange != nil {
			onChange(c)
		}
	})
	c.viper.WatchConfig()
	c.watching = true
}

// StartWatch 开始监控配置文件变更，重复调用无副作用
func (c *Config) StartWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startWatch()
}

// StopWatch 停止响应文件变更
// viper 不支持关闭底层 fsnotify watcher，这里只让回调失效
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}

// Watching 是否正在监控
func (c *Config) Watching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching
}

// SetProtected 切换保护模式，开启时保存当前快照
func (c *Config) SetProtected(protected bool) {
	c.mu.Lock()
	c.protected = protected
	var err error
	if protected {
		err = c.saveSnapshot()
	}
	c.mu.Unlock()

	if err != nil {
		c.reportError(err)
	}
}

// IsProtected 是否处于保护模式
func (c *Config) IsProtected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protected
}

// saveSnapshot 保存配置文件快照，调用方持有 mu
func (c *Config) saveSnapshot() error {
	file := c.viper.ConfigFileUsed()
	if file == "" {
		return nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("保存快照失败: %w", err)
	}
	c.snap = data
	return nil
}

// restore 以临时文件加原子替换的方式写回快照
func (c *Config) restore(content []byte) {
	if len(content) == 0 {
		return
	}
	file := c.ConfigFileUsed()
	if file == "" {
		return
	}

	c.restoring.Store(true)
	defer c.restoring.Store(false)

	tmp, err := os.CreateTemp(filepath.Dir(file), ".config-restore-*")
	if err != nil {
		c.reportError(fmt.Errorf("创建临时文件失败: %w", err))
		return
	}
	name := tmp.Name()
	_, werr := tmp.Write(content)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(name)
		c.reportError(fmt.Errorf("写入临时文件失败: %v %v", werr, cerr))
		return
	}
	if err := os.Rename(name, file); err != nil {
		os.Remove(name)
		c.reportError(fmt.Errorf("恢复配置文件失败: %w", err))
		return
	}

	c.mu.Lock()
	err = c.viper.ReadInConfig()
	c.mu.Unlock()
	if err != nil {
		c.reportError(fmt.Errorf("恢复后重新加载配置失败: %w", err))
	}
}

// reportError 优先交给 onError，否则输出到 stderr
func (c *Config) reportError(err error) {
	c.mu.RLock()
	onError := c.onError
	c.mu.RUnlock()

	if onError != nil {
		onError(err)
		return
	}
	fmt.Fprintf(os.Stderr, "[config] %v\n", err)
}
