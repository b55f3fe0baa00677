package config

// Option 配置选项函数
type Option func(*Config)

// WithConfigFile 指定配置文件完整路径
func WithConfigFile(path string) Option {
	return func(c *Config) {
		c.configFile = path
	}
}

// WithConfigName 设置配置文件名（不含扩展名）
func WithConfigName(name string) Option {
	return func(c *Config) {
		c.configName = name
	}
}

// WithConfigType 设置配置文件类型（yaml, json, toml）
func WithConfigType(typ string) Option {
	return func(c *Config) {
		c.configType = typ
	}
}

// WithConfigPaths 设置配置文件搜索路径
func WithConfigPaths(paths ...string) Option {
	return func(c *Config) {
		c.configPaths = paths
	}
}

// WithProtected 启用保护模式
// 配置文件被外部修改后自动恢复为加载时的内容
func WithProtected(protected bool) Option {
	return func(c *Config) {
		c.protected = protected
	}
}

// WithAutoWatch Load 成功后自动开启文件监控
func WithAutoWatch(watch bool) Option {
	return func(c *Config) {
		c.autoWatch = watch
	}
}

// WithOnChange 配置文件变更并重新读取后回调（非保护模式）
func WithOnChange(fn func(*Config)) Option {
	return func(c *Config) {
		c.onChange = fn
	}
}

// WithOnError 设置错误回调
func WithOnError(fn func(error)) Option {
	return func(c *Config) {
		c.onError = fn
	}
}

// WithDefaults 设置默认配置值
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) {
		c.defaults = defaults
	}
}

// WithEnvPrefix 设置环境变量前缀，键中的 "." 映射为 "_"
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) {
		c.envPrefix = prefix
	}
}
