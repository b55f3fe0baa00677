package qiuws

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()

	// 消息指标
	IncrementMessages(isBinary bool)
	IncrementDroppedMessages()

	// 错误指标
	IncrementUpgradeFailures()
	IncrementHandlerErrors()
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()     {}
func (NoopMetrics) DecrementConnections()     {}
func (NoopMetrics) IncrementMessages(bool)    {}
func (NoopMetrics) IncrementDroppedMessages() {}
func (NoopMetrics) IncrementUpgradeFailures() {}
func (NoopMetrics) IncrementHandlerErrors()   {}
