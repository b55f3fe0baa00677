package tracing

import (
	"os"
	"strconv"

	"go.opentelemetry.io/otel/sdk/trace"
)

// newSampler OTEL_TRACES_SAMPLER 优先，其次使用配置
func newSampler(cfg *Config) trace.Sampler {
	if name := os.Getenv("OTEL_TRACES_SAMPLER"); name != "" {
		return samplerFromEnv(name, envRatio())
	}

	switch cfg.SamplingType {
	case "always":
		return trace.AlwaysSample()
	case "never":
		return trace.NeverSample()
	case "ratio":
		return trace.TraceIDRatioBased(cfg.SamplingRate)
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(cfg.SamplingRate))
	}
}

func samplerFromEnv(name string, ratio float64) trace.Sampler {
	switch name {
	case "always_on":
		return trace.AlwaysSample()
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		return trace.TraceIDRatioBased(ratio)
	case "parentbased_always_off":
		return trace.ParentBased(trace.NeverSample())
	case "parentbased_traceidratio":
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	default:
		return trace.ParentBased(trace.AlwaysSample())
	}
}

// envRatio 读取 OTEL_TRACES_SAMPLER_ARG，非法值按 1.0 处理
func envRatio() float64 {
	ratio, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1.0
	}
	return ratio
}
