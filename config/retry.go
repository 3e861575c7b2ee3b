package config

import "time"

// RetryConfig 复制写入重试配置
type RetryConfig struct {
	// Attempts 最大尝试次数（含首次）
	Attempts int `json:"attempts" toml:"attempts" validate:"min=1"`

	// Backoff 退避策略：fixed 或 exponential
	Backoff string `json:"backoff" toml:"backoff" validate:"omitempty,oneof=fixed exponential"`

	// MinDelay 首次重试前的延迟
	MinDelay Duration `json:"min_delay" toml:"min_delay" validate:"gte=0"`

	// MaxDelay 最大延迟
	MaxDelay Duration `json:"max_delay" toml:"max_delay" validate:"gte=0"`

	// Jitter 抖动因子 [0, 1]
	Jitter float64 `json:"jitter" toml:"jitter" validate:"gte=0,lte=1"`

	// AskTimeout 单次尝试超时
	AskTimeout Duration `json:"ask_timeout" toml:"ask_timeout" validate:"gte=0"`
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:   5,
		Backoff:    "exponential",
		MinDelay:   Duration(200 * time.Millisecond),
		MaxDelay:   Duration(10 * time.Second),
		Jitter:     0.2,
		AskTimeout: Duration(5 * time.Second),
	}
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否启用 Prometheus 指标
	Enabled bool `json:"enabled" toml:"enabled"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: true,
	}
}
