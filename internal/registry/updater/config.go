package updater

import (
	"time"

	"github.com/dep2p/go-topicreg/config"
	"github.com/dep2p/go-topicreg/internal/util/retry"
	"github.com/dep2p/go-topicreg/pkg/types"
)

// Config 写者配置
type Config struct {
	// WriteConsistency 复制写一致性
	WriteConsistency types.WriteConsistency

	// FlushInterval 刷新间隔
	FlushInterval time.Duration

	// FullSyncRatio 增量大小超过 导出大小 × 比例 时改为全量同步
	FullSyncRatio float64

	// CommandBuffer 命令队列长度
	CommandBuffer int

	// Retry 复制写入重试
	Retry retry.Config
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		WriteConsistency: types.WriteLocal,
		FlushInterval:    200 * time.Millisecond,
		FullSyncRatio:    0.5,
		CommandBuffer:    1024,
		Retry:            retry.DefaultConfig(),
	}
}

// ConfigFromUnified 从统一配置创建写者配置
//
// 无法解析的枚举值回退到默认值；统一配置应已通过 Validate。
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}

	if wc, err := cfg.Replication.Consistency(); err == nil {
		c.WriteConsistency = wc
	}
	c.FlushInterval = cfg.Registry.FlushInterval.Duration()
	c.FullSyncRatio = cfg.Registry.FullSyncRatio
	c.CommandBuffer = cfg.Registry.CommandBuffer

	c.Retry.Attempts = cfg.Retry.Attempts
	if kind, err := cfg.Retry.BackoffKind(); err == nil {
		c.Retry.Backoff = kind
	}
	c.Retry.MinDelay = cfg.Retry.MinDelay.Duration()
	c.Retry.MaxDelay = cfg.Retry.MaxDelay.Duration()
	c.Retry.Jitter = cfg.Retry.Jitter
	c.Retry.AskTimeout = cfg.Retry.AskTimeout.Duration()
	return c
}
