package ddata

import (
	"fmt"

	"github.com/dep2p/go-topicreg/config"
	"github.com/dep2p/go-topicreg/internal/registry/ddata/memory"
	"github.com/dep2p/go-topicreg/internal/registry/ddata/redismap"
	"github.com/dep2p/go-topicreg/pkg/interfaces"
)

// NewMultimap 按统一配置创建复制多值映射
func NewMultimap(cfg *config.Config) (interfaces.ReplicatedMultimap, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}

	switch cfg.Replication.Backend {
	case config.BackendMemory, "":
		return memory.New(), nil
	case config.BackendRedis:
		r := cfg.Replication.Redis
		return redismap.New(redismap.Config{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
			Replicas: r.Replicas,
		})
	default:
		return nil, fmt.Errorf("ddata: unknown backend %q", cfg.Replication.Backend)
	}
}

// OptionsFromUnified 从统一配置创建同步器选项
func OptionsFromUnified(cfg *config.Config) []Option {
	if cfg == nil {
		return nil
	}
	return []Option{
		WithPoolSize(cfg.Replication.WorkerPoolSize),
		WithWriteTimeout(cfg.Replication.WriteTimeout.Duration()),
		WithBloomFalsePositiveRate(cfg.Registry.BloomFalsePositiveRate),
	}
}
