package config

import "time"

// 复制后端
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ReplicationConfig 复制配置
type ReplicationConfig struct {
	// Backend 复制多值映射后端：memory 或 redis
	Backend string `json:"backend" toml:"backend" validate:"oneof=memory redis"`

	// WriteConsistency 默认写一致性：local / majority / all
	WriteConsistency string `json:"write_consistency" toml:"write_consistency" validate:"omitempty,oneof=local majority all"`

	// WriteTimeout 单次复制写入超时
	WriteTimeout Duration `json:"write_timeout" toml:"write_timeout" validate:"gte=0"`

	// WorkerPoolSize 异步写入协程池大小
	WorkerPoolSize int `json:"worker_pool_size" toml:"worker_pool_size" validate:"min=1"`

	// Redis Redis 后端配置
	Redis RedisConfig `json:"redis" toml:"redis"`
}

// RedisConfig Redis 后端配置
type RedisConfig struct {
	// Addr Redis 地址
	Addr string `json:"addr" toml:"addr" validate:"omitempty,hostname_port"`

	// Password 密码
	Password string `json:"password,omitempty" toml:"password"`

	// DB 数据库编号
	DB int `json:"db" toml:"db" validate:"gte=0"`

	// Prefix 键前缀
	Prefix string `json:"prefix" toml:"prefix"`

	// Replicas 副本数，写一致性按此换算 WAIT 需要的确认数
	Replicas int `json:"replicas" toml:"replicas" validate:"gte=0"`
}

// DefaultReplicationConfig 返回默认复制配置
func DefaultReplicationConfig() ReplicationConfig {
	return ReplicationConfig{
		Backend:          BackendMemory,
		WriteConsistency: "local",
		WriteTimeout:     Duration(3 * time.Second),
		WorkerPoolSize:   16,
		Redis: RedisConfig{
			Addr:   "127.0.0.1:6379",
			Prefix: "topicreg:",
		},
	}
}
