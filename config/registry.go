package config

import "time"

// RegistryConfig 注册表配置
type RegistryConfig struct {
	// ClusterSeed 集群种子字符串，派生哈希函数族的种子
	ClusterSeed string `json:"cluster_seed" toml:"cluster_seed" validate:"required"`

	// HashFamilySize 哈希函数族大小
	HashFamilySize int `json:"hash_family_size" toml:"hash_family_size" validate:"min=1,max=64"`

	// HashCacheSize 主题哈希向量缓存容量
	HashCacheSize int `json:"hash_cache_size" toml:"hash_cache_size" validate:"min=1"`

	// BloomFalsePositiveRate 布隆过滤器目标假阳性率
	BloomFalsePositiveRate float64 `json:"bloom_false_positive_rate" toml:"bloom_false_positive_rate" validate:"gt=0,lt=1"`

	// FlushInterval 变更复制的刷新间隔
	FlushInterval Duration `json:"flush_interval" toml:"flush_interval" validate:"gt=0"`

	// FullSyncRatio 增量绑定数超过 导出大小 × 该比例 时改为全量同步
	FullSyncRatio float64 `json:"full_sync_ratio" toml:"full_sync_ratio" validate:"gte=0"`

	// CommandBuffer 写者命令队列长度
	CommandBuffer int `json:"command_buffer" toml:"command_buffer" validate:"min=1"`
}

// DefaultRegistryConfig 返回默认注册表配置
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		ClusterSeed:            "topicreg",
		HashFamilySize:         4,
		HashCacheSize:          4096,
		BloomFalsePositiveRate: 0.01,
		FlushInterval:          Duration(200 * time.Millisecond),
		FullSyncRatio:          0.5,
		CommandBuffer:          1024,
	}
}
