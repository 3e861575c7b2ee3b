// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON / TOML 加载，保存为 JSON / TOML
//   - 支持预设配置（local/cluster）
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Node.Address = "10.0.0.1:2552"
//	cfg.Replication.WriteConsistency = "majority"
//
//	// 从文件加载（按扩展名选择格式）
//	cfg, err := config.LoadFile("topicreg.toml")
//
// 集群内所有节点的 Registry.ClusterSeed 与 Registry.HashFamilySize 必须一致。
package config

// Config 是 topicreg 的完整配置结构
//
// 配置按照功能模块组织：
//   - Node: 本节点身份
//   - Registry: 哈希函数族、布隆过滤器与刷新策略
//   - Replication: 复制后端与写一致性
//   - Retry: 复制写入的重试策略
//   - Metrics: 指标
type Config struct {
	// Node 本节点配置
	Node NodeConfig `json:"node" toml:"node"`

	// Registry 注册表配置
	Registry RegistryConfig `json:"registry" toml:"registry"`

	// Replication 复制配置
	Replication ReplicationConfig `json:"replication" toml:"replication"`

	// Retry 重试配置
	Retry RetryConfig `json:"retry" toml:"retry"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics" toml:"metrics"`
}

// NodeConfig 本节点配置
type NodeConfig struct {
	// Address 本节点在集群中的地址，作为复制映射中的键
	Address string `json:"address" toml:"address" validate:"required"`
}

// DefaultNodeConfig 返回默认节点配置
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Address: "127.0.0.1:2552",
	}
}

// NewConfig 创建默认配置
//
// 返回的配置使用所有组件的默认值，适用于单节点或开发环境。
func NewConfig() *Config {
	return &Config{
		Node:        DefaultNodeConfig(),
		Registry:    DefaultRegistryConfig(),
		Replication: DefaultReplicationConfig(),
		Retry:       DefaultRetryConfig(),
		Metrics:     DefaultMetricsConfig(),
	}
}

// Clone 返回配置的副本
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	next := *c
	return &next
}

// WithNodeAddress 返回设置了节点地址的副本
func (c *Config) WithNodeAddress(addr string) *Config {
	next := c.Clone()
	next.Node.Address = addr
	return next
}

// WithReplication 返回设置了复制配置的副本
func (c *Config) WithReplication(r ReplicationConfig) *Config {
	next := c.Clone()
	next.Replication = r
	return next
}

// WithRetry 返回设置了重试配置的副本
func (c *Config) WithRetry(r RetryConfig) *Config {
	next := c.Clone()
	next.Retry = r
	return next
}
