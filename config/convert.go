package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FromJSON 从 JSON 数据创建配置
//
// 未出现的字段保留默认值。示例：
//
//	{
//	  "node": {"address": "10.0.0.1:2552"},
//	  "replication": {"backend": "redis", "write_consistency": "majority"},
//	  "retry": {"attempts": 3, "min_delay": "100ms"}
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// FromTOML 从 TOML 数据创建配置
//
// 未出现的字段保留默认值。
func FromTOML(data []byte) (*Config, error) {
	cfg := NewConfig()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode toml config: %w", err)
	}
	return cfg, nil
}

// LoadFile 从文件加载并验证配置
//
// .toml 按 TOML 解析，其余按 JSON 解析。
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		cfg, err = FromTOML(data)
	default:
		cfg, err = FromJSON(data)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToJSON 把配置编码为缩进 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ToTOML 把配置编码为 TOML
func (c *Config) ToTOML() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode toml config: %w", err)
	}
	return buf.Bytes(), nil
}

// ApplyPreset 应用预设配置
//
// 支持的预设：
//   - "local": 单进程模拟集群，内存后端，快速刷新
//   - "cluster": Redis 后端，多数派确认，较长的重试预算
func ApplyPreset(cfg *Config, presetName string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	switch presetName {
	case "local":
		cfg.Replication.Backend = BackendMemory
		cfg.Replication.WriteConsistency = "local"
		cfg.Registry.FlushInterval = Duration(50 * time.Millisecond)
		cfg.Retry.Attempts = 3
		cfg.Retry.MinDelay = Duration(20 * time.Millisecond)
		cfg.Retry.MaxDelay = Duration(500 * time.Millisecond)
		return nil
	case "cluster":
		cfg.Replication.Backend = BackendRedis
		cfg.Replication.WriteConsistency = "majority"
		cfg.Registry.FlushInterval = Duration(500 * time.Millisecond)
		cfg.Retry.Attempts = 8
		cfg.Retry.Backoff = "exponential"
		cfg.Retry.MaxDelay = Duration(30 * time.Second)
		return nil
	case "":
		// 空预设，不做任何操作
		return nil
	default:
		return fmt.Errorf("unknown preset: %s", presetName)
	}
}
