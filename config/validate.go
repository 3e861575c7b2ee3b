package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	"github.com/dep2p/go-topicreg/pkg/types"
)

// ErrInvalidConfig 无效配置
var ErrInvalidConfig = errors.New("config: invalid")

var validate = validator.New()

// Validate 验证配置的有效性
//
// 先做结构体标签校验，再做跨字段校验；所有问题聚合后一起返回。
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}

	var errs error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = multierr.Append(errs, fmt.Errorf("%w: %s failed %q (value %v)",
					ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = multierr.Append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
		}
	}

	errs = multierr.Append(errs, c.Replication.validate())
	errs = multierr.Append(errs, c.Retry.validate())
	return errs
}

func (r ReplicationConfig) validate() error {
	var errs error
	if _, err := r.Consistency(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	if r.Backend == BackendRedis && r.Redis.Addr == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: replication.redis.addr required for redis backend", ErrInvalidConfig))
	}
	return errs
}

func (r RetryConfig) validate() error {
	var errs error
	if _, err := r.BackoffKind(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	if r.MaxDelay < r.MinDelay {
		errs = multierr.Append(errs, fmt.Errorf("%w: retry.max_delay %s < retry.min_delay %s",
			ErrInvalidConfig, r.MaxDelay, r.MinDelay))
	}
	return errs
}

// Consistency 解析写一致性
func (r ReplicationConfig) Consistency() (types.WriteConsistency, error) {
	return types.ParseWriteConsistency(r.WriteConsistency)
}

// BackoffKind 解析退避策略
func (r RetryConfig) BackoffKind() (types.BackoffKind, error) {
	return types.ParseBackoffKind(r.Backoff)
}

// MustValidate 验证配置，无效时 panic
func MustValidate(c *Config) {
	if err := c.Validate(); err != nil {
		panic(err)
	}
}
