package topicreg

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-topicreg/pkg/interfaces"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 外部复制映射，进程内多节点共享时使用
	multimap interfaces.ReplicatedMultimap

	// 成员关系，节点永久离开时触发 NodeDown
	membership interfaces.Membership

	// 指标注册器，为空时使用 prometheus.DefaultRegisterer
	registerer prometheus.Registerer

	// 时钟，测试中替换为 mock
	clock clock.Clock

	// 用户扩展
	userFxOptions []fx.Option
}

// WithMultimap 使用外部复制多值映射
//
// 映射由调用方关闭，配置中的复制后端被忽略。
func WithMultimap(mm interfaces.ReplicatedMultimap) Option {
	return func(o *options) error {
		if mm == nil {
			return errors.New("multimap is nil")
		}
		o.multimap = mm
		return nil
	}
}

// WithMembership 接入集群成员关系
func WithMembership(m interfaces.Membership) Option {
	return func(o *options) error {
		if m == nil {
			return errors.New("membership is nil")
		}
		o.membership = m
		return nil
	}
}

// WithRegisterer 设置 Prometheus 注册器
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithFxOptions 追加 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}
