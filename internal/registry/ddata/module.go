package ddata

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-topicreg/config"
	"github.com/dep2p/go-topicreg/internal/registry/hashfamily"
	"github.com/dep2p/go-topicreg/pkg/interfaces"
	"github.com/dep2p/go-topicreg/pkg/types"
)

// ExternalMultimap 外部注入多值映射时使用的 fx 名称
//
// 注入的映射由调用方负责关闭。
const ExternalMultimap = `name:"external_multimap"`

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("ddata",
		fx.Provide(
			ProvideMetrics,
			ProvideMultimap,
			ProvideSynchronizer,
		),
		fx.Invoke(registerLifecycle),
	)
}

// metricsInput 指标依赖
type metricsInput struct {
	fx.In
	Config     *config.Config
	Registerer prometheus.Registerer `optional:"true"`
}

// ProvideMetrics 按配置提供同步器指标，未启用时返回 nil
func ProvideMetrics(input metricsInput) (*Metrics, error) {
	if input.Config == nil || !input.Config.Metrics.Enabled {
		return nil, nil
	}
	return NewMetrics(input.Registerer)
}

// multimapInput 多值映射依赖
type multimapInput struct {
	fx.In
	LC       fx.Lifecycle
	Config   *config.Config
	External interfaces.ReplicatedMultimap `name:"external_multimap" optional:"true"`
}

// ProvideMultimap 提供复制多值映射
//
// 有外部注入时直接使用；否则按配置创建，并在停止时关闭。
func ProvideMultimap(input multimapInput) (interfaces.ReplicatedMultimap, error) {
	if input.External != nil {
		return input.External, nil
	}

	mm, err := NewMultimap(input.Config)
	if err != nil {
		return nil, err
	}
	input.LC.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return mm.Close()
		},
	})
	return mm, nil
}

// synchronizerInput 同步器依赖
type synchronizerInput struct {
	fx.In
	Config   *config.Config
	Multimap interfaces.ReplicatedMultimap
	Family   *hashfamily.Family
	Metrics  *Metrics `optional:"true"`
}

// ProvideSynchronizer 提供同步器
func ProvideSynchronizer(input synchronizerInput) (*Synchronizer, error) {
	opts := OptionsFromUnified(input.Config)
	if input.Metrics != nil {
		opts = append(opts, WithMetrics(input.Metrics))
	}
	return New(types.NodeAddress(input.Config.Node.Address), input.Multimap, input.Family, opts...)
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In
	LC   fx.Lifecycle
	Sync *Synchronizer
}

// registerLifecycle 启动时开始跟踪远端视图，停止时关闭同步器
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return input.Sync.Watch(ctx)
		},
		OnStop: func(_ context.Context) error {
			return input.Sync.Close()
		},
	})
}
