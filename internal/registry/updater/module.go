package updater

import (
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-topicreg/config"
	"github.com/dep2p/go-topicreg/internal/registry/subscriptions"
)

// Module 返回 Fx 模块
//
// 依赖 Replicator 由外层模块绑定。
func Module() fx.Option {
	return fx.Module("updater",
		fx.Provide(
			ConfigFromUnified,
			ProvideMetrics,
			ProvideUpdater,
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

// ProvideMetrics 按配置提供写者指标，未启用时返回 nil
func ProvideMetrics(input metricsInput) (*Metrics, error) {
	if input.Config == nil || !input.Config.Metrics.Enabled {
		return nil, nil
	}
	return NewMetrics(input.Registerer)
}

// updaterInput 写者依赖
type updaterInput struct {
	fx.In
	Store      *subscriptions.Subscriptions
	Replicator Replicator
	Config     Config
	Clock      clock.Clock `optional:"true"`
	Metrics    *Metrics    `optional:"true"`
}

// ProvideUpdater 提供单一写者
func ProvideUpdater(input updaterInput) (*Updater, error) {
	var opts []Option
	if input.Clock != nil {
		opts = append(opts, WithClock(input.Clock))
	}
	if input.Metrics != nil {
		opts = append(opts, WithMetrics(input.Metrics))
	}
	return New(input.Store, input.Replicator, input.Config, opts...)
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In
	LC      fx.Lifecycle
	Updater *Updater
}

// registerLifecycle 注册写者生命周期
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: input.Updater.Start,
		OnStop:  input.Updater.Stop,
	})
}
