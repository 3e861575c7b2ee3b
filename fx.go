package topicreg

import (
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-topicreg/config"
	"github.com/dep2p/go-topicreg/internal/registry/ddata"
	"github.com/dep2p/go-topicreg/internal/registry/hashfamily"
	"github.com/dep2p/go-topicreg/internal/registry/subscriptions"
	"github.com/dep2p/go-topicreg/internal/registry/updater"
	"github.com/dep2p/go-topicreg/pkg/interfaces"
	"github.com/dep2p/go-topicreg/pkg/lib/log"
)

var fxLogger = log.Logger("topicreg/fx")

// Module 返回注册表的 Fx 模块
//
// 宿主应用需要提供 *config.Config；可选提供 interfaces.Membership、
// prometheus.Registerer、clock.Clock，以及名为 external_multimap 的
// interfaces.ReplicatedMultimap。模块提供 *Registry，生命周期随宿主应用。
func Module() fx.Option {
	return fx.Module("topicreg",
		fx.Provide(
			provideFamily,
			provideStore,
			provideReplicator,
			newRegistry,
		),
		ddata.Module(),
		updater.Module(),
		fx.Invoke(registerLifecycle),
	)
}

// provideFamily 由集群种子派生哈希函数族
func provideFamily(cfg *config.Config) (*hashfamily.Family, error) {
	r := cfg.Registry
	family, err := hashfamily.NewFromSeed(r.ClusterSeed, r.HashFamilySize,
		hashfamily.WithCacheSize(r.HashCacheSize))
	if err != nil {
		return nil, err
	}
	fxLogger.Debug("哈希函数族已创建",
		"size", family.Size(),
		"fingerprint", family.Fingerprint())
	return family, nil
}

// provideStore 提供空的本地订阅存储，只由写者持有
func provideStore(family *hashfamily.Family) (*subscriptions.Subscriptions, error) {
	return subscriptions.New(family)
}

// provideReplicator 把同步器绑定为写者的复制端
func provideReplicator(s *ddata.Synchronizer) updater.Replicator {
	return s
}

// buildFxApp 构建 Fx 应用
//
// 模块加载顺序即生命周期钩子顺序：
//
//	复制映射 → 同步器 → 写者 → 注册表（成员事件）
//
// 停止时逆序执行。
func buildFxApp(cfg *config.Config, opts *options, reg **Registry) *fx.App {
	modules := []fx.Option{
		fx.Supply(cfg),
		Module(),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 可选依赖
	// ════════════════════════════════════════════════════════════════════════
	if opts.multimap != nil {
		mm := opts.multimap
		modules = append(modules, fx.Provide(
			fx.Annotate(
				func() interfaces.ReplicatedMultimap { return mm },
				fx.ResultTags(ddata.ExternalMultimap),
			),
		))
	}
	if opts.membership != nil {
		m := opts.membership
		modules = append(modules, fx.Provide(func() interfaces.Membership { return m }))
	}
	if opts.clock != nil {
		clk := opts.clock
		modules = append(modules, fx.Provide(func() clock.Clock { return clk }))
	}

	registerer := opts.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	modules = append(modules, fx.Provide(func() prometheus.Registerer { return registerer }))

	// ════════════════════════════════════════════════════════════════════════
	// 用户扩展（Fx Options）
	// ════════════════════════════════════════════════════════════════════════
	if len(opts.userFxOptions) > 0 {
		modules = append(modules, opts.userFxOptions...)
	}

	modules = append(modules,
		fx.Populate(reg),
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
		fx.NopLogger,
	)

	return fx.New(modules...)
}
