package topicreg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-topicreg/config"
	"github.com/dep2p/go-topicreg/internal/registry/bloom"
	"github.com/dep2p/go-topicreg/internal/registry/ddata"
	"github.com/dep2p/go-topicreg/internal/registry/subscriptions"
	"github.com/dep2p/go-topicreg/internal/registry/updater"
	"github.com/dep2p/go-topicreg/pkg/interfaces"
	"github.com/dep2p/go-topicreg/pkg/lib/log"
	"github.com/dep2p/go-topicreg/pkg/types"
)

var logger = log.Logger("topicreg")

// closeTimeout 关闭时等待停止钩子的上限
const closeTimeout = 10 * time.Second

type (
	// Filter 订阅者的主题过滤器，返回 false 表示暂不接收该主题
	Filter = subscriptions.Filter

	// Snapshot 本地订阅的不可变快照
	Snapshot = subscriptions.Reader

	// BloomFilter 主题布隆过滤器
	BloomFilter = bloom.Filter
)

// Route 一次发布的投递目标
type Route struct {
	// Local 本节点上的投递目标
	Local []types.Subscriber

	// Remote 需要转发的远端节点
	Remote []types.NodeAddress
}

// Registry 主题订阅注册表
//
// 修改操作经由单一写者串行执行；查询操作读取不可变快照和远端视图，无锁。
type Registry struct {
	cfg        *config.Config
	self       types.NodeAddress
	updater    *updater.Updater
	syncer     *ddata.Synchronizer
	membership interfaces.Membership

	// app 为空表示生命周期由宿主 fx 应用管理
	app     *fx.App
	mu      sync.Mutex
	started bool
	closed  bool

	running     atomic.Bool
	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

// registryInput 注册表依赖
type registryInput struct {
	fx.In
	Config     *config.Config
	Updater    *updater.Updater
	Sync       *ddata.Synchronizer
	Membership interfaces.Membership `optional:"true"`
}

func newRegistry(input registryInput) *Registry {
	return &Registry{
		cfg:        input.Config,
		self:       input.Sync.Self(),
		updater:    input.Updater,
		syncer:     input.Sync,
		membership: input.Membership,
	}
}

// New 创建注册表
//
// cfg 先经过校验；返回的注册表需要 Start 后才能修改订阅。
func New(cfg *config.Config, opts ...Option) (*Registry, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	var reg *Registry
	app := buildFxApp(cfg, o, &reg)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	reg.app = app
	return reg, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动注册表
func (r *Registry) Start(ctx context.Context) error {
	if r.app == nil {
		return ErrExternallyManaged
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if r.started {
		return ErrAlreadyStarted
	}

	if err := r.app.Start(ctx); err != nil {
		return fmt.Errorf("start registry: %w", err)
	}
	r.started = true

	logger.Info("注册表已启动", "self", r.self.String())
	return nil
}

// Close 关闭注册表，重复调用安全
func (r *Registry) Close() error {
	if r.app == nil {
		return ErrExternallyManaged
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if !r.started {
		// 未启动时停止钩子不会执行，只释放同步器的协程池
		return r.syncer.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := r.app.Stop(ctx); err != nil {
		return fmt.Errorf("stop registry: %w", err)
	}

	logger.Info("注册表已关闭", "self", r.self.String())
	return nil
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In
	LC       fx.Lifecycle
	Registry *Registry
}

// registerLifecycle 注册成员事件监听
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: input.Registry.onStart,
		OnStop:  input.Registry.onStop,
	})
}

func (r *Registry) onStart(ctx context.Context) error {
	if r.membership != nil {
		if self := r.membership.Self(); self != r.self {
			logger.Warn("成员关系地址与配置不一致",
				"config", r.self.String(),
				"membership", self.String())
		}

		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		events, err := r.membership.Events(watchCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe member events: %w", err)
		}
		r.watchCancel = cancel
		r.watchWG.Add(1)
		go r.watchMembers(watchCtx, events)
	}

	r.running.Store(true)
	return nil
}

func (r *Registry) onStop(_ context.Context) error {
	r.running.Store(false)
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchWG.Wait()
		r.watchCancel = nil
	}
	return nil
}

// watchMembers 节点永久离开时清理其复制条目
func (r *Registry) watchMembers(ctx context.Context, events <-chan interfaces.MemberEvent) {
	defer r.watchWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != interfaces.MemberRemoved || ev.Address == r.self {
				logger.Debug("忽略成员事件", "node", ev.Address.String(), "type", ev.Type.String())
				continue
			}
			if err := r.updater.NodeDown(ctx, ev.Address); err != nil && ctx.Err() == nil {
				logger.Warn("清理离开节点失败", "node", ev.Address.String(), "err", err)
			}
		}
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              修改操作
// ════════════════════════════════════════════════════════════════════════════

// Self 返回本节点地址
func (r *Registry) Self() types.NodeAddress {
	return r.self
}

// Subscribe 为订阅者添加主题
//
// group 非空时同一分组内每次发布只选中一个成员；filter 可为 nil。
// 返回导出的哈希主题集合是否变化。
func (r *Registry) Subscribe(ctx context.Context, sub types.Subscriber, topics []string, group string, filter Filter) (bool, error) {
	if err := r.checkRunning(); err != nil {
		return false, err
	}
	return r.updater.Subscribe(ctx, sub, topics, group, filter)
}

// Unsubscribe 移除订阅者的主题
func (r *Registry) Unsubscribe(ctx context.Context, sub types.Subscriber, topics []string) (bool, error) {
	if err := r.checkRunning(); err != nil {
		return false, err
	}
	return r.updater.Unsubscribe(ctx, sub, topics)
}

// RemoveSubscriber 移除订阅者的全部主题
func (r *Registry) RemoveSubscriber(ctx context.Context, sub types.Subscriber) (bool, error) {
	if err := r.checkRunning(); err != nil {
		return false, err
	}
	return r.updater.RemoveSubscriber(ctx, sub)
}

// NodeDown 移除节点 addr 的本地订阅者并清理其复制条目
func (r *Registry) NodeDown(ctx context.Context, addr types.NodeAddress) error {
	if err := r.checkRunning(); err != nil {
		return err
	}
	return r.updater.NodeDown(ctx, addr)
}

// Flush 立即复制尚未复制的本地变化并等待完成
func (r *Registry) Flush(ctx context.Context) error {
	if err := r.checkRunning(); err != nil {
		return err
	}
	return r.updater.Flush(ctx)
}

func (r *Registry) checkRunning() error {
	if r.running.Load() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	return ErrNotStarted
}

// ════════════════════════════════════════════════════════════════════════════
//                              查询操作
// ════════════════════════════════════════════════════════════════════════════

// Snapshot 返回最近一次发布的本地订阅快照
func (r *Registry) Snapshot() *Snapshot {
	return r.updater.Reader()
}

// GetSubscribers 返回本地对给定主题感兴趣的订阅者
//
// 只看本节点：跨节点的分组在这里仍会选出一个本地成员，发布路由用 Route。
func (r *Registry) GetSubscribers(topics ...string) []types.Subscriber {
	return r.updater.Reader().GetSubscribers(topics)
}

// Route 计算一次发布 topic 的全部目标
//
// 未分组的订阅者（本地与远端）全部投递；每个分组在整个集群中只选一个成员，
// 本节点与远端节点一起参与该分组的节点选择。
func (r *Registry) Route(topic string) Route {
	snap := r.updater.Reader()
	remote, won := r.syncer.RemoteView().Route(topic, snap.GroupsFor(topic))
	return Route{
		Local:  snap.GetSubscribersInGroups([]string{topic}, won),
		Remote: remote,
	}
}

// RemoteNodes 返回发布该主题需要转发的远端节点，等价于 Route(topic).Remote
func (r *Registry) RemoteNodes(topic string) []types.NodeAddress {
	remote, _ := r.syncer.RemoteView().Route(topic, r.updater.Reader().GroupsFor(topic))
	return remote
}

// Nodes 返回已知的远端节点
func (r *Registry) Nodes() []types.NodeAddress {
	return r.syncer.RemoteView().Nodes()
}

// MayRoute 检查远端节点 addr 是否可能需要该主题
//
// 只有假阳性，没有假阴性。
func (r *Registry) MayRoute(addr types.NodeAddress, topic string) bool {
	return r.syncer.RemoteView().MayContain(addr, topic)
}

// Approximate 返回主题的哈希标量
func (r *Registry) Approximate(topic string) int64 {
	return r.syncer.Approximate(topic)
}

// BloomFilter 以配置的假阳性率为本地主题构建布隆过滤器
func (r *Registry) BloomFilter(ctx context.Context) (*BloomFilter, error) {
	if err := r.checkRunning(); err != nil {
		return nil, err
	}
	return r.updater.BloomFilter(ctx, r.cfg.Registry.BloomFalsePositiveRate)
}

// EstimateSize 估算本地订阅的字节开销
func (r *Registry) EstimateSize(ctx context.Context) (int64, error) {
	if err := r.checkRunning(); err != nil {
		return 0, err
	}
	return r.updater.EstimateSize(ctx)
}

// IsStopped 检查错误是否表示注册表已停止
func IsStopped(err error) bool {
	return errors.Is(err, ErrRegistryClosed) || errors.Is(err, updater.ErrStopped)
}
