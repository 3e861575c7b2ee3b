// Package updater 实现拥有本地订阅存储的单一写者
//
// 所有修改以命令形式进入一个协程串行执行，存储本身无锁；
// 每次修改后发布新的只读快照，读者通过 Reader 无锁获取。
// 导出的变化按 FlushInterval 批量复制，复制在独立协程中带重试执行，
// 因此复制后端慢或不可达时不会阻塞订阅/退订。
package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-topicreg/internal/registry/bloom"
	"github.com/dep2p/go-topicreg/internal/registry/subscriptions"
	"github.com/dep2p/go-topicreg/internal/util/retry"
	"github.com/dep2p/go-topicreg/pkg/lib/log"
	"github.com/dep2p/go-topicreg/pkg/types"
)

var logger = log.Logger("registry/updater")

var (
	// ErrNotStarted 写者未启动
	ErrNotStarted = errors.New("updater: not started")

	// ErrStopped 写者已停止
	ErrStopped = errors.New("updater: stopped")

	// ErrNilStore 未提供存储
	ErrNilStore = errors.New("updater: nil store")

	// ErrNilReplicator 未提供复制器
	ErrNilReplicator = errors.New("updater: nil replicator")
)

// Replicator 复制写入方，由 ddata.Synchronizer 实现
type Replicator interface {
	UpdateSubscriptions(ctx context.Context, u *subscriptions.Update, wc types.WriteConsistency) <-chan error
	RemoveAddress(ctx context.Context, addr types.NodeAddress, wc types.WriteConsistency) <-chan error
}

// 运行状态
const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Option 选项
type Option func(*Updater)

// WithClock 设置时钟（测试使用 mock）
func WithClock(clk clock.Clock) Option {
	return func(u *Updater) {
		if clk != nil {
			u.clk = clk
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(m *Metrics) Option {
	return func(u *Updater) {
		u.metrics = m
	}
}

// flushResult 一次复制写入的结果
type flushResult struct {
	full bool
	err  error
}

// Updater 单一写者
type Updater struct {
	store   *subscriptions.Subscriptions
	repl    Replicator
	cfg     Config
	clk     clock.Clock
	metrics *Metrics

	cmds   chan func()
	reader atomic.Pointer[subscriptions.Reader]

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	// done 在主循环退出时关闭
	done chan struct{}
	wg   sync.WaitGroup

	// 以下字段只由主循环协程访问
	dirty    bool
	needFull bool
	flushing bool
	results  chan flushResult
	waiters  []chan error
}

// New 创建写者
func New(store *subscriptions.Subscriptions, repl Replicator, cfg Config, opts ...Option) (*Updater, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if repl == nil {
		return nil, ErrNilReplicator
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("updater: flush interval must be positive")
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = DefaultConfig().CommandBuffer
	}

	u := &Updater{
		store:    store,
		repl:     repl,
		cfg:      cfg,
		clk:      clock.New(),
		cmds:     make(chan func(), cfg.CommandBuffer),
		done:     make(chan struct{}),
		needFull: true,
		results:  make(chan flushResult, 1),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.reader.Store(store.Snapshot())
	return u, nil
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动主循环
func (u *Updater) Start(_ context.Context) error {
	if !u.state.CompareAndSwap(stateIdle, stateRunning) {
		if u.state.Load() == stateStopped {
			return ErrStopped
		}
		return nil
	}

	u.ctx, u.cancel = context.WithCancel(context.Background())

	u.wg.Add(1)
	go u.loop(u.ctx)

	logger.Info("订阅写者已启动",
		"flushInterval", u.cfg.FlushInterval,
		"consistency", u.cfg.WriteConsistency.String())
	return nil
}

// Stop 停止主循环并等待在途复制结束
//
// 尚未复制的本地变化被丢弃；远端副本在成员离开时由其他节点清理。
func (u *Updater) Stop(_ context.Context) error {
	if !u.state.CompareAndSwap(stateRunning, stateStopped) {
		u.state.CompareAndSwap(stateIdle, stateStopped)
		return nil
	}
	u.cancel()
	u.wg.Wait()
	logger.Info("订阅写者已停止")
	return nil
}

// loop 主循环：执行命令、定时刷新、接收复制结果
func (u *Updater) loop(ctx context.Context) {
	defer u.wg.Done()
	defer close(u.done)

	ticker := u.clk.Ticker(u.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.notifyWaiters(ErrStopped)
			return
		case cmd := <-u.cmds:
			cmd()
		case <-ticker.C:
			u.maybeFlush()
		case res := <-u.results:
			u.onFlushed(res)
		}
	}
}

// do 把 fn 交给主循环执行并等待完成
func (u *Updater) do(ctx context.Context, fn func()) error {
	switch u.state.Load() {
	case stateIdle:
		return ErrNotStarted
	case stateStopped:
		return ErrStopped
	}

	finished := make(chan struct{})
	cmd := func() {
		fn()
		close(finished)
	}

	select {
	case u.cmds <- cmd:
	case <-u.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-u.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
//                              修改操作
// ============================================================================

// Subscribe 为订阅者添加主题，返回导出是否变化
func (u *Updater) Subscribe(ctx context.Context, sub types.Subscriber, topics []string, group string, filter subscriptions.Filter) (bool, error) {
	var (
		changed bool
		err     error
	)
	if e := u.do(ctx, func() {
		changed, err = u.store.Subscribe(sub, topics, group, filter)
		u.afterMutation(changed)
	}); e != nil {
		return false, e
	}
	return changed, err
}

// Unsubscribe 移除订阅者的主题
func (u *Updater) Unsubscribe(ctx context.Context, sub types.Subscriber, topics []string) (bool, error) {
	var (
		changed bool
		err     error
	)
	if e := u.do(ctx, func() {
		changed, err = u.store.Unsubscribe(sub, topics)
		u.afterMutation(changed)
	}); e != nil {
		return false, e
	}
	return changed, err
}

// RemoveSubscriber 移除订阅者
func (u *Updater) RemoveSubscriber(ctx context.Context, sub types.Subscriber) (bool, error) {
	var (
		changed bool
		err     error
	)
	if e := u.do(ctx, func() {
		changed, err = u.store.RemoveSubscriber(sub)
		u.afterMutation(changed)
	}); e != nil {
		return false, e
	}
	return changed, err
}

// RemoveAddress 移除来自 addr 的全部本地订阅者
func (u *Updater) RemoveAddress(ctx context.Context, addr types.NodeAddress) (bool, error) {
	var changed bool
	if err := u.do(ctx, func() {
		changed = u.store.RemoveAddress(addr)
		u.afterMutation(changed)
	}); err != nil {
		return false, err
	}
	return changed, nil
}

// NodeDown 处理节点永久离开：移除其本地订阅者，并从复制映射中删除其条目
func (u *Updater) NodeDown(ctx context.Context, addr types.NodeAddress) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	if _, err := u.RemoveAddress(ctx, addr); err != nil {
		return err
	}

	err := retry.Do(ctx, u.cfg.Retry, u.clk, func(actx context.Context) error {
		return await(actx, u.repl.RemoveAddress(actx, addr, u.cfg.WriteConsistency))
	})
	if err != nil {
		logger.Warn("删除离开节点的复制条目失败", "node", addr.String(), "err", err)
		return err
	}
	logger.Debug("已清理离开节点", "node", addr.String())
	return nil
}

// afterMutation 发布新快照，导出变化时标记待刷新
func (u *Updater) afterMutation(changed bool) {
	u.reader.Store(u.store.Snapshot())
	if changed {
		u.dirty = true
	}
	u.metrics.setSizes(u.store.SubscriberCount(), u.store.TopicCount(), u.store.PendingDeltaSize())
}

// ============================================================================
//                              查询
// ============================================================================

// Reader 返回最新快照，无锁
func (u *Updater) Reader() *subscriptions.Reader {
	return u.reader.Load()
}

// BloomFilter 为本地主题构建布隆过滤器
func (u *Updater) BloomFilter(ctx context.Context, fpr float64) (*bloom.Filter, error) {
	var (
		f   *bloom.Filter
		err error
	)
	if e := u.do(ctx, func() {
		f, err = u.store.ToOptimalBloomFilter(fpr)
	}); e != nil {
		return nil, e
	}
	return f, err
}

// EstimateSize 估算本地存储大小
func (u *Updater) EstimateSize(ctx context.Context) (int64, error) {
	var size int64
	if err := u.do(ctx, func() {
		size = u.store.EstimateSize()
	}); err != nil {
		return 0, err
	}
	return size, nil
}

// ============================================================================
//                              复制
// ============================================================================

// Flush 立即复制尚未复制的变化并等待结果
//
// 没有待复制的变化时立即返回 nil。
func (u *Updater) Flush(ctx context.Context) error {
	wait := make(chan error, 1)
	if err := u.do(ctx, func() {
		if !u.dirty && !u.flushing {
			wait <- nil
			return
		}
		u.waiters = append(u.waiters, wait)
		u.maybeFlush()
	}); err != nil {
		return err
	}

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// maybeFlush 有变化且无在途复制时发起一次复制
//
// 首次复制、上次失败后、或增量超过阈值时使用全量替换，否则发送增量。
func (u *Updater) maybeFlush() {
	ctx := u.ctx
	if !u.dirty || u.flushing {
		return
	}

	var update *subscriptions.Update
	full := u.needFull ||
		float64(u.store.PendingDeltaSize()) > u.cfg.FullSyncRatio*float64(u.store.ExportSize())
	if full {
		update = u.store.Export()
		u.store.ResetDelta()
	} else {
		update = u.store.TakeDelta()
	}
	u.dirty = false
	u.flushing = true

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		err := retry.Do(ctx, u.cfg.Retry, u.clk, func(actx context.Context) error {
			return await(actx, u.repl.UpdateSubscriptions(actx, update, u.cfg.WriteConsistency))
		})
		select {
		case u.results <- flushResult{full: full, err: err}:
		case <-ctx.Done():
		}
	}()
}

// onFlushed 处理复制结果
func (u *Updater) onFlushed(res flushResult) {
	u.flushing = false
	u.metrics.observeFlush(res.full, res.err)

	if res.err != nil {
		// 失败的增量已从累计中取出，下次必须全量同步
		u.needFull = true
		u.dirty = true
		logger.Warn("订阅复制失败，将在下次刷新时全量同步", "full", res.full, "err", res.err)
		u.notifyWaiters(res.err)
		return
	}

	if res.full {
		u.needFull = false
	}
	if u.dirty && len(u.waiters) > 0 {
		// 复制期间又有变化，等待者需要看到最新状态
		u.maybeFlush()
		return
	}
	u.notifyWaiters(nil)
}

func (u *Updater) notifyWaiters(err error) {
	for _, w := range u.waiters {
		w <- err
	}
	u.waiters = nil
}

// await 等待完成信号或 ctx 结束
func await(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
