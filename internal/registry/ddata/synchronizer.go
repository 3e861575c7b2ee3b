package ddata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-topicreg/internal/registry/hashfamily"
	"github.com/dep2p/go-topicreg/internal/registry/subscriptions"
	"github.com/dep2p/go-topicreg/pkg/interfaces"
	"github.com/dep2p/go-topicreg/pkg/lib/log"
	"github.com/dep2p/go-topicreg/pkg/types"
)

// 默认参数
const (
	DefaultPoolSize     = 16
	DefaultWriteTimeout = 3 * time.Second
	DefaultBloomFPR     = 0.01

	// changeBuffer 变更通知缓冲，溢出时改为全量刷新
	changeBuffer = 256
)

// ============================================================================
//                              选项
// ============================================================================

// Option 同步器选项
type Option func(*options)

type options struct {
	poolSize     int
	writeTimeout time.Duration
	bloomFPR     float64
	metrics      *Metrics
}

func defaultOptions() options {
	return options{
		poolSize:     DefaultPoolSize,
		writeTimeout: DefaultWriteTimeout,
		bloomFPR:     DefaultBloomFPR,
	}
}

// WithPoolSize 设置异步写入协程池大小
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithWriteTimeout 设置单次写入超时（0 表示只受调用方 ctx 限制）
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.writeTimeout = d
		}
	}
}

// WithBloomFalsePositiveRate 设置远端节点布隆过滤器的假阳性率
func WithBloomFalsePositiveRate(fpr float64) Option {
	return func(o *options) {
		if fpr > 0 && fpr < 1 {
			o.bloomFPR = fpr
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// ============================================================================
//                              Synchronizer
// ============================================================================

// Synchronizer 分布式同步器
//
// 写操作提交到协程池异步执行，调用方从返回的通道读取结果（恰好一个值，随后关闭），
// 因此复制后端慢或不可达时不会阻塞本地写者。
type Synchronizer struct {
	self     types.NodeAddress
	multimap interfaces.ReplicatedMultimap
	family   *hashfamily.Family
	opts     options
	pool     *ants.Pool

	// inflight 已提交未完成的写任务
	inflight sync.WaitGroup

	// viewMu 串行化视图写者；读者通过 view 无锁读取
	viewMu sync.Mutex
	view   atomic.Pointer[RemoteView]

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	unsubscribe func()
	watchWG     sync.WaitGroup

	// closeMu 保证 Close 之后不再有新的在途写入
	closeMu sync.RWMutex
	closed  atomic.Bool
}

// New 创建同步器
func New(self types.NodeAddress, multimap interfaces.ReplicatedMultimap, family *hashfamily.Family, opts ...Option) (*Synchronizer, error) {
	if err := self.Validate(); err != nil {
		return nil, err
	}
	if multimap == nil {
		return nil, ErrNilMultimap
	}
	if family == nil {
		return nil, subscriptions.ErrNilFamily
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := ants.NewPool(o.poolSize,
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("复制写任务 panic", "panic", p)
		}),
		ants.WithMaxBlockingTasks(o.poolSize*10))
	if err != nil {
		return nil, fmt.Errorf("ddata: create pool: %w", err)
	}

	s := &Synchronizer{
		self:     self,
		multimap: multimap,
		family:   family,
		opts:     o,
		pool:     pool,
	}
	s.view.Store(newRemoteView(self, family))
	return s, nil
}

// Self 返回本节点地址
func (s *Synchronizer) Self() types.NodeAddress {
	return s.self
}

// ============================================================================
//                              写入侧
// ============================================================================

// UpdateSubscriptions 把本节点的 Update 写入多值映射
//
// 全量形式整体替换本节点条目；增量形式先删除后插入。幂等：重放同一 Update 得到同一状态。
func (s *Synchronizer) UpdateSubscriptions(ctx context.Context, u *subscriptions.Update, wc types.WriteConsistency) <-chan error {
	if u.IsEmpty() {
		return done(nil)
	}

	fp := s.family.Fingerprint()
	if u.IsReplaceAll() {
		values := EncodeBindings(fp, u.InsertBindings())
		return s.submit(ctx, opReplace, func(ctx context.Context) error {
			return s.multimap.Replace(ctx, s.self, values, wc)
		})
	}

	inserts := EncodeBindings(fp, u.InsertBindings())
	deletes := EncodeBindings(fp, u.DeleteBindings())
	return s.submit(ctx, opDelta, func(ctx context.Context) error {
		if len(deletes) > 0 {
			if err := s.multimap.RemoveBindings(ctx, s.self, deletes, wc); err != nil {
				return err
			}
		}
		if len(inserts) > 0 {
			return s.multimap.AddBindings(ctx, s.self, inserts, wc)
		}
		return nil
	})
}

// RemoveAddress 删除 addr 的全部条目
//
// addr 已无条目时同样成功完成。
func (s *Synchronizer) RemoveAddress(ctx context.Context, addr types.NodeAddress, wc types.WriteConsistency) <-chan error {
	if err := addr.Validate(); err != nil {
		return done(err)
	}
	return s.submit(ctx, opRemove, func(ctx context.Context) error {
		return s.multimap.RemoveKey(ctx, addr, wc)
	})
}

// RemoveAddresses 并发删除多个节点的条目并等待全部完成
func (s *Synchronizer) RemoveAddresses(ctx context.Context, addrs []types.NodeAddress, wc types.WriteConsistency) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			select {
			case err := <-s.RemoveAddress(gctx, addr, wc):
				if err != nil {
					return fmt.Errorf("remove %s: %w", addr, err)
				}
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

// submit 把写任务提交到协程池
func (s *Synchronizer) submit(ctx context.Context, op string, write func(ctx context.Context) error) <-chan error {
	s.closeMu.RLock()
	if s.closed.Load() {
		s.closeMu.RUnlock()
		return done(ErrClosed)
	}
	s.inflight.Add(1)
	s.closeMu.RUnlock()

	ch := make(chan error, 1)
	err := s.pool.Submit(func() {
		defer s.inflight.Done()
		start := time.Now()
		err := s.write(ctx, write)
		s.opts.metrics.observeWrite(op, start, err)
		if err != nil {
			logger.Debug("复制写入失败", "op", op, "self", log.TruncateID(s.self.String(), 16), "err", err)
		}
		ch <- err
		close(ch)
	})
	if err != nil {
		s.inflight.Done()
		if errors.Is(err, ants.ErrPoolClosed) {
			return done(ErrClosed)
		}
		return done(fmt.Errorf("ddata: submit %s: %w", op, err))
	}
	return ch
}

// write 在写超时预算内执行写入，超时映射为 ErrWriteTimeout
func (s *Synchronizer) write(ctx context.Context, write func(ctx context.Context) error) error {
	if s.opts.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.writeTimeout)
		defer cancel()
	}

	err := write(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrWriteTimeout) {
		return fmt.Errorf("%w: %w", ErrWriteTimeout, err)
	}
	return err
}

func done(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	close(ch)
	return ch
}

// ============================================================================
//                              读取侧
// ============================================================================

// Approximate 返回主题的哈希标量，用于在远端布隆过滤器上做路由判断
func (s *Synchronizer) Approximate(topic string) int64 {
	return s.family.HashScalar(topic)
}

// RemoteView 返回当前远端视图
func (s *Synchronizer) RemoteView() *RemoteView {
	return s.view.Load()
}

// Refresh 从多值映射全量重建远端视图
func (s *Synchronizer) Refresh(ctx context.Context) error {
	all, err := s.multimap.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("ddata: snapshot: %w", err)
	}

	s.viewMu.Lock()
	defer s.viewMu.Unlock()

	view := newRemoteView(s.self, s.family)
	for addr, values := range all {
		if addr == s.self || len(values) == 0 {
			continue
		}
		if e := s.buildEntry(addr, values); e != nil {
			view.nodes[addr] = e
		}
	}
	s.view.Store(view)
	s.opts.metrics.setRemoteNodes(len(view.nodes))
	return nil
}

// refreshKey 重新读取单个节点的条目
func (s *Synchronizer) refreshKey(ctx context.Context, change interfaces.MultimapChange) error {
	if change.Key == s.self {
		return nil
	}

	var values []string
	if !change.Removed {
		var err error
		values, err = s.multimap.Get(ctx, change.Key)
		if err != nil {
			return fmt.Errorf("ddata: get %s: %w", change.Key, err)
		}
	}

	s.viewMu.Lock()
	defer s.viewMu.Unlock()

	view := s.view.Load()
	if e := s.buildEntry(change.Key, values); e != nil {
		view = view.with(change.Key, e)
	} else {
		view = view.without(change.Key)
	}
	s.view.Store(view)
	s.opts.metrics.setRemoteNodes(len(view.nodes))
	return nil
}

// buildEntry 解码节点的值，忽略函数族指纹不一致的绑定；没有可用绑定时返回 nil
func (s *Synchronizer) buildEntry(addr types.NodeAddress, values []string) *nodeEntry {
	fp := s.family.Fingerprint()
	bindings := make([]subscriptions.Binding, 0, len(values))
	foreign, malformed := 0, 0
	for _, v := range values {
		vfp, b, err := DecodeBinding(v)
		if err != nil {
			malformed++
			continue
		}
		if vfp != fp || len(b.Topic) != s.family.Size() {
			foreign++
			continue
		}
		bindings = append(bindings, b)
	}

	if foreign > 0 {
		logger.Warn("忽略哈希函数族不一致的绑定",
			"node", addr.String(),
			"count", foreign,
			"local", fp)
		s.opts.metrics.addForeignBindings(foreign)
	}
	if malformed > 0 {
		logger.Warn("忽略损坏的绑定", "node", addr.String(), "count", malformed)
	}

	if len(bindings) == 0 {
		return nil
	}
	return newNodeEntry(bindings, s.opts.bloomFPR)
}

// ============================================================================
//                              监听
// ============================================================================

// Watch 订阅多值映射变更并维护远端视图
//
// 先用 ctx 全量刷新一次，之后按变更逐键刷新直到 Close。
// 跟踪循环不继承 ctx 的取消，启动阶段的 ctx 可以在返回后结束。
func (s *Synchronizer) Watch(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	// Close 先置位 closed 再取 watchMu，持锁复查保证不会在 stopWatch 之后启动
	if s.closed.Load() {
		return ErrClosed
	}
	if s.watchCancel != nil {
		return ErrAlreadyWatching
	}

	changes := make(chan interfaces.MultimapChange, changeBuffer)
	resync := make(chan struct{}, 1)
	unsubscribe := s.multimap.Subscribe(func(c interfaces.MultimapChange) {
		select {
		case changes <- c:
		default:
			select {
			case resync <- struct{}{}:
			default:
			}
		}
	})

	if err := s.Refresh(ctx); err != nil {
		unsubscribe()
		return err
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.watchCancel = cancel
	s.unsubscribe = unsubscribe

	s.watchWG.Add(1)
	go func() {
		defer s.watchWG.Done()
		s.watchLoop(watchCtx, changes, resync)
	}()
	return nil
}

func (s *Synchronizer) watchLoop(watchCtx context.Context, changes <-chan interfaces.MultimapChange, resync <-chan struct{}) {
	for {
		select {
		case <-watchCtx.Done():
			return
		case <-resync:
			if err := s.Refresh(watchCtx); err != nil {
				logger.Warn("远端视图全量刷新失败", "err", err)
			}
		case c := <-changes:
			if err := s.refreshKey(watchCtx, c); err != nil {
				logger.Warn("远端视图刷新失败", "node", c.Key.String(), "err", err)
			}
		}
	}
}

// stopWatch 停止监听并等待监听协程退出
func (s *Synchronizer) stopWatch() {
	s.watchMu.Lock()
	cancel, unsubscribe := s.watchCancel, s.unsubscribe
	s.watchCancel, s.unsubscribe = nil, nil
	s.watchMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	s.watchWG.Wait()
}

// Close 停止监听，等待在途写入完成并释放协程池
//
// 不关闭多值映射，其生命周期由创建者管理。
func (s *Synchronizer) Close() error {
	s.closeMu.Lock()
	if s.closed.Load() {
		s.closeMu.Unlock()
		return nil
	}
	s.closed.Store(true)
	s.closeMu.Unlock()

	s.stopWatch()
	s.inflight.Wait()
	s.pool.Release()
	return nil
}
