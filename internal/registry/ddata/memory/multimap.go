// Package memory 提供进程内的 ReplicatedMultimap 实现
//
// 同一进程中的多个节点共享一个 Multimap 即可模拟集群；
// 支持注入写延迟、写失败和副本不可用，用于测试复制失败路径。
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-topicreg/pkg/interfaces"
	"github.com/dep2p/go-topicreg/pkg/types"
)

// ErrClosed 多值映射已关闭
var ErrClosed = errors.New("memory: multimap closed")

// 确保 Multimap 实现 ReplicatedMultimap 接口
var _ interfaces.ReplicatedMultimap = (*Multimap)(nil)

// Option 选项
type Option func(*Multimap)

// WithLatency 设置每次写入的延迟
func WithLatency(d time.Duration) Option {
	return func(m *Multimap) {
		m.latency = d
	}
}

// WithReplicas 设置副本数（不含本地副本）
func WithReplicas(n int) Option {
	return func(m *Multimap) {
		if n >= 0 {
			m.replicas = n
			m.available.Store(int32(n))
		}
	}
}

// Multimap 进程内多值映射
type Multimap struct {
	mu     sync.RWMutex
	data   map[types.NodeAddress]map[string]struct{}
	closed bool

	subMu  sync.RWMutex
	subs   map[uint64]func(interfaces.MultimapChange)
	nextID uint64

	latency  time.Duration
	replicas int

	available atomic.Int32
	failNext  atomic.Int32
	failErr   atomic.Pointer[error]
	writes    atomic.Int64
}

// New 创建多值映射
func New(opts ...Option) *Multimap {
	m := &Multimap{
		data: make(map[types.NodeAddress]map[string]struct{}),
		subs: make(map[uint64]func(interfaces.MultimapChange)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ============================================================================
//                              故障注入
// ============================================================================

// FailNext 让接下来 n 次写入返回 err
func (m *Multimap) FailNext(n int, err error) {
	m.failErr.Store(&err)
	m.failNext.Store(int32(n))
}

// SetAvailableReplicas 设置当前可确认的副本数
func (m *Multimap) SetAvailableReplicas(n int) {
	m.available.Store(int32(n))
}

// Writes 返回成功写入次数
func (m *Multimap) Writes() int64 {
	return m.writes.Load()
}

// Subscribers 返回当前注册的变更回调数
func (m *Multimap) Subscribers() int {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	return len(m.subs)
}

// beforeWrite 模拟延迟、注入失败和一致性检查
func (m *Multimap) beforeWrite(ctx context.Context, wc types.WriteConsistency) error {
	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		n := m.failNext.Load()
		if n <= 0 {
			break
		}
		if m.failNext.CompareAndSwap(n, n-1) {
			if p := m.failErr.Load(); p != nil && *p != nil {
				return *p
			}
			return types.ErrConsistencyNotReached
		}
	}

	if int(m.available.Load()) < wc.RequiredAcks(m.replicas) {
		return types.ErrConsistencyNotReached
	}
	return nil
}

// ============================================================================
//                              ReplicatedMultimap
// ============================================================================

// AddBindings 向 key 的集合添加值
func (m *Multimap) AddBindings(ctx context.Context, key types.NodeAddress, values []string, wc types.WriteConsistency) error {
	return m.mutate(ctx, key, wc, func(set map[string]struct{}) {
		for _, v := range values {
			set[v] = struct{}{}
		}
	})
}

// RemoveBindings 从 key 的集合移除值
func (m *Multimap) RemoveBindings(ctx context.Context, key types.NodeAddress, values []string, wc types.WriteConsistency) error {
	return m.mutate(ctx, key, wc, func(set map[string]struct{}) {
		for _, v := range values {
			delete(set, v)
		}
	})
}

// Replace 整体替换 key 的集合
func (m *Multimap) Replace(ctx context.Context, key types.NodeAddress, values []string, wc types.WriteConsistency) error {
	return m.mutate(ctx, key, wc, func(set map[string]struct{}) {
		for v := range set {
			delete(set, v)
		}
		for _, v := range values {
			set[v] = struct{}{}
		}
	})
}

// RemoveKey 删除 key
func (m *Multimap) RemoveKey(ctx context.Context, key types.NodeAddress, wc types.WriteConsistency) error {
	if err := m.beforeWrite(ctx, wc); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	_, existed := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()

	m.writes.Add(1)
	if existed {
		m.notify(interfaces.MultimapChange{Key: key, Removed: true})
	}
	return nil
}

func (m *Multimap) mutate(ctx context.Context, key types.NodeAddress, wc types.WriteConsistency, fn func(set map[string]struct{})) error {
	if err := m.beforeWrite(ctx, wc); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	set, ok := m.data[key]
	if !ok {
		set = make(map[string]struct{})
	}
	fn(set)
	removed := len(set) == 0
	if removed {
		delete(m.data, key)
	} else {
		m.data[key] = set
	}
	m.mu.Unlock()

	m.writes.Add(1)
	m.notify(interfaces.MultimapChange{Key: key, Removed: removed})
	return nil
}

// Get 读取 key 的集合（排序）
func (m *Multimap) Get(_ context.Context, key types.NodeAddress) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return sortedValues(m.data[key]), nil
}

// Snapshot 读取全部键值
func (m *Multimap) Snapshot(_ context.Context) (map[types.NodeAddress][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[types.NodeAddress][]string, len(m.data))
	for k, set := range m.data {
		out[k] = sortedValues(set)
	}
	return out, nil
}

// Subscribe 注册变更回调
//
// 回调在写入方的协程中同步调用，不应阻塞。
func (m *Multimap) Subscribe(fn func(interfaces.MultimapChange)) func() {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

func (m *Multimap) notify(c interfaces.MultimapChange) {
	m.subMu.RLock()
	fns := make([]func(interfaces.MultimapChange), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Close 关闭多值映射
func (m *Multimap) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.subMu.Lock()
	m.subs = make(map[uint64]func(interfaces.MultimapChange))
	m.subMu.Unlock()
	return nil
}

func sortedValues(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
