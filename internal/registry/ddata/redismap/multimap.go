// Package redismap 提供基于 Redis 的 ReplicatedMultimap 实现
//
// 每个节点的绑定保存在集合 <prefix>node:<addr> 中，写入后向 <prefix>changes
// 频道发布变更；写一致性通过 WAIT 等待副本确认。
package redismap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis"

	"github.com/dep2p/go-topicreg/pkg/interfaces"
	"github.com/dep2p/go-topicreg/pkg/lib/log"
	"github.com/dep2p/go-topicreg/pkg/types"
)

var logger = log.Logger("registry/redismap")

// 确保 Multimap 实现 ReplicatedMultimap 接口
var _ interfaces.ReplicatedMultimap = (*Multimap)(nil)

const (
	// DefaultPrefix 默认键前缀
	DefaultPrefix = "topicreg:"

	// defaultWaitTimeout ctx 无截止时间时 WAIT 的超时
	defaultWaitTimeout = time.Second

	// 变更消息前缀
	msgUpdated = "u|"
	msgRemoved = "r|"
)

// ErrClosed 多值映射已关闭
var ErrClosed = errors.New("redismap: multimap closed")

// replaceScript 原子地替换集合并发布变更
var replaceScript = redis.NewScript(`
	redis.call("del", KEYS[1])
	for i, v in ipairs(ARGV) do
		if i > 1 then
			redis.call("sadd", KEYS[1], v)
		end
	end
	redis.call("publish", KEYS[2], ARGV[1])
	return redis.call("scard", KEYS[1])
`)

// Config Redis 多值映射配置
type Config struct {
	// Addr Redis 地址
	Addr string

	// Password 密码
	Password string

	// DB 数据库编号
	DB int

	// Prefix 键前缀
	Prefix string

	// Replicas 副本数，WAIT 按写一致性换算需要的确认数
	Replicas int
}

// Multimap Redis 多值映射
type Multimap struct {
	client   *redis.Client
	prefix   string
	replicas int

	mu     sync.Mutex
	subs   map[uint64]func(interfaces.MultimapChange)
	nextID uint64
	pubsub *redis.PubSub
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New 连接 Redis 并创建多值映射
func New(cfg Config) (*Multimap, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redismap: empty address")
	}
	client := redis.NewClient(&redis.Options{
		Network:  "tcp",
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := client.Ping().Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redismap: ping %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.Prefix, cfg.Replicas), nil
}

// NewWithClient 使用已有客户端创建多值映射
func NewWithClient(client *redis.Client, prefix string, replicas int) *Multimap {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Multimap{
		client:   client,
		prefix:   prefix,
		replicas: replicas,
		subs:     make(map[uint64]func(interfaces.MultimapChange)),
		done:     make(chan struct{}),
	}
}

func (m *Multimap) nodeKey(addr types.NodeAddress) string {
	return m.prefix + "node:" + addr.String()
}

func (m *Multimap) changesChannel() string {
	return m.prefix + "changes"
}

// ============================================================================
//                              写入
// ============================================================================

// AddBindings 向 key 的集合添加值
func (m *Multimap) AddBindings(ctx context.Context, key types.NodeAddress, values []string, wc types.WriteConsistency) error {
	if len(values) == 0 {
		return nil
	}
	c := m.client.WithContext(ctx)
	_, err := c.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.SAdd(m.nodeKey(key), toArgs(values)...)
		pipe.Publish(m.changesChannel(), msgUpdated+key.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redismap: sadd: %w", err)
	}
	return m.wait(ctx, wc)
}

// RemoveBindings 从 key 的集合移除值
func (m *Multimap) RemoveBindings(ctx context.Context, key types.NodeAddress, values []string, wc types.WriteConsistency) error {
	if len(values) == 0 {
		return nil
	}
	c := m.client.WithContext(ctx)
	_, err := c.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.SRem(m.nodeKey(key), toArgs(values)...)
		pipe.Publish(m.changesChannel(), msgUpdated+key.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redismap: srem: %w", err)
	}
	return m.wait(ctx, wc)
}

// Replace 整体替换 key 的集合
func (m *Multimap) Replace(ctx context.Context, key types.NodeAddress, values []string, wc types.WriteConsistency) error {
	args := make([]interface{}, 0, len(values)+1)
	args = append(args, msgUpdated+key.String())
	args = append(args, toArgs(values)...)

	c := m.client.WithContext(ctx)
	if err := replaceScript.Run(c, []string{m.nodeKey(key), m.changesChannel()}, args...).Err(); err != nil {
		return fmt.Errorf("redismap: replace: %w", err)
	}
	return m.wait(ctx, wc)
}

// RemoveKey 删除 key
func (m *Multimap) RemoveKey(ctx context.Context, key types.NodeAddress, wc types.WriteConsistency) error {
	c := m.client.WithContext(ctx)
	_, err := c.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Del(m.nodeKey(key))
		pipe.Publish(m.changesChannel(), msgRemoved+key.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redismap: del: %w", err)
	}
	return m.wait(ctx, wc)
}

// wait 按写一致性等待副本确认
func (m *Multimap) wait(ctx context.Context, wc types.WriteConsistency) error {
	required := wc.RequiredAcks(m.replicas)
	if required == 0 {
		return nil
	}

	timeout := defaultWaitTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return fmt.Errorf("%w: %w", types.ErrWriteTimeout, context.DeadlineExceeded)
		}
	}

	acked, err := m.client.WithContext(ctx).Do("WAIT", required, timeout.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redismap: wait: %w", err)
	}
	if int(acked) < required {
		return fmt.Errorf("%w: %d/%d replicas acknowledged", types.ErrConsistencyNotReached, acked, required)
	}
	return nil
}

// ============================================================================
//                              读取
// ============================================================================

// Get 读取 key 的集合
func (m *Multimap) Get(ctx context.Context, key types.NodeAddress) ([]string, error) {
	values, err := m.client.WithContext(ctx).SMembers(m.nodeKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redismap: smembers: %w", err)
	}
	return values, nil
}

// Snapshot 扫描全部节点键并读取集合
func (m *Multimap) Snapshot(ctx context.Context) (map[types.NodeAddress][]string, error) {
	c := m.client.WithContext(ctx)
	prefix := m.prefix + "node:"
	out := make(map[types.NodeAddress][]string)

	var cursor uint64
	for {
		keys, next, err := c.Scan(cursor, prefix+"*", 256).Result()
		if err != nil {
			return nil, fmt.Errorf("redismap: scan: %w", err)
		}
		for _, k := range keys {
			values, err := c.SMembers(k).Result()
			if err != nil {
				return nil, fmt.Errorf("redismap: smembers: %w", err)
			}
			if len(values) > 0 {
				out[types.NodeAddress(strings.TrimPrefix(k, prefix))] = values
			}
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// ============================================================================
//                              变更订阅
// ============================================================================

// Subscribe 注册变更回调
//
// 首个订阅者启动 Redis 频道监听协程。
func (m *Multimap) Subscribe(fn func(interfaces.MultimapChange)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	if m.pubsub == nil && !m.closed {
		m.pubsub = m.client.Subscribe(m.changesChannel())
		m.wg.Add(1)
		go m.listen(m.pubsub.Channel())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Multimap) listen(ch <-chan *redis.Message) {
	defer m.wg.Done()
	for {
		var msg *redis.Message
		select {
		case <-m.done:
			return
		case msg = <-ch:
			if msg == nil {
				return
			}
		}

		change, ok := parseChange(msg.Payload)
		if !ok {
			logger.Debug("忽略无法解析的变更消息", "payload", msg.Payload)
			continue
		}

		m.mu.Lock()
		fns := make([]func(interfaces.MultimapChange), 0, len(m.subs))
		for _, fn := range m.subs {
			fns = append(fns, fn)
		}
		m.mu.Unlock()

		for _, fn := range fns {
			fn(change)
		}
	}
}

func parseChange(payload string) (interfaces.MultimapChange, bool) {
	switch {
	case strings.HasPrefix(payload, msgUpdated):
		return interfaces.MultimapChange{Key: types.NodeAddress(payload[len(msgUpdated):])}, true
	case strings.HasPrefix(payload, msgRemoved):
		return interfaces.MultimapChange{Key: types.NodeAddress(payload[len(msgRemoved):]), Removed: true}, true
	default:
		return interfaces.MultimapChange{}, false
	}
}

// Close 关闭频道监听与客户端
func (m *Multimap) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ps := m.pubsub
	m.mu.Unlock()
	close(m.done)

	var err error
	if ps != nil {
		err = ps.Close()
	}
	m.wg.Wait()
	if cerr := m.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func toArgs(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
