package subscriptions

import (
	"fmt"
	"sort"

	"github.com/dep2p/go-topicreg/internal/registry/bloom"
	"github.com/dep2p/go-topicreg/internal/registry/hashfamily"
	"github.com/dep2p/go-topicreg/pkg/types"
)

// hashEntry 一个 (分组, 向量) 的引用计数
type hashEntry struct {
	group string
	topic hashfamily.Vector
	count int
}

// Subscriptions 本地订阅存储
//
// 非并发安全，由单一写者持有。
type Subscriptions struct {
	family *hashfamily.Family

	subscribers map[types.Subscriber]*subscriberData
	topics      map[string]*topicData

	// hashes 以 bindingKey 为键的引用计数，是导出内容的精确来源
	hashes map[string]*hashEntry

	// 自上次 TakeDelta/ResetDelta 以来出现/消失的绑定
	pendingInserts map[string]Binding
	pendingDeletes map[string]Binding

	selector *selector
	snapshot *Reader
}

// New 创建空存储
func New(family *hashfamily.Family) (*Subscriptions, error) {
	if family == nil {
		return nil, ErrNilFamily
	}
	return &Subscriptions{
		family:         family,
		subscribers:    make(map[types.Subscriber]*subscriberData),
		topics:         make(map[string]*topicData),
		hashes:         make(map[string]*hashEntry),
		pendingInserts: make(map[string]Binding),
		pendingDeletes: make(map[string]Binding),
		selector:       newSelector(defaultSelectorSize),
	}, nil
}

// Family 返回哈希函数族
func (s *Subscriptions) Family() *hashfamily.Family {
	return s.family
}

// ============================================================================
//                              修改操作
// ============================================================================

// Subscribe 为订阅者添加主题
//
// 新主题与已有主题合并；group 和 filter 整体替换订阅者原有的设置。
// 返回值表示导出的 (分组, 哈希主题) 集合是否变化。
func (s *Subscriptions) Subscribe(sub types.Subscriber, topics []string, group string, filter Filter) (bool, error) {
	if err := validate(sub, topics); err != nil {
		return false, err
	}

	data, exists := s.subscribers[sub]
	if !exists {
		if len(topics) == 0 {
			return false, nil
		}
		data = newSubscriberData(group, filter)
		s.subscribers[sub] = data
	}
	s.invalidate()

	changed := false
	if exists && data.group != group {
		// 分组变化：已有主题整体迁移到新分组
		for topic := range data.topics {
			changed = s.detach(sub, topic, data.group) || changed
			changed = s.attach(sub, topic, group) || changed
		}
	}
	data.group = group
	data.filter = filter

	for _, topic := range topics {
		if _, ok := data.topics[topic]; ok {
			continue
		}
		data.topics[topic] = struct{}{}
		changed = s.attach(sub, topic, group) || changed
	}
	return changed, nil
}

// Unsubscribe 移除订阅者的主题
//
// 主题集合变空时订阅者（连同分组与过滤器）被删除。
func (s *Subscriptions) Unsubscribe(sub types.Subscriber, topics []string) (bool, error) {
	if err := validate(sub, topics); err != nil {
		return false, err
	}

	data, ok := s.subscribers[sub]
	if !ok {
		return false, nil
	}

	changed := false
	for _, topic := range topics {
		if _, ok := data.topics[topic]; !ok {
			continue
		}
		s.invalidate()
		delete(data.topics, topic)
		changed = s.detach(sub, topic, data.group) || changed
	}

	if len(data.topics) == 0 {
		s.invalidate()
		delete(s.subscribers, sub)
	}
	return changed, nil
}

// RemoveSubscriber 移除订阅者的全部主题
//
// 未知句柄返回 false；无效句柄返回 ErrInvalidSubscriber。
func (s *Subscriptions) RemoveSubscriber(sub types.Subscriber) (bool, error) {
	if err := sub.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidSubscriber, err)
	}
	return s.remove(sub), nil
}

// remove 移除已存储的订阅者
func (s *Subscriptions) remove(sub types.Subscriber) bool {
	data, ok := s.subscribers[sub]
	if !ok {
		return false
	}
	s.invalidate()

	changed := false
	for topic := range data.topics {
		changed = s.detach(sub, topic, data.group) || changed
	}
	delete(s.subscribers, sub)
	return changed
}

// RemoveAddress 移除来自 addr 节点的全部订阅者
func (s *Subscriptions) RemoveAddress(addr types.NodeAddress) bool {
	var victims []types.Subscriber
	for sub := range s.subscribers {
		if sub.Address == addr {
			victims = append(victims, sub)
		}
	}

	changed := false
	for _, sub := range victims {
		changed = s.remove(sub) || changed
	}
	return changed
}

// attach 把 sub 加入主题索引并增加 (group, 向量) 计数
func (s *Subscriptions) attach(sub types.Subscriber, topic, group string) bool {
	s.topics[topic] = s.topics[topic].with(sub, group)
	return s.incr(group, s.family.HashVector(topic))
}

// detach 把 sub 移出主题索引并减少 (group, 向量) 计数
func (s *Subscriptions) detach(sub types.Subscriber, topic, group string) bool {
	if td := s.topics[topic].without(sub, group); td == nil {
		delete(s.topics, topic)
	} else {
		s.topics[topic] = td
	}
	return s.decr(group, s.family.HashVector(topic))
}

func (s *Subscriptions) incr(group string, v hashfamily.Vector) bool {
	key := bindingKey(group, v.Key())
	if e, ok := s.hashes[key]; ok {
		e.count++
		return false
	}
	s.hashes[key] = &hashEntry{group: group, topic: v, count: 1}

	if _, ok := s.pendingDeletes[key]; ok {
		delete(s.pendingDeletes, key)
	} else {
		s.pendingInserts[key] = Binding{Group: group, Topic: v}
	}
	return true
}

func (s *Subscriptions) decr(group string, v hashfamily.Vector) bool {
	key := bindingKey(group, v.Key())
	e, ok := s.hashes[key]
	if !ok {
		return false
	}
	e.count--
	if e.count > 0 {
		return false
	}
	delete(s.hashes, key)

	if _, ok := s.pendingInserts[key]; ok {
		delete(s.pendingInserts, key)
	} else {
		s.pendingDeletes[key] = Binding{Group: group, Topic: v}
	}
	return true
}

func (s *Subscriptions) invalidate() {
	s.snapshot = nil
}

func validate(sub types.Subscriber, topics []string) error {
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSubscriber, err)
	}
	for _, t := range topics {
		if t == "" {
			return ErrEmptyTopic
		}
	}
	return nil
}

// ============================================================================
//                              查询与导出
// ============================================================================

// Snapshot 返回不可变快照
//
// 无修改时重复调用返回同一个 Reader。只复制外层 map，topicData 共享。
func (s *Subscriptions) Snapshot() *Reader {
	if s.snapshot != nil {
		return s.snapshot
	}

	topics := make(map[string]*topicData, len(s.topics))
	for t, td := range s.topics {
		topics[t] = td
	}
	filters := make(map[types.Subscriber]Filter)
	for sub, data := range s.subscribers {
		if data.filter != nil {
			filters[sub] = data.filter
		}
	}

	s.snapshot = &Reader{
		topics:      topics,
		filters:     filters,
		subscribers: len(s.subscribers),
		selector:    s.selector,
	}
	return s.snapshot
}

// Export 返回完整导出（全量替换形式）
//
// 不修改存储；无中间修改时两次调用结果相等。
func (s *Subscriptions) Export() *Update {
	bindings := make([]Binding, 0, len(s.hashes))
	for _, e := range s.hashes {
		bindings = append(bindings, Binding{Group: e.group, Topic: e.topic})
	}
	return &Update{
		replaceAll: true,
		inserts:    GroupBindings(bindings),
	}
}

// ExportSize 返回导出的绑定数
func (s *Subscriptions) ExportSize() int {
	return len(s.hashes)
}

// TakeDelta 返回自上次调用以来的增量 Update 并清空累计
func (s *Subscriptions) TakeDelta() *Update {
	u := &Update{
		inserts: GroupBindings(mapValues(s.pendingInserts)),
		deletes: GroupBindings(mapValues(s.pendingDeletes)),
	}
	s.ResetDelta()
	return u
}

// PendingDeltaSize 返回累计增量的绑定数
func (s *Subscriptions) PendingDeltaSize() int {
	return len(s.pendingInserts) + len(s.pendingDeletes)
}

// ResetDelta 清空累计增量（全量同步后调用）
func (s *Subscriptions) ResetDelta() {
	s.pendingInserts = make(map[string]Binding)
	s.pendingDeletes = make(map[string]Binding)
}

// ToOptimalBloomFilter 为本地全部主题构建最优大小的布隆过滤器
func (s *Subscriptions) ToOptimalBloomFilter(fpr float64) (*bloom.Filter, error) {
	m, err := bloom.OptimalBits(len(s.topics), fpr)
	if err != nil {
		return nil, err
	}
	f := bloom.New(m)
	for topic := range s.topics {
		f.AddVector(s.family.HashVector(topic))
	}
	return f, nil
}

// EstimateSize 估算存储内容的字节开销
//
// 每个订阅者计 主题数 × 函数族大小 × 8 字节 + 分组名长度。
func (s *Subscriptions) EstimateSize() int64 {
	perTopic := int64(s.family.Size()) * 8
	var total int64
	for _, data := range s.subscribers {
		total += int64(len(data.topics))*perTopic + int64(len(data.group))
	}
	return total
}

// SubscriberCount 返回订阅者数
func (s *Subscriptions) SubscriberCount() int {
	return len(s.subscribers)
}

// TopicCount 返回主题数
func (s *Subscriptions) TopicCount() int {
	return len(s.topics)
}

// Contains 检查订阅者是否存在
func (s *Subscriptions) Contains(sub types.Subscriber) bool {
	_, ok := s.subscribers[sub]
	return ok
}

// TopicsOf 返回订阅者的主题（排序）
func (s *Subscriptions) TopicsOf(sub types.Subscriber) []string {
	data, ok := s.subscribers[sub]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(data.topics))
	for t := range data.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func mapValues(m map[string]Binding) []Binding {
	out := make([]Binding, 0, len(m))
	for _, b := range m {
		out = append(out, b)
	}
	return out
}
