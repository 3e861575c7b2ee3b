package subscriptions

import (
	"github.com/dep2p/go-topicreg/pkg/types"
)

// Filter 订阅者的主题过滤器
//
// 返回 false 表示订阅者当前不接收该主题，用于条件/动态订阅。
type Filter func(topic string) bool

// ============================================================================
//                              subscriberData
// ============================================================================

// subscriberData 单个订阅者的记录
//
// 只由 Subscriptions 修改；快照只复制 filter。
type subscriberData struct {
	topics map[string]struct{}
	group  string
	filter Filter
}

func newSubscriberData(group string, filter Filter) *subscriberData {
	return &subscriberData{
		topics: make(map[string]struct{}),
		group:  group,
		filter: filter,
	}
}

// accepts 检查过滤器是否接受主题
func accepts(filter Filter, topic string) bool {
	return filter == nil || filter(topic)
}

// ============================================================================
//                              topicData
// ============================================================================

// topicData 单个主题的反向索引
//
// 不可变：修改通过 with/without 生成新实例，旧实例可被快照安全共享。
type topicData struct {
	ungrouped map[types.Subscriber]struct{}
	groups    map[string]map[types.Subscriber]struct{}
	size      int
}

// with 返回加入 sub 后的新 topicData
func (t *topicData) with(sub types.Subscriber, group string) *topicData {
	next := t.clone()
	if group == "" {
		if _, ok := next.ungrouped[sub]; !ok {
			next.ungrouped[sub] = struct{}{}
			next.size++
		}
		return next
	}

	members := make(map[types.Subscriber]struct{}, len(next.groups[group])+1)
	for m := range next.groups[group] {
		members[m] = struct{}{}
	}
	if _, ok := members[sub]; !ok {
		members[sub] = struct{}{}
		next.size++
	}
	next.groups[group] = members
	return next
}

// without 返回移除 sub 后的新 topicData，集合为空时返回 nil
func (t *topicData) without(sub types.Subscriber, group string) *topicData {
	next := t.clone()
	if group == "" {
		if _, ok := next.ungrouped[sub]; ok {
			delete(next.ungrouped, sub)
			next.size--
		}
	} else if old, ok := next.groups[group]; ok {
		if _, ok := old[sub]; ok {
			members := make(map[types.Subscriber]struct{}, len(old))
			for m := range old {
				if m != sub {
					members[m] = struct{}{}
				}
			}
			if len(members) == 0 {
				delete(next.groups, group)
			} else {
				next.groups[group] = members
			}
			next.size--
		}
	}

	if next.size == 0 {
		return nil
	}
	return next
}

// clone 浅复制：ungrouped 复制，分组成员集合按需在 with/without 中复制
func (t *topicData) clone() *topicData {
	next := &topicData{
		ungrouped: make(map[types.Subscriber]struct{}),
		groups:    make(map[string]map[types.Subscriber]struct{}),
	}
	if t == nil {
		return next
	}
	for s := range t.ungrouped {
		next.ungrouped[s] = struct{}{}
	}
	for g, members := range t.groups {
		next.groups[g] = members
	}
	next.size = t.size
	return next
}

// contains 检查订阅者是否在主题中
func (t *topicData) contains(sub types.Subscriber) bool {
	if t == nil {
		return false
	}
	if _, ok := t.ungrouped[sub]; ok {
		return true
	}
	for _, members := range t.groups {
		if _, ok := members[sub]; ok {
			return true
		}
	}
	return false
}
