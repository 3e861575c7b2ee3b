package subscriptions

import (
	"sort"
	"strings"

	"github.com/dep2p/go-topicreg/pkg/types"
)

// Reader 订阅存储的不可变快照
//
// 可被任意数量的 goroutine 并发查询，不会观察到快照之后的修改。
type Reader struct {
	topics      map[string]*topicData
	filters     map[types.Subscriber]Filter
	subscribers int
	selector    *selector
}

// EmptyReader 返回不含任何订阅的快照
func EmptyReader() *Reader {
	return &Reader{
		topics:   map[string]*topicData{},
		filters:  map[types.Subscriber]Filter{},
		selector: newSelector(defaultSelectorSize),
	}
}

// GetSubscribers 返回对给定主题感兴趣的订阅者
//
// 包含所有未分组的订阅者，以及每个有成员感兴趣的分组中恰好一个成员。
// 结果按订阅者键排序且去重；无订阅者时返回空。
func (r *Reader) GetSubscribers(topics []string) []types.Subscriber {
	return r.collect(topics, nil)
}

// GetSubscribersInGroups 与 GetSubscribers 相同，但只为 groups 中的分组选择成员
//
// 未分组的订阅者不受影响。用于本节点只在赢得选择的分组内投递的场景。
func (r *Reader) GetSubscribersInGroups(topics []string, groups []string) []types.Subscriber {
	allowed := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		allowed[g] = struct{}{}
	}
	return r.collect(topics, allowed)
}

// GroupsFor 返回有成员接受 topic 的分组（排序）
func (r *Reader) GroupsFor(topic string) []string {
	td, ok := r.topics[topic]
	if !ok {
		return nil
	}
	var out []string
	for group, members := range td.groups {
		for sub := range members {
			if accepts(r.filters[sub], topic) {
				out = append(out, group)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// collect allowed 为 nil 时不限制分组
func (r *Reader) collect(topics []string, allowed map[string]struct{}) []types.Subscriber {
	queried := dedupe(topics)

	result := make(map[types.Subscriber]struct{})
	candidates := make(map[string]map[types.Subscriber]struct{})

	for _, topic := range queried {
		td, ok := r.topics[topic]
		if !ok {
			continue
		}
		for sub := range td.ungrouped {
			if accepts(r.filters[sub], topic) {
				result[sub] = struct{}{}
			}
		}
		for group, members := range td.groups {
			if allowed != nil {
				if _, ok := allowed[group]; !ok {
					continue
				}
			}
			for sub := range members {
				if !accepts(r.filters[sub], topic) {
					continue
				}
				set, ok := candidates[group]
				if !ok {
					set = make(map[types.Subscriber]struct{})
					candidates[group] = set
				}
				set[sub] = struct{}{}
			}
		}
	}

	if len(candidates) > 0 {
		selectionKey := strings.Join(queried, "\x00")
		for group, set := range candidates {
			members := make([]types.Subscriber, 0, len(set))
			for sub := range set {
				members = append(members, sub)
			}
			types.SortSubscribers(members)
			idx := r.selector.next(group + "\x01" + selectionKey)
			result[members[idx%uint64(len(members))]] = struct{}{}
		}
	}

	out := make([]types.Subscriber, 0, len(result))
	for sub := range result {
		out = append(out, sub)
	}
	types.SortSubscribers(out)
	return out
}

// HasSubscribers 检查主题是否有本地订阅者（不考虑过滤器）
func (r *Reader) HasSubscribers(topic string) bool {
	_, ok := r.topics[topic]
	return ok
}

// Topics 返回快照中的全部主题（排序）
func (r *Reader) Topics() []string {
	out := make([]string, 0, len(r.topics))
	for t := range r.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TopicCount 返回主题数
func (r *Reader) TopicCount() int {
	return len(r.topics)
}

// SubscriberCount 返回快照时的订阅者数
func (r *Reader) SubscriberCount() int {
	return r.subscribers
}

// dedupe 去重并排序
func dedupe(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
