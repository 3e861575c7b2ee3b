package ddata

import (
	"sort"

	"github.com/dep2p/go-topicreg/internal/registry/bloom"
	"github.com/dep2p/go-topicreg/internal/registry/hashfamily"
	"github.com/dep2p/go-topicreg/internal/registry/subscriptions"
	"github.com/dep2p/go-topicreg/pkg/types"
)

// ============================================================================
//                              nodeEntry
// ============================================================================

// nodeEntry 单个远端节点广播的绑定
type nodeEntry struct {
	ungrouped map[string]struct{}
	groups    map[string]map[string]struct{}
	filter    *bloom.Filter
}

// newNodeEntry 根据绑定构建节点条目
func newNodeEntry(bindings []subscriptions.Binding, fpr float64) *nodeEntry {
	e := &nodeEntry{
		ungrouped: make(map[string]struct{}),
		groups:    make(map[string]map[string]struct{}),
	}

	distinct := make(map[string]hashfamily.Vector)
	for _, b := range bindings {
		key := b.Topic.Key()
		distinct[key] = b.Topic
		if b.Group == "" {
			e.ungrouped[key] = struct{}{}
			continue
		}
		set, ok := e.groups[b.Group]
		if !ok {
			set = make(map[string]struct{})
			e.groups[b.Group] = set
		}
		set[key] = struct{}{}
	}

	m, err := bloom.OptimalBits(len(distinct), fpr)
	if err != nil {
		m = bloom.MinBits
	}
	e.filter = bloom.New(m)
	for _, v := range distinct {
		e.filter.AddVector(v)
	}
	return e
}

// ============================================================================
//                              RemoteView
// ============================================================================

// RemoteView 远端节点订阅的只读视图
//
// 不可变，更新通过 with/without 生成新实例；可被任意数量的读者并发使用。
type RemoteView struct {
	self   types.NodeAddress
	family *hashfamily.Family
	nodes  map[types.NodeAddress]*nodeEntry
}

func newRemoteView(self types.NodeAddress, family *hashfamily.Family) *RemoteView {
	return &RemoteView{
		self:   self,
		family: family,
		nodes:  make(map[types.NodeAddress]*nodeEntry),
	}
}

func (v *RemoteView) with(addr types.NodeAddress, e *nodeEntry) *RemoteView {
	next := v.clone()
	next.nodes[addr] = e
	return next
}

func (v *RemoteView) without(addr types.NodeAddress) *RemoteView {
	next := v.clone()
	delete(next.nodes, addr)
	return next
}

func (v *RemoteView) clone() *RemoteView {
	next := newRemoteView(v.self, v.family)
	for a, e := range v.nodes {
		next.nodes[a] = e
	}
	return next
}

// Nodes 返回有订阅的远端节点（排序，不含本节点）
func (v *RemoteView) Nodes() []types.NodeAddress {
	out := make([]types.NodeAddress, 0, len(v.nodes))
	for addr := range v.nodes {
		if addr != v.self {
			out = append(out, addr)
		}
	}
	types.SortAddresses(out)
	return out
}

// GetNodes 返回发布 topic 时需要转发的远端节点，不考虑本节点的分组成员
//
// 有未分组订阅的节点全部返回；每个分组在其成员节点中选一个，
// 选择按 HashScalar(topic) 对排序后的候选取模，同一主题总是落在同一节点。
func (v *RemoteView) GetNodes(topic string) []types.NodeAddress {
	nodes, _ := v.Route(topic, nil)
	return nodes
}

// Route 计算一次发布 topic 的远端目标
//
// localGroups 是本节点对 topic 有成员的分组，本节点作为这些分组的候选之一
// 参与选择。返回需要转发的远端节点，以及被选中在本地投递的分组。
// 每个分组在整个集群中恰好选中一个节点。
func (v *RemoteView) Route(topic string, localGroups []string) ([]types.NodeAddress, []string) {
	vec := v.family.HashVector(topic)
	key := vec.Key()

	selected := make(map[types.NodeAddress]struct{})
	candidates := make(map[string][]types.NodeAddress)
	for addr, e := range v.nodes {
		if addr == v.self {
			continue
		}
		if _, ok := e.ungrouped[key]; ok {
			selected[addr] = struct{}{}
		}
		for group, set := range e.groups {
			if _, ok := set[key]; ok {
				candidates[group] = append(candidates[group], addr)
			}
		}
	}
	for _, group := range localGroups {
		if group != "" {
			candidates[group] = append(candidates[group], v.self)
		}
	}

	var won []string
	scalar := uint64(vec.Scalar())
	for group, nodes := range candidates {
		types.SortAddresses(nodes)
		chosen := nodes[scalar%uint64(len(nodes))]
		if chosen == v.self {
			won = append(won, group)
			continue
		}
		selected[chosen] = struct{}{}
	}
	sort.Strings(won)

	out := make([]types.NodeAddress, 0, len(selected))
	for addr := range selected {
		out = append(out, addr)
	}
	types.SortAddresses(out)
	return out, won
}

// MayContain 用节点的布隆过滤器判断其是否可能订阅了 topic
//
// 未知节点返回 false；假阳性可能，假阴性不可能。
func (v *RemoteView) MayContain(addr types.NodeAddress, topic string) bool {
	e, ok := v.nodes[addr]
	if !ok {
		return false
	}
	return e.filter.TestVector(v.family.HashVector(topic))
}

// Groups 返回节点广播的分组名（排序，不含未分组）
func (v *RemoteView) Groups(addr types.NodeAddress) []string {
	e, ok := v.nodes[addr]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.groups))
	for g := range e.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// BloomFilter 返回节点的布隆过滤器（只读）
func (v *RemoteView) BloomFilter(addr types.NodeAddress) *bloom.Filter {
	e, ok := v.nodes[addr]
	if !ok {
		return nil
	}
	return e.filter
}
