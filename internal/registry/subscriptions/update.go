package subscriptions

import (
	"sort"

	"github.com/dep2p/go-topicreg/internal/registry/hashfamily"
)

// ============================================================================
//                              Grouped / Binding
// ============================================================================

// Grouped 一个分组的哈希主题集合
//
// Group 为空表示未分组订阅者。
type Grouped struct {
	Group  string
	Topics []hashfamily.Vector
}

// Binding 单个 (分组, 哈希主题) 绑定，复制 multimap 中的最小单元
type Binding struct {
	Group string
	Topic hashfamily.Vector
}

// Key 返回绑定的稳定键
func (b Binding) Key() string {
	return bindingKey(b.Group, b.Topic.Key())
}

func bindingKey(group, vectorKey string) string {
	return group + "\x00" + vectorKey
}

// Bindings 展开为绑定列表
func (g Grouped) Bindings() []Binding {
	out := make([]Binding, 0, len(g.Topics))
	for _, v := range g.Topics {
		out = append(out, Binding{Group: g.Group, Topic: v})
	}
	return out
}

// GroupBindings 把绑定按分组聚合为规范化的 Grouped 列表
//
// 结果按分组名排序，组内向量按 Key 排序并去重。
func GroupBindings(bindings []Binding) []Grouped {
	byGroup := make(map[string]map[string]hashfamily.Vector)
	for _, b := range bindings {
		set, ok := byGroup[b.Group]
		if !ok {
			set = make(map[string]hashfamily.Vector)
			byGroup[b.Group] = set
		}
		set[b.Topic.Key()] = b.Topic
	}

	groups := make([]string, 0, len(byGroup))
	for g := range byGroup {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	out := make([]Grouped, 0, len(groups))
	for _, g := range groups {
		set := byGroup[g]
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		topics := make([]hashfamily.Vector, 0, len(keys))
		for _, k := range keys {
			topics = append(topics, set[k].Clone())
		}
		out = append(out, Grouped{Group: g, Topics: topics})
	}
	return out
}

func flatten(groups []Grouped) []Binding {
	var out []Binding
	for _, g := range groups {
		out = append(out, g.Bindings()...)
	}
	return out
}

// ============================================================================
//                              Update
// ============================================================================

// Update 本节点订阅词汇的有损导出
//
// 两种形式：
//   - 全量替换（IsReplaceAll）：Inserts 是节点的完整导出，写入方应替换该节点的全部条目
//   - 增量：先删除 Deletes 中的绑定，再插入 Inserts 中的绑定
//
// Update 不可变，With* 返回新值。
type Update struct {
	replaceAll bool
	inserts    []Grouped
	deletes    []Grouped
}

// NewUpdate 创建空的增量 Update
func NewUpdate() *Update {
	return &Update{}
}

// WithInserts 返回追加插入后的 Update
func (u *Update) WithInserts(groups ...Grouped) *Update {
	next := u.copy()
	next.inserts = GroupBindings(append(flatten(next.inserts), flatten(groups)...))
	return next
}

// WithDeletes 返回追加删除后的 Update
func (u *Update) WithDeletes(groups ...Grouped) *Update {
	next := u.copy()
	next.deletes = GroupBindings(append(flatten(next.deletes), flatten(groups)...))
	return next
}

// AsReplaceAll 返回全量替换形式（丢弃 Deletes）
func (u *Update) AsReplaceAll() *Update {
	next := u.copy()
	next.replaceAll = true
	next.deletes = nil
	return next
}

// IsReplaceAll 是否为全量替换
func (u *Update) IsReplaceAll() bool {
	return u != nil && u.replaceAll
}

// Inserts 返回插入的分组（只读）
func (u *Update) Inserts() []Grouped {
	if u == nil {
		return nil
	}
	return u.inserts
}

// Deletes 返回删除的分组（只读）
func (u *Update) Deletes() []Grouped {
	if u == nil {
		return nil
	}
	return u.deletes
}

// InsertBindings 返回插入的绑定
func (u *Update) InsertBindings() []Binding {
	return flatten(u.Inserts())
}

// DeleteBindings 返回删除的绑定
func (u *Update) DeleteBindings() []Binding {
	return flatten(u.Deletes())
}

// IsEmpty 增量 Update 无任何变化时为 true；全量替换永不为空
func (u *Update) IsEmpty() bool {
	if u == nil {
		return true
	}
	return !u.replaceAll && len(u.inserts) == 0 && len(u.deletes) == 0
}

// Size 返回涉及的绑定数
func (u *Update) Size() int {
	n := 0
	for _, g := range u.Inserts() {
		n += len(g.Topics)
	}
	for _, g := range u.Deletes() {
		n += len(g.Topics)
	}
	return n
}

// Equal 语义相等比较
func (u *Update) Equal(other *Update) bool {
	if u.IsReplaceAll() != other.IsReplaceAll() {
		return false
	}
	return groupsEqual(u.Inserts(), other.Inserts()) && groupsEqual(u.Deletes(), other.Deletes())
}

func (u *Update) copy() *Update {
	if u == nil {
		return &Update{}
	}
	return &Update{
		replaceAll: u.replaceAll,
		inserts:    u.inserts,
		deletes:    u.deletes,
	}
}

func groupsEqual(a, b []Grouped) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Group != b[i].Group || len(a[i].Topics) != len(b[i].Topics) {
			return false
		}
		for j := range a[i].Topics {
			if !a[i].Topics[j].Equal(b[i].Topics[j]) {
				return false
			}
		}
	}
	return true
}
