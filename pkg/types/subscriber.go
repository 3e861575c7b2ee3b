package types

import (
	"sort"

	"github.com/google/uuid"
)

// ============================================================================
//                              Subscriber - 订阅者句柄
// ============================================================================

// SubscriberID 订阅端点标识
type SubscriberID string

// NewSubscriberID 生成随机订阅者 ID
func NewSubscriberID() SubscriberID {
	return SubscriberID(uuid.NewString())
}

// String 返回 ID 字符串
func (id SubscriberID) String() string {
	return string(id)
}

// Subscriber 订阅者句柄
//
// 可比较，可直接作为 map 键。Address 为订阅者所在的集群节点，
// 节点离开集群时按 Address 批量移除订阅。
type Subscriber struct {
	ID      SubscriberID
	Address NodeAddress
}

// NewSubscriber 创建位于 addr 的新订阅者句柄
func NewSubscriber(addr NodeAddress) Subscriber {
	return Subscriber{ID: NewSubscriberID(), Address: addr}
}

// IsZero 检查是否为零值
func (s Subscriber) IsZero() bool {
	return s.ID == "" && s.Address == ""
}

// Validate 验证句柄
func (s Subscriber) Validate() error {
	if s.ID == "" {
		return ErrEmptySubscriberID
	}
	return s.Address.Validate()
}

// Key 返回用于排序的稳定键
func (s Subscriber) Key() string {
	return string(s.Address) + "/" + string(s.ID)
}

// String 返回字符串表示
func (s Subscriber) String() string {
	return s.Key()
}

// SortSubscribers 按 Key 排序（原地）
func SortSubscribers(subs []Subscriber) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].Key() < subs[j].Key() })
}
