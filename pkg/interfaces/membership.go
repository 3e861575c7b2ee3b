package interfaces

import (
	"context"

	"github.com/dep2p/go-topicreg/pkg/types"
)

// Membership 集群成员关系
//
// 注册表只关心成员永久离开，用于清理该节点在复制映射中的条目。
type Membership interface {
	// Self 返回本节点地址
	Self() types.NodeAddress

	// Events 订阅成员事件，ctx 取消时通道关闭
	Events(ctx context.Context) (<-chan MemberEvent, error)
}

// MemberEvent 成员事件
type MemberEvent struct {
	// Address 节点地址
	Address types.NodeAddress

	// Type 事件类型
	Type MemberEventType
}

// MemberEventType 成员事件类型
type MemberEventType int

const (
	// MemberUp 节点加入
	MemberUp MemberEventType = iota
	// MemberUnreachable 节点暂时不可达
	MemberUnreachable
	// MemberRemoved 节点永久离开
	MemberRemoved
)

// String 返回事件类型名称
func (t MemberEventType) String() string {
	switch t {
	case MemberUp:
		return "up"
	case MemberUnreachable:
		return "unreachable"
	case MemberRemoved:
		return "removed"
	default:
		return "unknown"
	}
}
