// Package interfaces 定义 topicreg 的公共接口
//
// 本文件定义 ReplicatedMultimap 接口，即集群复制的 节点地址 -> 绑定集合 映射。
package interfaces

import (
	"context"

	"github.com/dep2p/go-topicreg/pkg/types"
)

// ReplicatedMultimap 集群复制的多值映射
//
// 键为节点地址，值为该节点导出的已编码绑定（不透明字符串）。
// 合并语义（后写者胜或并集合并）由实现决定；调用方必须容忍不同节点的更新乱序到达。
// 所有写操作携带写一致性级别，达不到时返回错误，本地状态不回滚。
type ReplicatedMultimap interface {
	// AddBindings 向 key 的集合添加值（幂等）
	AddBindings(ctx context.Context, key types.NodeAddress, values []string, wc types.WriteConsistency) error

	// RemoveBindings 从 key 的集合移除值（幂等）
	RemoveBindings(ctx context.Context, key types.NodeAddress, values []string, wc types.WriteConsistency) error

	// Replace 用 values 整体替换 key 的集合
	Replace(ctx context.Context, key types.NodeAddress, values []string, wc types.WriteConsistency) error

	// RemoveKey 删除 key 的全部值；key 不存在时不报错
	RemoveKey(ctx context.Context, key types.NodeAddress, wc types.WriteConsistency) error

	// Get 读取 key 的集合
	Get(ctx context.Context, key types.NodeAddress) ([]string, error)

	// Snapshot 读取全部键值
	Snapshot(ctx context.Context) (map[types.NodeAddress][]string, error)

	// Subscribe 注册变更回调，返回取消函数
	//
	// 回调只携带变化的键，接收方自行 Get 最新值。
	Subscribe(fn func(MultimapChange)) (cancel func())

	// Close 关闭映射
	Close() error
}

// MultimapChange 多值映射变更通知
type MultimapChange struct {
	// Key 变化的节点地址
	Key types.NodeAddress

	// Removed 为 true 表示 key 已被整体删除
	Removed bool
}
