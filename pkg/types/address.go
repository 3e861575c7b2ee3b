package types

import (
	"sort"
	"strings"
)

// ============================================================================
//                              NodeAddress - 节点地址
// ============================================================================

// NodeAddress 集群节点地址
//
// 作为复制 multimap 的键，每个存活节点恰好一个条目。
type NodeAddress string

// String 返回地址字符串
func (a NodeAddress) String() string {
	return string(a)
}

// IsEmpty 检查地址是否为空
func (a NodeAddress) IsEmpty() bool {
	return strings.TrimSpace(string(a)) == ""
}

// Validate 验证地址
func (a NodeAddress) Validate() error {
	if a.IsEmpty() {
		return ErrEmptyNodeAddress
	}
	return nil
}

// SortAddresses 按字典序排序地址（原地）
func SortAddresses(addrs []NodeAddress) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
}
