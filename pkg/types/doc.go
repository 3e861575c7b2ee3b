// Package types 定义 topicreg 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - address.go     - NodeAddress 集群节点地址
//   - subscriber.go  - SubscriberID, Subscriber 订阅者句柄
//   - enums.go       - WriteConsistency, BackoffKind
//   - errors.go      - 公共错误定义
package types
