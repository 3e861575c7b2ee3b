// Package ddata 把本地订阅导出合并到集群复制的多值映射
//
// Synchronizer 负责写入侧：把 subscriptions.Update 编码为绑定并以本节点地址为键
// 写入 ReplicatedMultimap，写操作异步执行，通过 <-chan error 报告完成。
//
// RemoteView 负责读取侧：根据各节点的广播绑定为每个节点构建布隆过滤器，
// 并在发布时选出需要转发的远端节点（未分组节点全部转发，每个分组选一个节点）。
//
// 复制失败不回滚本地状态，也不在本包内重试；重试由调用方（updater）通过 retry 包完成。
package ddata
