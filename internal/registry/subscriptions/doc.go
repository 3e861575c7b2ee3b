// Package subscriptions 实现本地订阅索引
//
// # 结构
//
// Subscriptions 维护两张相互一致的表：
//
//   - 订阅者 → subscriberData（主题集合、可选分组、可选过滤器）
//   - 主题 → topicData（感兴趣的订阅者，按未分组/分组划分）
//
// 主题出现在某订阅者的主题集合中，当且仅当该订阅者出现在该主题的 topicData 中。
// 订阅者集合变空的主题立即从索引中删除。
//
// # 有损导出
//
// 每个主题以哈希向量（hashfamily.Vector）表示后按分组去重导出，
// 原始主题字符串不离开本节点。存储为每个 (分组, 向量) 维护引用计数，
// Subscribe/Unsubscribe/RemoveSubscriber 仅在某个计数在 0 与 1 之间变化时返回 true，
// 即导出内容确实发生变化时才需要复制。
//
// # 并发
//
// Subscriptions 不是并发安全的，只能由单一写者（updater）持有和修改。
// 其他 goroutine 通过 Snapshot() 返回的不可变 Reader 查询。
//
// # 分组选择
//
// 对同一次查询，每个分组至多选出一个成员。候选成员按订阅者键排序，
// 以 (分组, 排序后的查询主题) 为键做确定性轮询；轮询计数器由同一存储的
// 所有快照共享，因此快照轮换不影响均匀性。
package subscriptions
