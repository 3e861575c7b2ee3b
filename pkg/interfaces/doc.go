// Package interfaces 定义 topicreg 与外部协作者之间的接口
//
// 注册表只通过这些窄接口接触集群：
//
//   - multimap.go     - ReplicatedMultimap 集群复制的多值映射
//   - membership.go   - Membership 集群成员关系
//
// 实现位于 internal/registry/ddata/{memory,redismap}；
// 成员关系由宿主提供。
package interfaces
