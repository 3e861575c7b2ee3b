// Package topicreg 提供集群发布订阅的主题订阅注册表
//
// 每个节点维护本地订阅的精确索引，并把主题词汇压缩为哈希向量后
// 写入集群复制的多值映射；其他节点据此判断哪些远端节点可能需要某个主题，
// 允许假阳性，不允许假阴性。
//
// # 快速开始
//
//	cfg := config.NewConfig().WithNodeAddress("10.0.0.1:2552")
//	reg, err := topicreg.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := reg.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer reg.Close()
//
//	sub := types.NewSubscriber(reg.Self())
//	reg.Subscribe(ctx, sub, []string{"things/1"}, "", nil)
//
//	// 一次发布的目标：本地订阅者与需要转发的远端节点
//	route := reg.Route("things/1")
//
// # 组成
//
//	┌──────────────────────────────────────────────────────────┐
//	│  Registry          topicreg.New() / topicreg.Module()    │
//	├──────────────────────────────────────────────────────────┤
//	│  Updater           单一写者，定时全量/增量复制           │
//	├──────────────────────────────────────────────────────────┤
//	│  Subscriptions     本地订阅存储、快照、有损导出          │
//	├──────────────────────────────────────────────────────────┤
//	│  Synchronizer      复制写入与远端视图                    │
//	├──────────────────────────────────────────────────────────┤
//	│  Multimap          memory / redis                        │
//	└──────────────────────────────────────────────────────────┘
//
// 集群内所有节点的哈希函数族（ClusterSeed 与 HashFamilySize）必须一致；
// 函数族指纹随每个绑定写入，指纹不一致的远端绑定会被忽略。
package topicreg
