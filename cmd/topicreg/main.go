// Package main 提供 topicreg 命令行入口
//
// 在一个进程内启动多个节点，共享同一个复制映射（内存或 Redis），
// 随机生成订阅后打印每个主题的本地投递与远端路由结果。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fastrand"

	topicreg "github.com/dep2p/go-topicreg"
	"github.com/dep2p/go-topicreg/config"
	"github.com/dep2p/go-topicreg/internal/registry/ddata"
	"github.com/dep2p/go-topicreg/pkg/interfaces"
	"github.com/dep2p/go-topicreg/pkg/lib/log"
	"github.com/dep2p/go-topicreg/pkg/types"
)

var logger = log.Logger("topicreg/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile  = flag.String("config", "", "配置文件路径（.json / .toml）")
	preset      = flag.String("preset", "local", "预设配置 (local/cluster)")
	nodes       = flag.Int("nodes", 3, "模拟节点数")
	topics      = flag.Int("topics", 8, "主题数")
	subscribers = flag.Int("subscribers", 4, "每个节点的订阅者数")
	group       = flag.String("group", "", "订阅者使用的分组（空表示不分组）")
	metricsAddr = flag.String("metrics-addr", "", "Prometheus 指标监听地址（空表示不启用）")
	logLevel    = flag.String("log-level", "info", "日志级别")
	serve       = flag.Bool("serve", false, "打印结果后继续运行直到收到退出信号")
)

// 环境变量覆盖
const (
	envRedisAddr = "TOPICREG_REDIS_ADDR"
	envSeed      = "TOPICREG_CLUSTER_SEED"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if level, ok := log.ParseLevel(*logLevel); ok {
		log.SetLevel("", level)
	} else {
		fmt.Fprintf(os.Stderr, "警告: 未知日志级别 %q，使用 info\n", *logLevel)
		log.SetLevel("", slog.LevelInfo)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}
	if *nodes < 1 {
		return errors.New("nodes 必须大于 0")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promReg := prometheus.NewRegistry()
	if *metricsAddr != "" {
		stop := serveMetrics(*metricsAddr, promReg)
		defer stop()
	}

	// 所有模拟节点共享一个复制映射
	mm, err := ddata.NewMultimap(cfg)
	if err != nil {
		return fmt.Errorf("创建复制映射失败: %w", err)
	}
	defer func() { _ = mm.Close() }()

	regs, err := startNodes(ctx, cfg, mm, promReg)
	defer func() {
		for _, reg := range regs {
			_ = reg.Close()
		}
	}()
	if err != nil {
		return err
	}

	topicNames := make([]string, *topics)
	for i := range topicNames {
		topicNames[i] = fmt.Sprintf("things/%d", i)
	}

	if err := populate(ctx, regs, topicNames); err != nil {
		return err
	}
	if err := waitConverged(ctx, regs, 5*time.Second); err != nil {
		return err
	}

	printRouting(ctx, regs, topicNames)

	if *serve {
		fmt.Println("注册表运行中，按 Ctrl+C 退出")
		waitForSignal()
		fmt.Println("\n正在关闭...")
	}
	return nil
}

// loadConfig 加载配置
//
// 优先级：环境变量 > 配置文件 > 预设。
func loadConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	} else if err := config.ApplyPreset(cfg, *preset); err != nil {
		return nil, err
	}

	if v := os.Getenv(envRedisAddr); v != "" {
		cfg.Replication.Backend = config.BackendRedis
		cfg.Replication.Redis.Addr = v
	}
	if v := os.Getenv(envSeed); v != "" {
		cfg.Registry.ClusterSeed = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// startNodes 启动模拟节点，节点地址为 127.0.0.1:2552 起递增
func startNodes(ctx context.Context, cfg *config.Config, mm interfaces.ReplicatedMultimap, promReg prometheus.Registerer) ([]*topicreg.Registry, error) {
	regs := make([]*topicreg.Registry, 0, *nodes)
	for i := 0; i < *nodes; i++ {
		nodeCfg := cfg.WithNodeAddress(fmt.Sprintf("127.0.0.1:%d", 2552+i))

		// 只暴露第一个节点的指标，其余节点各用独立注册器避免同名冲突
		opts := []topicreg.Option{topicreg.WithMultimap(mm)}
		if i == 0 {
			opts = append(opts, topicreg.WithRegisterer(promReg))
		} else {
			opts = append(opts, topicreg.WithRegisterer(prometheus.NewRegistry()))
		}

		reg, err := topicreg.New(nodeCfg, opts...)
		if err != nil {
			return regs, fmt.Errorf("创建节点 %d 失败: %w", i, err)
		}
		if err := reg.Start(ctx); err != nil {
			return regs, fmt.Errorf("启动节点 %d 失败: %w", i, err)
		}
		regs = append(regs, reg)
		logger.Info("节点已启动", "node", reg.Self().String())
	}
	return regs, nil
}

// populate 为每个节点随机生成订阅并刷新
func populate(ctx context.Context, regs []*topicreg.Registry, topicNames []string) error {
	for _, reg := range regs {
		for i := 0; i < *subscribers; i++ {
			sub := types.NewSubscriber(reg.Self())
			n := 1 + int(fastrand.Uint32n(3))
			picked := make([]string, 0, n)
			for j := 0; j < n; j++ {
				picked = append(picked, topicNames[fastrand.Uint32n(uint32(len(topicNames)))])
			}
			if _, err := reg.Subscribe(ctx, sub, picked, *group, nil); err != nil {
				return fmt.Errorf("订阅失败: %w", err)
			}
		}
		if err := reg.Flush(ctx); err != nil {
			return fmt.Errorf("节点 %s 复制失败: %w", reg.Self(), err)
		}
	}
	return nil
}

// waitConverged 等待每个节点都看到全部其他节点
func waitConverged(ctx context.Context, regs []*topicreg.Registry, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		converged := true
		for _, reg := range regs {
			if len(reg.Nodes()) != len(regs)-1 {
				converged = false
				break
			}
		}
		if converged {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("等待远端视图收敛超时: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// printRouting 以第一个节点的视角打印路由表
func printRouting(ctx context.Context, regs []*topicreg.Registry, topicNames []string) {
	self := regs[0]

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Printf("  路由视角: %s\n", self.Self())
	fmt.Println("═══════════════════════════════════════════════════════")
	for _, topic := range topicNames {
		route := self.Route(topic)
		addrs := make([]string, 0, len(route.Remote))
		for _, addr := range route.Remote {
			addrs = append(addrs, addr.String())
		}
		fmt.Printf("  %-12s 本地 %2d  远端 [%s]\n", topic, len(route.Local), strings.Join(addrs, ", "))
	}

	if size, err := self.EstimateSize(ctx); err == nil {
		fmt.Printf("  估算大小: %d 字节\n", size)
	}
	if filter, err := self.BloomFilter(ctx); err == nil {
		fmt.Printf("  布隆过滤器: %d 位，置位 %d\n", filter.Bits(), filter.PopCount())
	}
	fmt.Println("═══════════════════════════════════════════════════════")
}

// serveMetrics 启动指标 HTTP 服务，返回停止函数
func serveMetrics(addr string, gatherer prometheus.Gatherer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("指标服务退出", "err", err)
		}
	}()
	logger.Info("指标服务已启动", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// waitForSignal 等待退出信号
func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}
