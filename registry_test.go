package topicreg

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/goleak"

	"github.com/dep2p/go-topicreg/config"
	"github.com/dep2p/go-topicreg/internal/registry/ddata/memory"
	"github.com/dep2p/go-topicreg/pkg/interfaces"
	"github.com/dep2p/go-topicreg/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*Pool).purgePeriodically"))
}

// ============================================================================
//                              测试辅助
// ============================================================================

// fakeMembership 手动推送成员事件
type fakeMembership struct {
	self   types.NodeAddress
	mu     sync.Mutex
	events chan interfaces.MemberEvent
}

func newFakeMembership(self types.NodeAddress) *fakeMembership {
	return &fakeMembership{
		self:   self,
		events: make(chan interfaces.MemberEvent, 8),
	}
}

func (m *fakeMembership) Self() types.NodeAddress {
	return m.self
}

func (m *fakeMembership) Events(_ context.Context) (<-chan interfaces.MemberEvent, error) {
	return m.events, nil
}

func (m *fakeMembership) emit(addr types.NodeAddress, typ interfaces.MemberEventType) {
	m.events <- interfaces.MemberEvent{Address: addr, Type: typ}
}

func testConfig(addr string) *config.Config {
	cfg := config.NewConfig().WithNodeAddress(addr)
	cfg.Registry.FlushInterval = config.Duration(20 * time.Millisecond)
	cfg.Retry.Attempts = 2
	cfg.Retry.MinDelay = config.Duration(time.Millisecond)
	cfg.Retry.MaxDelay = config.Duration(5 * time.Millisecond)
	return cfg
}

// startNode 在共享的内存映射上启动一个节点
func startNode(t *testing.T, addr string, mm interfaces.ReplicatedMultimap, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{
		WithMultimap(mm),
		WithRegisterer(prometheus.NewRegistry()),
	}, opts...)

	reg, err := New(testConfig(addr), opts...)
	require.NoError(t, err)
	require.NoError(t, reg.Start(context.Background()))
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// ============================================================================
//                              创建与生命周期
// ============================================================================

// TestNew_Validation 测试配置与选项校验
func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilConfig)

	bad := config.NewConfig()
	bad.Registry.HashFamilySize = 0
	_, err = New(bad)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = New(config.NewConfig(), WithMultimap(nil))
	assert.Error(t, err)

	_, err = New(config.NewConfig(), WithMembership(nil))
	assert.Error(t, err)
}

// TestRegistry_Lifecycle 测试启动与关闭状态转换
func TestRegistry_Lifecycle(t *testing.T) {
	reg, err := New(testConfig("node-a"),
		WithMultimap(memory.New()),
		WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	ctx := context.Background()
	sub := types.NewSubscriber(reg.Self())

	_, err = reg.Subscribe(ctx, sub, []string{"t1"}, "", nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, reg.Start(ctx))
	assert.ErrorIs(t, reg.Start(ctx), ErrAlreadyStarted)

	changed, err := reg.Subscribe(ctx, sub, []string{"t1"}, "", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())
	assert.ErrorIs(t, reg.Start(ctx), ErrRegistryClosed)

	_, err = reg.Subscribe(ctx, sub, []string{"t2"}, "", nil)
	assert.ErrorIs(t, err, ErrRegistryClosed)
	assert.True(t, IsStopped(err))
}

// TestRegistry_CloseWithoutStart 测试未启动直接关闭
func TestRegistry_CloseWithoutStart(t *testing.T) {
	reg, err := New(testConfig("node-a"), WithMultimap(memory.New()))
	require.NoError(t, err)
	assert.NoError(t, reg.Close())
}

// ============================================================================
//                              本地查询
// ============================================================================

// TestRegistry_LocalQueries 测试本地订阅、分组与过滤器
func TestRegistry_LocalQueries(t *testing.T) {
	reg := startNode(t, "node-a", memory.New())
	ctx := context.Background()

	a := types.NewSubscriber(reg.Self())
	b := types.NewSubscriber(reg.Self())
	g1 := types.NewSubscriber(reg.Self())
	g2 := types.NewSubscriber(reg.Self())

	_, err := reg.Subscribe(ctx, a, []string{"t1", "t2"}, "", nil)
	require.NoError(t, err)
	_, err = reg.Subscribe(ctx, b, []string{"t1"}, "", func(topic string) bool { return topic != "t1" })
	require.NoError(t, err)
	_, err = reg.Subscribe(ctx, g1, []string{"t1"}, "workers", nil)
	require.NoError(t, err)
	_, err = reg.Subscribe(ctx, g2, []string{"t1"}, "workers", nil)
	require.NoError(t, err)

	got := reg.GetSubscribers("t1")
	assert.Contains(t, got, a)
	assert.NotContains(t, got, b)
	assert.Len(t, got, 2, "一个未分组订阅者加一个分组成员")

	assert.ElementsMatch(t, []types.Subscriber{a}, reg.GetSubscribers("t2"))
	assert.Empty(t, reg.GetSubscribers("unknown"))

	before := reg.Snapshot()
	changed, err := reg.RemoveSubscriber(ctx, a)
	require.NoError(t, err)
	assert.True(t, changed, "t2 消失，t1 仍由 b 贡献")
	assert.Contains(t, before.GetSubscribers([]string{"t2"}), a)
	assert.Empty(t, reg.GetSubscribers("t2"))

	size, err := reg.EstimateSize(ctx)
	require.NoError(t, err)
	assert.Positive(t, size)

	filter, err := reg.BloomFilter(ctx)
	require.NoError(t, err)
	assert.Positive(t, filter.PopCount())

	t.Log("✅ 本地查询正确")
}

// ============================================================================
//                              多节点
// ============================================================================

// TestRegistry_TwoNodes 测试两个节点通过共享映射互相可见
func TestRegistry_TwoNodes(t *testing.T) {
	mm := memory.New()
	regA := startNode(t, "node-a", mm)
	regB := startNode(t, "node-b", mm)
	ctx := context.Background()

	sub := types.NewSubscriber(regA.Self())
	_, err := regA.Subscribe(ctx, sub, []string{"things/1"}, "", nil)
	require.NoError(t, err)
	require.NoError(t, regA.Flush(ctx))

	require.Eventually(t, func() bool {
		nodes := regB.RemoteNodes("things/1")
		return len(nodes) == 1 && nodes[0] == regA.Self()
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, regB.MayRoute(regA.Self(), "things/1"))
	assert.Equal(t, []types.NodeAddress{regA.Self()}, regB.Nodes())
	assert.Empty(t, regA.RemoteNodes("things/1"), "本节点不出现在远端视图中")
	assert.Equal(t, regA.Approximate("things/1"), regB.Approximate("things/1"))

	_, err = regA.Unsubscribe(ctx, sub, []string{"things/1"})
	require.NoError(t, err)
	require.NoError(t, regA.Flush(ctx))

	require.Eventually(t, func() bool {
		return len(regB.RemoteNodes("things/1")) == 0
	}, 2*time.Second, 10*time.Millisecond)

	t.Log("✅ 远端视图跟随订阅变化")
}

// TestRegistry_GroupAcrossNodes 测试同一分组跨节点只返回一个节点
func TestRegistry_GroupAcrossNodes(t *testing.T) {
	mm := memory.New()
	regA := startNode(t, "node-a", mm)
	regB := startNode(t, "node-b", mm)
	regC := startNode(t, "node-c", mm)
	ctx := context.Background()

	for _, reg := range []*Registry{regA, regB} {
		_, err := reg.Subscribe(ctx, types.NewSubscriber(reg.Self()), []string{"jobs"}, "workers", nil)
		require.NoError(t, err)
		require.NoError(t, reg.Flush(ctx))
	}

	require.Eventually(t, func() bool {
		return len(regC.Nodes()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	nodes := regC.RemoteNodes("jobs")
	require.Len(t, nodes, 1)
	assert.Contains(t, []types.NodeAddress{regA.Self(), regB.Self()}, nodes[0])
}

// TestRegistry_SharedGroupDeliversOnce 测试本节点与远端节点共享分组时每次发布只投递一个成员
func TestRegistry_SharedGroupDeliversOnce(t *testing.T) {
	mm := memory.New()
	regA := startNode(t, "node-a", mm)
	regB := startNode(t, "node-b", mm)
	ctx := context.Background()

	var jobs []string
	for i := 0; i < 20; i++ {
		jobs = append(jobs, fmt.Sprintf("jobs/%d", i))
	}

	workers := make(map[types.NodeAddress]types.Subscriber)
	for _, reg := range []*Registry{regA, regB} {
		w := types.NewSubscriber(reg.Self())
		_, err := reg.Subscribe(ctx, w, jobs, "workers", nil)
		require.NoError(t, err)
		require.NoError(t, reg.Flush(ctx))
		workers[reg.Self()] = w
	}
	audit := types.NewSubscriber(regA.Self())
	_, err := regA.Subscribe(ctx, audit, jobs, "", nil)
	require.NoError(t, err)
	require.NoError(t, regA.Flush(ctx))

	require.Eventually(t, func() bool {
		if len(regA.Nodes()) != 1 {
			return false
		}
		for _, topic := range jobs {
			if len(regB.RemoteNodes(topic)) != 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	wins := make(map[types.NodeAddress]int)
	for _, topic := range jobs {
		routeA := regA.Route(topic)
		routeB := regB.Route(topic)

		// 从 A 发布：未分组的 audit 总在本地，workers 只有一个成员
		assert.Contains(t, routeA.Local, audit, topic)
		localWorkers := 0
		for _, s := range routeA.Local {
			if s == workers[regA.Self()] {
				localWorkers++
			}
		}
		require.Equal(t, 1, localWorkers+len(routeA.Remote), topic)

		// 从 B 发布：A 因 audit 总被转发，workers 的胜出者与 A 的判断一致
		assert.Equal(t, []types.NodeAddress{regA.Self()}, routeB.Remote, topic)
		if localWorkers == 1 {
			assert.Empty(t, routeB.Local, topic)
			wins[regA.Self()]++
		} else {
			assert.Equal(t, []types.NodeAddress{regB.Self()}, routeA.Remote, topic)
			assert.Equal(t, []types.Subscriber{workers[regB.Self()]}, routeB.Local, topic)
			wins[regB.Self()]++
		}
		assert.Equal(t, routeA.Remote, regA.RemoteNodes(topic))
	}
	assert.Len(t, wins, 2, "分组成员应分布到两个节点")

	t.Log("✅ 跨节点分组每次发布只选一个成员")
}

// TestRegistry_MembershipRemoval 测试成员离开时清理其复制条目
func TestRegistry_MembershipRemoval(t *testing.T) {
	mm := memory.New()
	regA := startNode(t, "node-a", mm)

	membership := newFakeMembership("node-b")
	regB := startNode(t, "node-b", mm, WithMembership(membership))
	ctx := context.Background()

	_, err := regA.Subscribe(ctx, types.NewSubscriber(regA.Self()), []string{"t1"}, "", nil)
	require.NoError(t, err)
	require.NoError(t, regA.Flush(ctx))

	require.Eventually(t, func() bool {
		return len(regB.RemoteNodes("t1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 不可达不触发清理
	membership.emit(regA.Self(), interfaces.MemberUnreachable)
	membership.emit(regA.Self(), interfaces.MemberRemoved)

	require.Eventually(t, func() bool {
		return len(regB.Nodes()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	values, err := mm.Get(ctx, regA.Self())
	require.NoError(t, err)
	assert.Empty(t, values)

	t.Log("✅ 离开节点的条目已清理")
}

// TestRegistry_Metrics 测试启用指标时注册到给定注册器
func TestRegistry_Metrics(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := startNode(t, "node-a", memory.New(), WithRegisterer(promReg))
	ctx := context.Background()

	_, err := reg.Subscribe(ctx, types.NewSubscriber(reg.Self()), []string{"t1"}, "", nil)
	require.NoError(t, err)
	require.NoError(t, reg.Flush(ctx))

	families, err := promReg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["topicreg_updater_flushes_total"])
	assert.True(t, names["topicreg_ddata_writes_total"])
}

// ============================================================================
//                              Fx 模块
// ============================================================================

// TestModule_Embedded 测试嵌入宿主 fx 应用
func TestModule_Embedded(t *testing.T) {
	var reg *Registry
	app := fxtest.New(t,
		fx.Supply(testConfig("node-a")),
		fx.Provide(
			fx.Annotate(
				func() interfaces.ReplicatedMultimap { return memory.New() },
				fx.ResultTags(`name:"external_multimap"`),
			),
		),
		Module(),
		fx.Populate(&reg),
	)
	app.RequireStart()

	ctx := context.Background()
	assert.ErrorIs(t, reg.Start(ctx), ErrExternallyManaged)

	_, err := reg.Subscribe(ctx, types.NewSubscriber(reg.Self()), []string{"t1"}, "", nil)
	require.NoError(t, err)
	require.NoError(t, reg.Flush(ctx))
	assert.Len(t, reg.GetSubscribers("t1"), 1)

	app.RequireStop()

	_, err = reg.Subscribe(ctx, types.NewSubscriber(reg.Self()), []string{"t2"}, "", nil)
	assert.ErrorIs(t, err, ErrNotStarted)
}
