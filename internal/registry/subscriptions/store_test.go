package subscriptions

import (
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-topicreg/internal/registry/hashfamily"
	"github.com/dep2p/go-topicreg/pkg/types"
)

// ============================================================================
//                              测试辅助
// ============================================================================

func newTestStore(t *testing.T) *Subscriptions {
	t.Helper()
	family, err := hashfamily.NewFromSeed("subscriptions-test", 4)
	require.NoError(t, err)
	s, err := New(family)
	require.NoError(t, err)
	return s
}

func sub(id string) types.Subscriber {
	return types.Subscriber{ID: types.SubscriberID(id), Address: "node-1"}
}

func topics(ns ...int) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = strconv.Itoa(n)
	}
	return out
}

func mustSubscribe(t *testing.T, s *Subscriptions, who types.Subscriber, ts []string, group string) bool {
	t.Helper()
	changed, err := s.Subscribe(who, ts, group, nil)
	require.NoError(t, err)
	return changed
}

func mustRemove(t *testing.T, s *Subscriptions, who types.Subscriber) bool {
	t.Helper()
	changed, err := s.RemoveSubscriber(who)
	require.NoError(t, err)
	return changed
}

func subs(ss ...types.Subscriber) []types.Subscriber {
	out := append([]types.Subscriber{}, ss...)
	types.SortSubscribers(out)
	return out
}

// ============================================================================
//                              边界校验
// ============================================================================

func TestNew_NilFamily(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilFamily)
}

func TestSubscribe_RejectsInvalidInput(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Subscribe(types.Subscriber{}, topics(1), "", nil)
	assert.ErrorIs(t, err, ErrInvalidSubscriber)
	assert.ErrorIs(t, err, types.ErrEmptySubscriberID)

	_, err = s.Subscribe(sub("a"), []string{"x", ""}, "", nil)
	assert.ErrorIs(t, err, ErrEmptyTopic)

	_, err = s.Unsubscribe(types.Subscriber{ID: "a"}, topics(1))
	assert.ErrorIs(t, err, ErrInvalidSubscriber)

	mustSubscribe(t, s, sub("a"), topics(1), "")
	changed, err := s.RemoveSubscriber(types.Subscriber{})
	assert.ErrorIs(t, err, ErrInvalidSubscriber)
	assert.False(t, changed)
	assert.True(t, mustRemove(t, s, sub("a")))

	// 拒绝后不留下任何状态
	assert.Zero(t, s.SubscriberCount())
	assert.Zero(t, s.TopicCount())
	assert.Zero(t, s.ExportSize())
}

func TestSubscribe_NoTopicsIsNotTracked(t *testing.T) {
	s := newTestStore(t)

	changed := mustSubscribe(t, s, sub("a"), nil, "g")
	assert.False(t, changed)
	assert.False(t, s.Contains(sub("a")))
}

// ============================================================================
//                              Venn 图场景
// ============================================================================

func TestVennDiagram(t *testing.T) {
	s := newTestStore(t)
	a, b, c := sub("A"), sub("B"), sub("C")

	assert.True(t, mustSubscribe(t, s, a, topics(1, 2, 4, 5), ""))
	assert.True(t, mustSubscribe(t, s, b, topics(2, 3, 5, 6), ""))
	assert.True(t, mustSubscribe(t, s, c, topics(4, 5, 6, 7), ""))

	r := s.Snapshot()
	assert.Equal(t, subs(a, b, c), r.GetSubscribers(topics(5)))
	assert.Equal(t, subs(a), r.GetSubscribers(topics(1)))
	assert.Equal(t, subs(a, b), r.GetSubscribers(topics(2)))
	assert.Equal(t, subs(b, c), r.GetSubscribers(topics(6)))
	assert.Equal(t, subs(a, b, c), r.GetSubscribers(topics(1, 3, 7)))
	assert.Empty(t, r.GetSubscribers(topics(8)))

	assert.True(t, mustRemove(t, s, a))
	assert.True(t, mustRemove(t, s, b))

	r = s.Snapshot()
	assert.Equal(t, subs(c), r.GetSubscribers(topics(4)))
	assert.Empty(t, r.GetSubscribers(topics(1)))
	assert.Empty(t, r.GetSubscribers(topics(2)))
	assert.Empty(t, r.GetSubscribers(topics(3)))
	assert.Equal(t, []string{"4", "5", "6", "7"}, r.Topics())
}

// ============================================================================
//                              变化检测
// ============================================================================

func TestChangeDetection(t *testing.T) {
	s := newTestStore(t)
	a, b := sub("A"), sub("B")

	assert.True(t, mustSubscribe(t, s, a, topics(1, 2, 3), ""))

	// 已被 A 覆盖
	assert.False(t, mustSubscribe(t, s, b, topics(1, 2), ""))
	// 至少一个新主题
	assert.True(t, mustSubscribe(t, s, b, topics(2, 9), ""))
	// 重复订阅
	assert.False(t, mustSubscribe(t, s, b, topics(9), ""))

	// B 退订 1，A 仍持有
	changed, err := s.Unsubscribe(b, topics(1))
	require.NoError(t, err)
	assert.False(t, changed)

	// B 退订 9，只有 B 持有
	changed, err = s.Unsubscribe(b, topics(9))
	require.NoError(t, err)
	assert.True(t, changed)

	// B 只剩 2，A 也持有
	assert.False(t, mustRemove(t, s, b))
	assert.False(t, s.Contains(b))

	assert.True(t, mustRemove(t, s, a))
	assert.False(t, mustRemove(t, s, a))
	assert.Zero(t, s.ExportSize())
}

func TestChangeDetection_GroupsAreDistinct(t *testing.T) {
	s := newTestStore(t)

	assert.True(t, mustSubscribe(t, s, sub("A"), topics(1), ""))
	// 同一向量但分组不同，导出变化
	assert.True(t, mustSubscribe(t, s, sub("B"), topics(1), "g1"))
	// 同分组已覆盖
	assert.False(t, mustSubscribe(t, s, sub("C"), topics(1), "g1"))
	assert.Equal(t, 2, s.ExportSize())
}

func TestUnsubscribe_NoOps(t *testing.T) {
	s := newTestStore(t)

	changed, err := s.Unsubscribe(sub("ghost"), topics(1))
	require.NoError(t, err)
	assert.False(t, changed)

	mustSubscribe(t, s, sub("A"), topics(1), "")
	changed, err = s.Unsubscribe(sub("A"), topics(2))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, s.Contains(sub("A")))
}

func TestUnsubscribe_DropsEmptyTopicAndSubscriber(t *testing.T) {
	s := newTestStore(t)
	a := sub("A")
	mustSubscribe(t, s, a, topics(1, 2), "g")

	_, err := s.Unsubscribe(a, topics(1))
	require.NoError(t, err)
	assert.Equal(t, 1, s.TopicCount())
	assert.Equal(t, []string{"2"}, s.TopicsOf(a))

	_, err = s.Unsubscribe(a, topics(2))
	require.NoError(t, err)
	assert.Zero(t, s.TopicCount())
	assert.False(t, s.Contains(a))

	// 分组元数据随订阅者丢弃
	mustSubscribe(t, s, a, topics(3), "")
	assert.Equal(t, []types.Subscriber{a}, s.Snapshot().GetSubscribers(topics(3)))
	assert.Equal(t, "", s.Export().Inserts()[0].Group)
}

// ============================================================================
//                              幂等与顺序无关
// ============================================================================

func TestRotationIdempotence(t *testing.T) {
	a, b, c := sub("A"), sub("B"), sub("C")

	first := newTestStore(t)
	mustSubscribe(t, first, a, topics(1, 2, 3), "")
	mustSubscribe(t, first, b, topics(3, 4), "")
	_, err := first.Unsubscribe(a, topics(3))
	require.NoError(t, err)
	mustSubscribe(t, first, c, topics(5), "")
	first.RemoveSubscriber(c)

	second := newTestStore(t)
	mustSubscribe(t, second, c, topics(5, 1), "")
	mustSubscribe(t, second, b, topics(4), "")
	mustSubscribe(t, second, a, topics(2), "")
	_, err = second.Unsubscribe(c, topics(1, 5))
	require.NoError(t, err)
	mustSubscribe(t, second, b, topics(3), "")
	mustSubscribe(t, second, a, topics(1), "")

	r1, r2 := first.Snapshot(), second.Snapshot()
	for i := 0; i <= 6; i++ {
		assert.Equal(t, r1.GetSubscribers(topics(i)), r2.GetSubscribers(topics(i)), "topic %d", i)
	}
	assert.True(t, first.Export().Equal(second.Export()))
}

// ============================================================================
//                              快照隔离
// ============================================================================

func TestSnapshotIsolation(t *testing.T) {
	s := newTestStore(t)
	a, b := sub("A"), sub("B")
	mustSubscribe(t, s, a, topics(1), "")

	before := s.Snapshot()
	assert.Same(t, before, s.Snapshot())

	mustSubscribe(t, s, b, topics(1, 2), "")
	_, err := s.Unsubscribe(a, topics(1))
	require.NoError(t, err)
	mustSubscribe(t, s, a, topics(3), "")
	s.RemoveSubscriber(b)

	assert.Equal(t, []types.Subscriber{a}, before.GetSubscribers(topics(1)))
	assert.Empty(t, before.GetSubscribers(topics(2)))
	assert.Empty(t, before.GetSubscribers(topics(3)))
	assert.Equal(t, 1, before.SubscriberCount())

	after := s.Snapshot()
	assert.NotSame(t, before, after)
	assert.Empty(t, after.GetSubscribers(topics(1)))
	assert.Equal(t, []types.Subscriber{a}, after.GetSubscribers(topics(3)))
}

func TestSnapshot_ConcurrentReadersDuringMutation(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 50; i++ {
		mustSubscribe(t, s, sub(fmt.Sprintf("s%d", i)), topics(i%5), "")
	}
	snap := s.Snapshot()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.Len(t, snap.GetSubscribers(topics(j%5)), 10)
			}
		}()
	}

	for i := 0; i < 50; i++ {
		s.RemoveSubscriber(sub(fmt.Sprintf("s%d", i)))
	}
	wg.Wait()
}

// ============================================================================
//                              分组
// ============================================================================

func TestGroups_OnePerGroupPlusUngrouped(t *testing.T) {
	s := newTestStore(t)
	mustSubscribe(t, s, sub("u1"), topics(1), "")
	mustSubscribe(t, s, sub("u2"), topics(1), "")
	mustSubscribe(t, s, sub("g1a"), topics(1), "g1")
	mustSubscribe(t, s, sub("g1b"), topics(1), "g1")
	mustSubscribe(t, s, sub("g2a"), topics(1), "g2")

	for i := 0; i < 10; i++ {
		got := s.Snapshot().GetSubscribers(topics(1))
		require.Len(t, got, 4)
		assert.Contains(t, got, sub("u1"))
		assert.Contains(t, got, sub("u2"))
		assert.Contains(t, got, sub("g2a"))

		g1 := 0
		for _, x := range got {
			if x == sub("g1a") || x == sub("g1b") {
				g1++
			}
		}
		assert.Equal(t, 1, g1)
	}
}

func TestGroups_SelectionFairness(t *testing.T) {
	s := newTestStore(t)
	const members = 5
	for i := 0; i < members; i++ {
		mustSubscribe(t, s, sub(fmt.Sprintf("m%d", i)), []string{"x"}, "workers")
	}

	counts := make(map[types.Subscriber]int)
	const rounds = 100
	for i := 0; i < members*rounds; i++ {
		// 每隔一段时间触发快照重建，轮询状态不受影响
		if i%37 == 0 {
			mustSubscribe(t, s, sub("other"), topics(i), "")
		}
		got := s.Snapshot().GetSubscribers([]string{"x"})
		require.Len(t, got, 1)
		counts[got[0]]++
	}

	require.Len(t, counts, members)
	for who, n := range counts {
		assert.Equal(t, rounds, n, who.String())
	}
}

func TestGroups_OnePerPublishAcrossTopics(t *testing.T) {
	s := newTestStore(t)
	mustSubscribe(t, s, sub("a"), topics(1), "g")
	mustSubscribe(t, s, sub("b"), topics(2), "g")

	for i := 0; i < 6; i++ {
		assert.Len(t, s.Snapshot().GetSubscribers(topics(1, 2)), 1)
	}
}

func TestGroups_RestrictedToAllowedGroups(t *testing.T) {
	s := newTestStore(t)
	mustSubscribe(t, s, sub("u"), topics(1), "")
	mustSubscribe(t, s, sub("g1a"), topics(1), "g1")
	mustSubscribe(t, s, sub("g2a"), topics(1), "g2")

	_, err := s.Subscribe(sub("g3a"), topics(1), "g3", func(string) bool { return false })
	require.NoError(t, err)

	r := s.Snapshot()
	assert.Equal(t, []string{"g1", "g2"}, r.GroupsFor("1"), "过滤器拒绝的分组不参与选择")
	assert.Empty(t, r.GroupsFor("2"))

	// 未分组订阅者总是投递，分组只在允许集合内选
	assert.Equal(t, subs(sub("u")), r.GetSubscribersInGroups(topics(1), nil))
	assert.Equal(t, subs(sub("u"), sub("g2a")), r.GetSubscribersInGroups(topics(1), []string{"g2"}))
	assert.Equal(t, r.GetSubscribers(topics(1)), r.GetSubscribersInGroups(topics(1), []string{"g1", "g2", "g3"}))
}

func TestGroups_ChangingGroupMigratesTopics(t *testing.T) {
	s := newTestStore(t)
	a := sub("A")
	mustSubscribe(t, s, a, topics(1, 2), "g1")
	mustSubscribe(t, s, sub("B"), topics(1), "g1")

	changed := mustSubscribe(t, s, a, nil, "g2")
	assert.True(t, changed)

	export := s.Export().Inserts()
	require.Len(t, export, 2)
	assert.Equal(t, "g1", export[0].Group)
	assert.Len(t, export[0].Topics, 1)
	assert.Equal(t, "g2", export[1].Group)
	assert.Len(t, export[1].Topics, 2)

	// 两个分组各选一个
	assert.Equal(t, subs(a, sub("B")), s.Snapshot().GetSubscribers(topics(1)))
}

// ============================================================================
//                              过滤器
// ============================================================================

func TestFilter(t *testing.T) {
	s := newTestStore(t)
	a, b := sub("A"), sub("B")

	onlyEven := func(topic string) bool {
		n, _ := strconv.Atoi(topic)
		return n%2 == 0
	}
	_, err := s.Subscribe(a, topics(1, 2), "", onlyEven)
	require.NoError(t, err)
	_, err = s.Subscribe(b, topics(1, 2), "g", onlyEven)
	require.NoError(t, err)

	r := s.Snapshot()
	assert.Empty(t, r.GetSubscribers(topics(1)))
	assert.Equal(t, subs(a, b), r.GetSubscribers(topics(2)))
	assert.True(t, r.HasSubscribers("1"))

	// 过滤器整体替换
	_, err = s.Subscribe(a, nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, subs(a), s.Snapshot().GetSubscribers(topics(1)))
}

// ============================================================================
//                              批量移除
// ============================================================================

func TestRemoveAddress(t *testing.T) {
	s := newTestStore(t)
	local := types.Subscriber{ID: "l", Address: "node-1"}
	r1 := types.Subscriber{ID: "r1", Address: "node-2"}
	r2 := types.Subscriber{ID: "r2", Address: "node-2"}

	mustSubscribe(t, s, local, topics(1), "")
	mustSubscribe(t, s, r1, topics(1, 2), "")
	mustSubscribe(t, s, r2, topics(3), "g")

	assert.True(t, s.RemoveAddress("node-2"))
	assert.Equal(t, 1, s.SubscriberCount())
	assert.Equal(t, []types.Subscriber{local}, s.Snapshot().GetSubscribers(topics(1, 2, 3)))
	assert.False(t, s.RemoveAddress("node-2"))
}

// ============================================================================
//                              导出
// ============================================================================

func TestExport_Deterministic(t *testing.T) {
	s := newTestStore(t)
	mustSubscribe(t, s, sub("A"), topics(1, 2), "g1")
	mustSubscribe(t, s, sub("B"), topics(1, 2), "g1")
	mustSubscribe(t, s, sub("C"), topics(3), "")

	first := s.Export()
	second := s.Export()
	assert.True(t, first.Equal(second))
	assert.True(t, first.IsReplaceAll())

	// A 和 B 的相同主题集合只导出一次
	inserts := first.Inserts()
	require.Len(t, inserts, 2)
	assert.Equal(t, "", inserts[0].Group)
	assert.Len(t, inserts[0].Topics, 1)
	assert.Equal(t, "g1", inserts[1].Group)
	assert.Len(t, inserts[1].Topics, 2)
	assert.Equal(t, 3, first.Size())
}

func TestExport_NoRawTopics(t *testing.T) {
	s := newTestStore(t)
	mustSubscribe(t, s, sub("A"), []string{"secret/topic"}, "")

	want := s.Family().HashVector("secret/topic")
	got := s.Export().InsertBindings()
	require.Len(t, got, 1)
	assert.True(t, want.Equal(got[0].Topic))
}

func TestTakeDelta(t *testing.T) {
	s := newTestStore(t)
	mustSubscribe(t, s, sub("A"), topics(1, 2), "")
	s.ResetDelta()

	mustSubscribe(t, s, sub("B"), topics(3), "")
	_, err := s.Unsubscribe(sub("A"), topics(1))
	require.NoError(t, err)
	// 先加后删相互抵消
	mustSubscribe(t, s, sub("C"), topics(4), "")
	s.RemoveSubscriber(sub("C"))

	assert.Equal(t, 2, s.PendingDeltaSize())
	delta := s.TakeDelta()
	assert.False(t, delta.IsReplaceAll())
	require.Len(t, delta.InsertBindings(), 1)
	require.Len(t, delta.DeleteBindings(), 1)
	assert.True(t, s.Family().HashVector("3").Equal(delta.InsertBindings()[0].Topic))
	assert.True(t, s.Family().HashVector("1").Equal(delta.DeleteBindings()[0].Topic))

	assert.True(t, s.TakeDelta().IsEmpty())
	assert.Zero(t, s.PendingDeltaSize())
}

func TestUpdate_Builders(t *testing.T) {
	v1, v2 := hashfamily.Vector{1}, hashfamily.Vector{2}

	u := NewUpdate()
	assert.True(t, u.IsEmpty())

	u2 := u.WithInserts(Grouped{Group: "g", Topics: []hashfamily.Vector{v2, v1}})
	assert.True(t, u.IsEmpty(), "original unchanged")
	assert.Equal(t, 2, u2.Size())
	assert.True(t, u2.Inserts()[0].Topics[0].Equal(v1), "topics are sorted")

	u3 := u2.WithInserts(Grouped{Group: "g", Topics: []hashfamily.Vector{v1}}).
		WithDeletes(Grouped{Topics: []hashfamily.Vector{v2}})
	assert.Equal(t, 3, u3.Size())
	assert.Len(t, u3.DeleteBindings(), 1)

	full := u3.AsReplaceAll()
	assert.True(t, full.IsReplaceAll())
	assert.Empty(t, full.Deletes())
	assert.False(t, full.IsEmpty())
	assert.False(t, full.Equal(u2))
	assert.True(t, full.Equal(u2.AsReplaceAll()))
}

// ============================================================================
//                              布隆过滤器与大小估算
// ============================================================================

func TestToOptimalBloomFilter_NoFalseNegatives(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 200; i++ {
		mustSubscribe(t, s, sub(fmt.Sprintf("s%d", i%7)), []string{fmt.Sprintf("things/%d", i)}, "")
	}

	f, err := s.ToOptimalBloomFilter(0.01)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		assert.True(t, f.TestVector(s.Family().HashVector(fmt.Sprintf("things/%d", i))))
	}

	_, err = s.ToOptimalBloomFilter(2)
	assert.Error(t, err)
}

func TestEstimateSize_MonotoneInSubscribers(t *testing.T) {
	s := newTestStore(t)
	assert.Zero(t, s.EstimateSize())

	last := int64(0)
	for i := 0; i < 10; i++ {
		mustSubscribe(t, s, sub(fmt.Sprintf("s%d", i)), topics(1, 2, 3), "group")
		size := s.EstimateSize()
		assert.Greater(t, size, last)
		last = size
	}
	// 10 × (3 × 4 × 8 + 5)
	assert.Equal(t, int64(10*(3*4*8+5)), last)
}
