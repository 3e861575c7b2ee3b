package interfaces_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-topicreg/internal/registry/ddata/memory"
	"github.com/dep2p/go-topicreg/internal/registry/ddata/redismap"
	"github.com/dep2p/go-topicreg/pkg/interfaces"
	"github.com/dep2p/go-topicreg/pkg/types"
)

// 编译期接口检查
var (
	_ interfaces.ReplicatedMultimap = (*memory.Multimap)(nil)
	_ interfaces.ReplicatedMultimap = (*redismap.Multimap)(nil)
	_ interfaces.Membership         = (*MockMembership)(nil)
)

// ============================================================================
// Mock 实现
// ============================================================================

// MockMembership 模拟 Membership 接口实现
type MockMembership struct {
	self   types.NodeAddress
	events []interfaces.MemberEvent
}

func NewMockMembership(self types.NodeAddress, events ...interfaces.MemberEvent) *MockMembership {
	return &MockMembership{self: self, events: events}
}

func (m *MockMembership) Self() types.NodeAddress {
	return m.self
}

func (m *MockMembership) Events(ctx context.Context) (<-chan interfaces.MemberEvent, error) {
	ch := make(chan interfaces.MemberEvent, len(m.events))
	for _, ev := range m.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// ============================================================================
// 测试
// ============================================================================

// TestMembership_Events 测试成员事件按顺序送达
func TestMembership_Events(t *testing.T) {
	m := NewMockMembership("node-a",
		interfaces.MemberEvent{Address: "node-b", Type: interfaces.MemberUp},
		interfaces.MemberEvent{Address: "node-b", Type: interfaces.MemberRemoved},
	)

	ch, err := m.Events(context.Background())
	require.NoError(t, err)

	var got []interfaces.MemberEventType
	for ev := range ch {
		assert.Equal(t, types.NodeAddress("node-b"), ev.Address)
		got = append(got, ev.Type)
	}
	assert.Equal(t, []interfaces.MemberEventType{interfaces.MemberUp, interfaces.MemberRemoved}, got)
}

// TestMemberEventType_String 测试事件类型名称
func TestMemberEventType_String(t *testing.T) {
	assert.Equal(t, "up", interfaces.MemberUp.String())
	assert.Equal(t, "unreachable", interfaces.MemberUnreachable.String())
	assert.Equal(t, "removed", interfaces.MemberRemoved.String())
	assert.Equal(t, "unknown", interfaces.MemberEventType(9).String())
}

// TestReplicatedMultimap_Subscribe 测试变更通知的键与删除标记
func TestReplicatedMultimap_Subscribe(t *testing.T) {
	var mm interfaces.ReplicatedMultimap = memory.New()
	defer mm.Close()

	var changes []interfaces.MultimapChange
	cancel := mm.Subscribe(func(c interfaces.MultimapChange) {
		changes = append(changes, c)
	})
	defer cancel()

	ctx := context.Background()
	require.NoError(t, mm.AddBindings(ctx, "node-a", []string{"v1"}, types.WriteLocal))
	require.NoError(t, mm.RemoveKey(ctx, "node-a", types.WriteLocal))

	require.Len(t, changes, 2)
	assert.Equal(t, types.NodeAddress("node-a"), changes[0].Key)
	assert.False(t, changes[0].Removed)
	assert.True(t, changes[1].Removed)
}
