package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-topicreg/pkg/interfaces"
	"github.com/dep2p/go-topicreg/pkg/types"
)

func TestMultimap_AddRemoveReplace(t *testing.T) {
	m := New()
	ctx := context.Background()
	key := types.NodeAddress("node-a")

	require.NoError(t, m.AddBindings(ctx, key, []string{"b", "a"}, types.WriteLocal))
	require.NoError(t, m.AddBindings(ctx, key, []string{"a"}, types.WriteLocal))
	got, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	require.NoError(t, m.RemoveBindings(ctx, key, []string{"a", "missing"}, types.WriteLocal))
	got, _ = m.Get(ctx, key)
	assert.Equal(t, []string{"b"}, got)

	require.NoError(t, m.Replace(ctx, key, []string{"x", "y"}, types.WriteLocal))
	all, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[types.NodeAddress][]string{key: {"x", "y"}}, all)

	require.NoError(t, m.RemoveBindings(ctx, key, []string{"x", "y"}, types.WriteLocal))
	all, _ = m.Snapshot(ctx)
	assert.Empty(t, all, "集合清空后键应被删除")
}

func TestMultimap_RemoveMissingKey(t *testing.T) {
	m := New()
	assert.NoError(t, m.RemoveKey(context.Background(), "nobody", types.WriteMajority))
}

func TestMultimap_Notifications(t *testing.T) {
	m := New()
	ctx := context.Background()

	var got []interfaces.MultimapChange
	cancel := m.Subscribe(func(c interfaces.MultimapChange) { got = append(got, c) })

	require.NoError(t, m.AddBindings(ctx, "n1", []string{"v"}, types.WriteLocal))
	require.NoError(t, m.RemoveKey(ctx, "n1", types.WriteLocal))
	require.NoError(t, m.RemoveKey(ctx, "n1", types.WriteLocal))

	assert.Equal(t, []interfaces.MultimapChange{
		{Key: "n1"},
		{Key: "n1", Removed: true},
	}, got)

	cancel()
	cancel()
	require.NoError(t, m.AddBindings(ctx, "n2", []string{"v"}, types.WriteLocal))
	assert.Len(t, got, 2, "取消后不再通知")
}

func TestMultimap_FailNext(t *testing.T) {
	m := New()
	ctx := context.Background()
	errInjected := errors.New("injected")

	m.FailNext(2, errInjected)
	assert.ErrorIs(t, m.AddBindings(ctx, "n", []string{"v"}, types.WriteLocal), errInjected)
	assert.ErrorIs(t, m.Replace(ctx, "n", []string{"v"}, types.WriteLocal), errInjected)
	assert.NoError(t, m.AddBindings(ctx, "n", []string{"v"}, types.WriteLocal))
	assert.Equal(t, int64(1), m.Writes())
}

func TestMultimap_Consistency(t *testing.T) {
	m := New(WithReplicas(4))
	ctx := context.Background()

	require.NoError(t, m.AddBindings(ctx, "n", []string{"v"}, types.WriteAll))

	m.SetAvailableReplicas(2)
	assert.NoError(t, m.AddBindings(ctx, "n", []string{"v"}, types.WriteMajority))
	assert.ErrorIs(t, m.AddBindings(ctx, "n", []string{"v"}, types.WriteAll), types.ErrConsistencyNotReached)

	m.SetAvailableReplicas(0)
	assert.NoError(t, m.AddBindings(ctx, "n", []string{"v"}, types.WriteLocal))
	assert.ErrorIs(t, m.RemoveKey(ctx, "n", types.WriteMajority), types.ErrConsistencyNotReached)
}

func TestMultimap_LatencyHonoursContext(t *testing.T) {
	m := New(WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.AddBindings(ctx, "n", []string{"v"}, types.WriteLocal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMultimap_Closed(t *testing.T) {
	m := New()
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.AddBindings(context.Background(), "n", []string{"v"}, types.WriteLocal), ErrClosed)
	_, err := m.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
