package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteConsistency(t *testing.T) {
	t.Run("Parse", func(t *testing.T) {
		wc, err := ParseWriteConsistency("Majority")
		require.NoError(t, err)
		assert.Equal(t, WriteMajority, wc)

		wc, err = ParseWriteConsistency("")
		require.NoError(t, err)
		assert.Equal(t, WriteLocal, wc)

		_, err = ParseWriteConsistency("quorum")
		assert.ErrorIs(t, err, ErrInvalidWriteConsistency)
	})

	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "local", WriteLocal.String())
		assert.Equal(t, "majority", WriteMajority.String())
		assert.Equal(t, "all", WriteAll.String())
		assert.Equal(t, "unknown", WriteConsistency(42).String())
	})

	t.Run("RequiredAcks", func(t *testing.T) {
		assert.Equal(t, 0, WriteLocal.RequiredAcks(4))
		assert.Equal(t, 2, WriteMajority.RequiredAcks(4))
		assert.Equal(t, 1, WriteMajority.RequiredAcks(2))
		assert.Equal(t, 4, WriteAll.RequiredAcks(4))
		assert.Equal(t, 0, WriteAll.RequiredAcks(0))
	})
}

func TestBackoffKind(t *testing.T) {
	b, err := ParseBackoffKind("fixed")
	require.NoError(t, err)
	assert.Equal(t, BackoffFixed, b)
	assert.Equal(t, "fixed", b.String())

	b, err = ParseBackoffKind("")
	require.NoError(t, err)
	assert.Equal(t, BackoffExponential, b)

	_, err = ParseBackoffKind("linear")
	assert.ErrorIs(t, err, ErrInvalidBackoff)
}

func TestSubscriber(t *testing.T) {
	s := NewSubscriber("node-1")
	require.NoError(t, s.Validate())
	assert.False(t, s.IsZero())
	assert.Equal(t, NodeAddress("node-1"), s.Address)

	other := NewSubscriber("node-1")
	assert.NotEqual(t, s, other)

	assert.ErrorIs(t, Subscriber{Address: "node-1"}.Validate(), ErrEmptySubscriberID)
	assert.ErrorIs(t, Subscriber{ID: "x"}.Validate(), ErrEmptyNodeAddress)
	assert.True(t, Subscriber{}.IsZero())
}

func TestSortHelpers(t *testing.T) {
	subs := []Subscriber{{ID: "b", Address: "n1"}, {ID: "a", Address: "n2"}, {ID: "a", Address: "n1"}}
	SortSubscribers(subs)
	assert.Equal(t, []Subscriber{{ID: "a", Address: "n1"}, {ID: "b", Address: "n1"}, {ID: "a", Address: "n2"}}, subs)

	addrs := []NodeAddress{"c", "a", "b"}
	SortAddresses(addrs)
	assert.Equal(t, []NodeAddress{"a", "b", "c"}, addrs)
}
