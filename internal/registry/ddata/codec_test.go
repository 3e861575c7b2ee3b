package ddata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-topicreg/internal/registry/hashfamily"
	"github.com/dep2p/go-topicreg/internal/registry/subscriptions"
)

func TestBinding_EncodeDecode(t *testing.T) {
	b := subscriptions.Binding{Group: "workers", Topic: hashfamily.Vector{-1, 0, 42, 1 << 62}}

	value := EncodeBinding("4-deadbeef", b)
	fp, got, err := DecodeBinding(value)
	require.NoError(t, err)
	assert.Equal(t, "4-deadbeef", fp)
	assert.Equal(t, b.Group, got.Group)
	assert.True(t, b.Topic.Equal(got.Topic))

	assert.Equal(t, value, EncodeBinding("4-deadbeef", b), "编码必须确定")
}

func TestBinding_UngroupedOmitsGroup(t *testing.T) {
	withGroup := EncodeBinding("fp", subscriptions.Binding{Group: "g", Topic: hashfamily.Vector{1}})
	ungrouped := EncodeBinding("fp", subscriptions.Binding{Topic: hashfamily.Vector{1}})
	assert.Less(t, len(ungrouped), len(withGroup))

	_, b, err := DecodeBinding(ungrouped)
	require.NoError(t, err)
	assert.Empty(t, b.Group)
}

func TestBinding_SkipsUnknownFields(t *testing.T) {
	value := []byte(EncodeBinding("fp", subscriptions.Binding{Topic: hashfamily.Vector{7}}))
	value = protowire.AppendTag(value, 99, protowire.VarintType)
	value = protowire.AppendVarint(value, 12345)

	_, b, err := DecodeBinding(string(value))
	require.NoError(t, err)
	assert.Equal(t, hashfamily.Vector{7}, b.Topic)
}

func TestBinding_Malformed(t *testing.T) {
	valid := EncodeBinding("fp", subscriptions.Binding{Topic: hashfamily.Vector{1, 2}})

	for name, value := range map[string]string{
		"empty":     "",
		"truncated": valid[:len(valid)-1],
		"no vector": string(protowire.AppendString(protowire.AppendTag(nil, fieldFingerprint, protowire.BytesType), "fp")),
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeBinding(value)
			assert.ErrorIs(t, err, ErrMalformedBinding)
		})
	}
}
