package ddata

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-topicreg/internal/registry/hashfamily"
	"github.com/dep2p/go-topicreg/internal/registry/subscriptions"
)

// 绑定编码字段号
const (
	fieldFingerprint protowire.Number = 1
	fieldGroup       protowire.Number = 2
	fieldVector      protowire.Number = 3
)

// EncodeBinding 把绑定编码为多值映射中的值
//
// 编码是确定的：同一绑定总是得到同一字符串，因此重放 Update 结果不变。
func EncodeBinding(fingerprint string, b subscriptions.Binding) string {
	buf := make([]byte, 0, 16+len(fingerprint)+len(b.Group)+len(b.Topic)*10)

	buf = protowire.AppendTag(buf, fieldFingerprint, protowire.BytesType)
	buf = protowire.AppendString(buf, fingerprint)

	if b.Group != "" {
		buf = protowire.AppendTag(buf, fieldGroup, protowire.BytesType)
		buf = protowire.AppendString(buf, b.Group)
	}

	var packed []byte
	for _, x := range b.Topic {
		packed = protowire.AppendVarint(packed, uint64(x))
	}
	buf = protowire.AppendTag(buf, fieldVector, protowire.BytesType)
	buf = protowire.AppendBytes(buf, packed)

	return string(buf)
}

// EncodeBindings 批量编码
func EncodeBindings(fingerprint string, bindings []subscriptions.Binding) []string {
	out := make([]string, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, EncodeBinding(fingerprint, b))
	}
	return out
}

// DecodeBinding 解码绑定，返回写入方的函数族指纹
func DecodeBinding(value string) (string, subscriptions.Binding, error) {
	var (
		fingerprint string
		binding     subscriptions.Binding
		seenVector  bool
	)

	data := []byte(value)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", binding, fmt.Errorf("%w: %w", ErrMalformedBinding, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldFingerprint && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", binding, fmt.Errorf("%w: %w", ErrMalformedBinding, protowire.ParseError(n))
			}
			fingerprint = s
			data = data[n:]

		case num == fieldGroup && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", binding, fmt.Errorf("%w: %w", ErrMalformedBinding, protowire.ParseError(n))
			}
			binding.Group = s
			data = data[n:]

		case num == fieldVector && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", binding, fmt.Errorf("%w: %w", ErrMalformedBinding, protowire.ParseError(n))
			}
			vec, err := decodeVector(packed)
			if err != nil {
				return "", binding, err
			}
			binding.Topic = vec
			seenVector = true
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", binding, fmt.Errorf("%w: %w", ErrMalformedBinding, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !seenVector || len(binding.Topic) == 0 {
		return "", binding, fmt.Errorf("%w: missing vector", ErrMalformedBinding)
	}
	return fingerprint, binding, nil
}

func decodeVector(packed []byte) (hashfamily.Vector, error) {
	var vec hashfamily.Vector
	for len(packed) > 0 {
		x, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrMalformedBinding, protowire.ParseError(n))
		}
		vec = append(vec, int64(x))
		packed = packed[n:]
	}
	return vec, nil
}
