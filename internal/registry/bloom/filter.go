// Package bloom 实现基于哈希函数族的布隆过滤器
//
// 过滤器的位位置直接取自主题的哈希向量（hashfamily.Vector），
// 因此远端节点只需持有复制来的向量即可构建同一个过滤器，无需原始主题。
// 使用同一函数族构建和检测时不会出现假阴性。
package bloom

import (
	"encoding/binary"
	"errors"
	"math"
	"math/bits"

	"github.com/klauspost/compress/s2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-topicreg/internal/registry/hashfamily"
)

// MinBits 最小位数组大小
const MinBits = 64

var (
	// ErrInvalidRate 假阳性率不在 (0, 1) 内
	ErrInvalidRate = errors.New("bloom: false positive rate must be in (0, 1)")

	// ErrCorrupted 二进制数据损坏
	ErrCorrupted = errors.New("bloom: corrupted data")
)

// Filter 位数组布隆过滤器
//
// 非并发安全；构建完成后只读使用可在多个 goroutine 间共享。
type Filter struct {
	words []uint64
	m     uint64
}

// OptimalBits 计算 n 个元素在目标假阳性率下的最小位数
//
// m = ceil(-n·ln(p) / (ln 2)²)，向上取整到 64 的倍数，最少 MinBits。
func OptimalBits(n int, fpr float64) (uint64, error) {
	if !(fpr > 0 && fpr < 1) {
		return 0, ErrInvalidRate
	}
	if n <= 0 {
		return MinBits, nil
	}
	m := math.Ceil(-float64(n) * math.Log(fpr) / (math.Ln2 * math.Ln2))
	size := uint64(m)
	if size < MinBits {
		size = MinBits
	}
	return (size + 63) / 64 * 64, nil
}

// New 创建 m 位的空过滤器
func New(m uint64) *Filter {
	if m < MinBits {
		m = MinBits
	}
	m = (m + 63) / 64 * 64
	return &Filter{
		words: make([]uint64, m/64),
		m:     m,
	}
}

// Bits 返回位数组大小
func (f *Filter) Bits() uint64 {
	return f.m
}

// PopCount 返回已置位数
func (f *Filter) PopCount() int {
	n := 0
	for _, w := range f.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// position 计算哈希值对应的位位置
func (f *Filter) position(h int64) uint64 {
	return uint64(h) % f.m
}

// AddVector 为向量的每个分量置一位
func (f *Filter) AddVector(v hashfamily.Vector) {
	for _, h := range v {
		pos := f.position(h)
		f.words[pos/64] |= 1 << (pos % 64)
	}
}

// TestVector 检测向量是否可能在集合中
//
// 任一位未置位即确定不在集合中。
func (f *Filter) TestVector(v hashfamily.Vector) bool {
	if len(v) == 0 {
		return false
	}
	for _, h := range v {
		pos := f.position(h)
		if f.words[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// ============================================================================
//                              二进制编解码
// ============================================================================

const (
	fieldBits  protowire.Number = 1
	fieldWords protowire.Number = 2
)

// MarshalBinary 编码为 protowire 消息，位数组经 s2 压缩
func (f *Filter) MarshalBinary() ([]byte, error) {
	raw := make([]byte, 8*len(f.words))
	for i, w := range f.words {
		binary.LittleEndian.PutUint64(raw[8*i:], w)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldBits, protowire.VarintType)
	b = protowire.AppendVarint(b, f.m)
	b = protowire.AppendTag(b, fieldWords, protowire.BytesType)
	b = protowire.AppendBytes(b, s2.Encode(nil, raw))
	return b, nil
}

// UnmarshalBinary 从 MarshalBinary 的输出还原
func (f *Filter) UnmarshalBinary(data []byte) error {
	var (
		m          uint64
		compressed []byte
		seenWords  bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == fieldBits && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m = v
			data = data[n:]
		case num == fieldWords && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			compressed = v
			seenWords = true
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}

	if m == 0 || m%64 != 0 || !seenWords {
		return ErrCorrupted
	}
	raw, err := s2.Decode(nil, compressed)
	if err != nil {
		return errors.Join(ErrCorrupted, err)
	}
	if uint64(len(raw)) != m/8 {
		return ErrCorrupted
	}

	words := make([]uint64, m/64)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(raw[8*i:])
	}
	f.words = words
	f.m = m
	return nil
}
