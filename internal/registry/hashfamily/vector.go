package hashfamily

import (
	"encoding/binary"
	"errors"
)

// ErrInvalidKey 键长度不是 8 的倍数
var ErrInvalidKey = errors.New("hashfamily: invalid vector key")

// Vector 主题的哈希向量（近似值）
type Vector []int64

// Scalar 折叠为单个整数
func (v Vector) Scalar() int64 {
	var h int64
	for _, x := range v {
		h = h*31 + x
	}
	return h
}

// Key 返回可作为 map 键的稳定二进制表示
func (v Vector) Key() string {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.BigEndian.PutUint64(buf[8*i:], uint64(x))
	}
	return string(buf)
}

// Equal 比较两个向量
func (v Vector) Equal(other Vector) bool {
	if len(v) != len(other) {
		return false
	}
	for i := range v {
		if v[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone 复制向量
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	return append(Vector(nil), v...)
}

// FromKey 从 Key 还原向量
func FromKey(key string) (Vector, error) {
	if len(key)%8 != 0 {
		return nil, ErrInvalidKey
	}
	v := make(Vector, len(key)/8)
	for i := range v {
		v[i] = int64(binary.BigEndian.Uint64([]byte(key[8*i : 8*i+8])))
	}
	return v, nil
}
