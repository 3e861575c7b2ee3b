// Package hashfamily 实现集群共享的种子哈希函数族
//
// 哈希函数族由 N 个固定种子组成，把主题字符串映射为 N 维整数向量
// （近似值）。向量同时用作布隆过滤器的位位置以及复制时主题的有损标识：
// 不同主题可能碰撞到同一向量（假阳性），同一主题在函数族不变时
// 总是得到同一向量（无假阴性）。
//
// 所有节点必须使用相同的种子（由共享的集群种子字符串派生），
// Fingerprint 用于在复制数据中标识函数族。
package hashfamily

import (
	"encoding/binary"
	"errors"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spaolacci/murmur3"
)

// DefaultCacheSize 默认向量缓存条目数
const DefaultCacheSize = 4096

var (
	// ErrEmptyFamily 种子为空
	ErrEmptyFamily = errors.New("hashfamily: no seeds")

	// ErrInvalidCacheSize 无效的缓存大小
	ErrInvalidCacheSize = errors.New("hashfamily: invalid cache size")
)

// Family 种子哈希函数族
//
// 并发安全：种子只读，缓存自带锁。
type Family struct {
	seeds       []uint32
	fingerprint string
	cache       *lru.Cache[string, Vector]
}

// Option 配置选项
type Option func(*options)

type options struct {
	cacheSize int
}

// WithCacheSize 设置主题向量缓存大小（0 表示禁用缓存）
func WithCacheSize(size int) Option {
	return func(o *options) {
		o.cacheSize = size
	}
}

// New 使用给定种子创建函数族
func New(seeds []uint32, opts ...Option) (*Family, error) {
	if len(seeds) == 0 {
		return nil, ErrEmptyFamily
	}

	o := options{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize < 0 {
		return nil, ErrInvalidCacheSize
	}

	f := &Family{
		seeds: append([]uint32(nil), seeds...),
	}
	f.fingerprint = fingerprint(f.seeds)

	if o.cacheSize > 0 {
		cache, err := lru.New[string, Vector](o.cacheSize)
		if err != nil {
			return nil, err
		}
		f.cache = cache
	}
	return f, nil
}

// NewFromSeed 从集群种子字符串派生 size 个种子
//
// 第 i 个种子为 murmur3_32(seed, i)，相同配置在所有节点上得到相同的函数族。
func NewFromSeed(seed string, size int, opts ...Option) (*Family, error) {
	if size <= 0 {
		return nil, ErrEmptyFamily
	}
	seeds := make([]uint32, size)
	for i := range seeds {
		seeds[i] = murmur3.Sum32WithSeed([]byte(seed), uint32(i))
	}
	return New(seeds, opts...)
}

// Seeds 返回种子副本
func (f *Family) Seeds() []uint32 {
	return append([]uint32(nil), f.seeds...)
}

// Size 返回函数族大小 N
func (f *Family) Size() int {
	return len(f.seeds)
}

// Fingerprint 返回函数族的稳定标识
//
// 种子数量或取值不同的函数族有不同的标识。
func (f *Family) Fingerprint() string {
	return f.fingerprint
}

// HashVector 计算主题的 N 维哈希向量
//
// 纯函数，返回值可由调用方自由修改。
func (f *Family) HashVector(topic string) Vector {
	if f.cache != nil {
		if v, ok := f.cache.Get(topic); ok {
			return v.Clone()
		}
	}

	data := []byte(topic)
	v := make(Vector, len(f.seeds))
	for i, seed := range f.seeds {
		v[i] = int64(murmur3.Sum64WithSeed(data, seed))
	}

	if f.cache != nil {
		f.cache.Add(topic, v.Clone())
	}
	return v
}

// HashScalar 计算主题的单个组合哈希
func (f *Family) HashScalar(topic string) int64 {
	return f.HashVector(topic).Scalar()
}

// fingerprint 计算种子序列的标识
func fingerprint(seeds []uint32) string {
	buf := make([]byte, 4*len(seeds))
	for i, s := range seeds {
		binary.BigEndian.PutUint32(buf[4*i:], s)
	}
	h := murmur3.Sum64WithSeed(buf, uint32(len(seeds)))
	return strconv.Itoa(len(seeds)) + "-" + strconv.FormatUint(h, 16)
}
