package subscriptions

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultSelectorSize 轮询计数器的最大条目数
const defaultSelectorSize = 8192

// selector 分组成员的确定性轮询
//
// 计数器按选择键保存在有界 LRU 中，被同一存储的所有快照共享。
// 被淘汰的键从 0 重新开始计数。
type selector struct {
	mu       sync.Mutex
	counters *lru.Cache[string, *atomic.Uint64]
}

func newSelector(size int) *selector {
	counters, err := lru.New[string, *atomic.Uint64](size)
	if err != nil {
		// size 为正常量，不会失败
		panic(err)
	}
	return &selector{counters: counters}
}

// next 返回键的下一个轮询序号
func (s *selector) next(key string) uint64 {
	if c, ok := s.counters.Get(key); ok {
		return c.Add(1) - 1
	}

	s.mu.Lock()
	c, ok := s.counters.Get(key)
	if !ok {
		c = new(atomic.Uint64)
		s.counters.Add(key, c)
	}
	s.mu.Unlock()
	return c.Add(1) - 1
}
