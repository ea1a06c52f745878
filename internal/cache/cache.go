// Package cache implements the per-CPU buffer cache: a slab allocator
// producing uniform-sized chunks, keyed by worker index so allocations and
// frees are lock-free against other workers. Distinct cpu indices must
// never be mixed by a caller — each worker owns exactly one shard.
package cache

import "fmt"

// Cache is a slab pool for msg_size-sized buffers sharded per CPU/worker
// index. Adapted from the teacher's global, size-bucketed sync.Pool buffer
// pool: here the pool is split one-shard-per-CPU with no locking at all,
// since the concurrency model guarantees a shard is touched by only its
// owning worker.
type Cache struct {
	elemSize int
	shards   []shard
}

type shard struct {
	free [][]byte
}

// New allocates a Cache with numCPU independent shards, each pre-populated
// with initialCount buffers of elemSize bytes. Out-of-memory here is
// startup-fatal, not recoverable — this cache exists before any worker is
// live.
func New(elemSize, initialCount, numCPU int) (*Cache, error) {
	if elemSize <= 0 || numCPU <= 0 {
		return nil, fmt.Errorf("cache: invalid dimensions elemSize=%d numCPU=%d", elemSize, numCPU)
	}
	c := &Cache{elemSize: elemSize, shards: make([]shard, numCPU)}
	for i := range c.shards {
		c.shards[i].free = make([][]byte, 0, initialCount)
		for j := 0; j < initialCount; j++ {
			c.shards[i].free = append(c.shards[i].free, make([]byte, elemSize))
		}
	}
	return c, nil
}

// ElemSize is the fixed chunk size every buffer in this cache carries.
func (c *Cache) ElemSize() int { return c.elemSize }

// Alloc pops a buffer from cpu's shard, growing the shard by one fresh
// allocation if it is empty. Amortized O(1).
func (c *Cache) Alloc(cpu int) []byte {
	s := &c.shards[cpu]
	if n := len(s.free); n > 0 {
		buf := s.free[n-1]
		s.free = s.free[:n-1]
		return buf
	}
	return make([]byte, c.elemSize)
}

// Free returns buf to cpu's shard. The caller must not reuse buf
// afterward, and must not pass a foreign cpu index — cross-shard frees
// would reintroduce the cross-worker contention the design avoids.
func (c *Cache) Free(cpu int, buf []byte) {
	if len(buf) != c.elemSize {
		buf = buf[:c.elemSize]
	}
	c.shards[cpu].free = append(c.shards[cpu].free, buf)
}

// Available reports how many buffers are currently free on cpu's shard.
// Test/diagnostic use only.
func (c *Cache) Available(cpu int) int {
	return len(c.shards[cpu].free)
}
