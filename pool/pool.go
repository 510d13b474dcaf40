// Package pool implements the bounded, no-heap-growth memory pool that
// spec.md section 3 names as the root owner of every buffer in the stack:
// "Every component receives it by non-owning reference." No third-party
// library in the example corpus offers a fixed-capacity, bounded allocator
// with this contract; the closest idiom in the corpus is a sync.Pool of
// reusable buffers (see e.g. the pack's standalone rudp message codec),
// which this package specialises into size-classed, capacity-capped slabs
// so a caller can reason about worst-case memory use the way an embedded
// Cyphal stack must.
package pool

import (
	"sync"

	"github.com/OpenCyphal/libuavcan/types"
)

// Pool hands out and reclaims fixed-size byte buffers without ever growing
// beyond the capacity it was constructed with.
type Pool interface {
	// Acquire returns a buffer of at least size bytes, or ErrOutOfMemory if
	// the pool's capacity is exhausted.
	Acquire(size int) ([]byte, error)
	// Release returns a buffer previously obtained from Acquire. Releasing
	// a buffer not obtained from this pool is a programming error.
	Release(buf []byte)
	// Stats reports current utilisation, for the monitoring package.
	Stats() Stats
}

// Stats is a snapshot of pool utilisation.
type Stats struct {
	Capacity  int
	InUse     int
	Allocs    uint64
	Exhausted uint64
}

// Fixed is a pool of equally sized blocks; callers that need fewer bytes
// than the block size simply use a prefix of the returned slice.
type Fixed struct {
	blockSize int
	capacity  int

	mu        sync.Mutex
	free      [][]byte
	inUse     int
	allocs    uint64
	exhausted uint64
}

// NewFixed creates a pool of `capacity` blocks of `blockSize` bytes each,
// all allocated up front — the only allocation this pool ever performs.
func NewFixed(blockSize, capacity int) *Fixed {
	p := &Fixed{
		blockSize: blockSize,
		capacity:  capacity,
		free:      make([][]byte, 0, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, make([]byte, blockSize))
	}
	return p
}

// Acquire returns a block. It returns ErrArgument if size exceeds the block
// size, and ErrOutOfMemory if the pool has no free blocks left.
func (p *Fixed) Acquire(size int) ([]byte, error) {
	if size > p.blockSize {
		return nil, types.Wrap(types.ErrArgument, errBlockTooSmall)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		p.exhausted++
		return nil, types.NewError(types.ErrOutOfMemory)
	}

	buf := p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse++
	p.allocs++

	return buf[:size], nil
}

// Release returns buf to the free list, restoring it to full block size.
func (p *Fixed) Release(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.free = append(p.free, buf[:cap(buf)])
	p.inUse--
}

// Stats reports current utilisation.
func (p *Fixed) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Capacity:  p.capacity,
		InUse:     p.inUse,
		Allocs:    p.allocs,
		Exhausted: p.exhausted,
	}
}

var errBlockTooSmall = errBlockTooSmallType{}

type errBlockTooSmallType struct{}

func (errBlockTooSmallType) Error() string { return "pool: requested size exceeds block size" }
