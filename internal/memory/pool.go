// Package memory implements the block-pool allocator: fixed-size packet
// buffers served without per-packet heap traffic, plus the utilisation and
// pressure reporting the scheduler and sources watch.
package memory

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"pktcore/internal/events"
	"pktcore/internal/flog"
)

// PressureThreshold is the utilisation fraction past which a pool emits a
// memoryPressure event on the upward crossing.
const PressureThreshold = 0.80

// Block is a fixed-size, pool-owned byte region. It is exclusively owned by
// the caller between Acquire and Release; writing past len(Bytes()) is a
// caller bug, not a pool concern.
type Block struct {
	pool  *BlockPool
	index int
	bytes []byte
}

// Bytes returns the block's backing storage. The returned slice is valid
// only until the block is released.
func (b *Block) Bytes() []byte { return b.bytes }

// Pool returns the pool that owns this block, or nil if it has already
// been released.
func (b *Block) Pool() *BlockPool { return b.pool }

// PressureEvent reports a pool crossing PressureThreshold on an acquire.
type PressureEvent struct {
	Pool        string
	Used        int
	Capacity    int
	Utilisation float64
}

// AllocationFailedEvent reports a pool transitioning from available to
// fully exhausted. It fires once per transition, not once per failed
// acquire while exhausted.
type AllocationFailedEvent struct {
	Pool     string
	Capacity int
}

// BlockPool serves block_count fixed-size blocks out of one contiguous
// slab. The free list is an index stack over that slab rather than
// pointers threaded through block storage — Go's GC makes raw intra-slab
// pointer arithmetic unsafe, and an index stack keeps the same O(1)
// acquire/release with no per-block heap traffic.
type BlockPool struct {
	name      string
	blockSize int
	capacity  int

	slab []byte

	mu        sync.Mutex
	free      []int32 // index stack; free[len-1] is the next block to hand out
	inUse     []bool  // indexed by block index, for O(1) double-release detection
	used      int32
	exhausted bool

	usedCount atomic.Int64 // relaxed-read mirror of used, for lock-free Utilisation()

	AllocationFailed *events.Emitter[AllocationFailedEvent]
	MemoryPressure    *events.Emitter[PressureEvent]
}

// NewBlockPool creates a pool of capacity blocks of blockSize bytes each.
// blockSize must be at least headerSize (the caller's fixed packet header)
// so every block can hold at least one header.
func NewBlockPool(name string, blockSize, capacity, headerSize int) (*BlockPool, error) {
	if blockSize < headerSize {
		return nil, fmt.Errorf("block pool %q: block_size %d must be >= header size %d", name, blockSize, headerSize)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("block pool %q: block_count must be > 0, got %d", name, capacity)
	}

	p := &BlockPool{
		name:              name,
		blockSize:         blockSize,
		capacity:          capacity,
		slab:              make([]byte, blockSize*capacity),
		free:              make([]int32, capacity),
		inUse:             make([]bool, capacity),
		AllocationFailed:  events.NewEmitter[AllocationFailedEvent](16),
		MemoryPressure:    events.NewEmitter[PressureEvent](16),
	}
	for i := 0; i < capacity; i++ {
		p.free[i] = int32(i)
	}
	return p, nil
}

// Name returns the pool's registry key.
func (p *BlockPool) Name() string { return p.name }

// Capacity returns block_count.
func (p *BlockPool) Capacity() int { return p.capacity }

// Used returns the current number of outstanding blocks.
func (p *BlockPool) Used() int { return int(p.usedCount.Load()) }

// Utilisation returns used/capacity, a relaxed read safe to call from any
// goroutine without taking the pool lock.
func (p *BlockPool) Utilisation() float64 {
	return float64(p.usedCount.Load()) / float64(p.capacity)
}

// Acquire returns a zeroed block, or ok=false if the pool is exhausted.
func (p *BlockPool) Acquire() (*Block, bool) {
	p.mu.Lock()
	if len(p.free) == 0 {
		wasExhausted := p.exhausted
		p.exhausted = true
		p.mu.Unlock()
		if !wasExhausted {
			p.AllocationFailed.Emit(AllocationFailedEvent{Pool: p.name, Capacity: p.capacity})
		}
		return nil, false
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[idx] = true
	p.used++
	used := p.used
	p.mu.Unlock()

	p.usedCount.Store(int64(used))

	off := int(idx) * p.blockSize
	region := p.slab[off : off+p.blockSize]
	for i := range region {
		region[i] = 0
	}

	util := float64(used) / float64(p.capacity)
	if util >= PressureThreshold && float64(used-1)/float64(p.capacity) < PressureThreshold {
		p.MemoryPressure.Emit(PressureEvent{Pool: p.name, Used: int(used), Capacity: p.capacity, Utilisation: util})
	}

	return &Block{pool: p, index: int(idx), bytes: region}, true
}

// Validate reports whether ptr's backing storage lies inside this pool's
// slab and starts on a block boundary. It is a pure predicate: it never
// mutates pool state and does not care whether the block is currently
// acquired or free, only whether ptr could possibly be one of this pool's
// blocks. A Block's own Bytes() always passes; a slice into the middle of
// a block, a foreign slice, or an empty slice do not.
func (p *BlockPool) Validate(ptr []byte) bool {
	if len(ptr) == 0 || len(p.slab) == 0 {
		return false
	}

	slabStart := uintptr(unsafe.Pointer(&p.slab[0]))
	slabEnd := slabStart + uintptr(len(p.slab))
	ptrStart := uintptr(unsafe.Pointer(&ptr[0]))

	if ptrStart < slabStart || ptrStart >= slabEnd {
		return false
	}

	offset := ptrStart - slabStart
	return offset%uintptr(p.blockSize) == 0 && offset+uintptr(len(ptr)) <= uintptr(len(p.slab))
}

// Release returns block to the free list. A block not produced by this
// pool, or already released, is logged and dropped — the free list is
// never corrupted by a caller bug.
func (p *BlockPool) Release(block *Block) {
	if block == nil || block.pool != p {
		flog.WarnThrottled("memory.release.foreign", "block pool %s: release of a block not owned by this pool, dropping", p.name)
		return
	}

	p.mu.Lock()
	if !p.inUse[block.index] {
		p.mu.Unlock()
		flog.WarnThrottled("memory.release.double", "block pool %s: double release of block %d, dropping", p.name, block.index)
		return
	}
	p.inUse[block.index] = false
	p.free = append(p.free, int32(block.index))
	p.used--
	p.exhausted = false
	used := p.used
	p.mu.Unlock()

	p.usedCount.Store(int64(used))
	block.pool = nil
}

// Reset re-initialises the free list. Any outstanding block handle becomes
// invalid. Warns instead of failing if blocks are still outstanding.
func (p *BlockPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.used > 0 {
		flog.Warnf("block pool %s: reset with %d blocks still outstanding", p.name, p.used)
	}

	p.free = p.free[:0]
	for i := 0; i < p.capacity; i++ {
		p.free = append(p.free, int32(i))
		p.inUse[i] = false
	}
	p.used = 0
	p.exhausted = false
	p.usedCount.Store(0)
}

// Close destroys the pool. Per spec, destruction with outstanding blocks
// is a warning, not undefined behaviour: Close only logs how many blocks
// are still outstanding and leaves the slab and free list untouched. A
// *Block held past Close still refers to the slab, which the garbage
// collector keeps alive for as long as any block references it.
func (p *BlockPool) Close() {
	p.mu.Lock()
	used := p.used
	p.mu.Unlock()

	if used > 0 {
		flog.Warnf("block pool %s: destroyed with %d blocks still outstanding", p.name, used)
	}
}
