// Package buddy implements a fixed-capacity binary buddy allocator over a
// single contiguous arena acquired once from the operating system.
//
// Blocks are powers of two. A request is rounded up to the smallest order
// that holds the payload plus a hidden 24-byte header; allocation splits a
// larger free block down to that order, and freeing greedily merges the
// block with its buddy back up the order index. Free blocks of each order
// form a circular doubly-linked list threaded through the arena itself,
// anchored by a per-order sentinel held in the Pool.
//
// A Pool is not safe for concurrent use. Callers that need concurrent
// access must serialize every call externally (one pool per goroutine, or
// a single mutex around the whole pool).
package buddy

import (
	"errors"
	"fmt"
	"math/bits"
	"unsafe"
)

const (
	// headerSize is the size of the hidden header at the start of every block.
	headerSize = int(unsafe.Sizeof(header{}))

	// magic is the magic number checked to detect double-free/invalid blocks.
	magic uint32 = 0xBADF00D

	// MinOrder is the smallest order a block may occupy: 2^MinOrder bytes is
	// the smallest block that holds its own header plus some payload.
	MinOrder = 5

	// MaxOrder bounds the order index. SizeToOrder never returns a value
	// >= MaxOrder, and NewPool never builds a pool larger than 2^(MaxOrder-1).
	MaxOrder = 48

	// DefaultOrder is the pool order selected when NewPool is given size 0.
	DefaultOrder = 20
)

// Block tags stored in the header. tagUnused marks sentinel nodes only.
const (
	tagUnused uint8 = iota
	tagAvail
	tagReserved
)

var (
	// ErrInvalidPool is reported when the pool is nil, closed, or never
	// initialized successfully.
	ErrInvalidPool = errors.New("buddy: invalid pool")

	// ErrInvalidSize is reported for zero or negative allocation sizes.
	ErrInvalidSize = errors.New("buddy: invalid size")

	// ErrOutOfMemory is reported when no free block of sufficient order
	// exists anywhere in the pool.
	ErrOutOfMemory = errors.New("buddy: out of memory")
)

// header sits at the start of every block in the arena. next and prev form
// the circular free list of the block's order and are meaningful only for
// sentinel and available blocks. Links are signed references: a value >= 0
// is a byte offset into the arena, the negative value ^int64(k) names the
// sentinel of order k, which lives in the Pool rather than the arena.
type header struct {
	magic uint32
	tag   uint8
	order uint8
	_     [2]byte
	next  int64
	prev  int64
}

// Pool is a fixed-capacity buddy allocator over one contiguous arena.
// The zero value is unusable; construct with NewPool.
type Pool struct {
	// arena is the backing memory, 2^maxOrder bytes.
	arena []byte

	// arenaStart is a cached pointer to the start of the arena, used for
	// offset calculations. nil marks a closed or failed pool.
	arenaStart unsafe.Pointer

	numBytes int
	maxOrder int

	// avail anchors one circular free list per order, 0..maxOrder.
	avail []header

	// mapped is set when the arena came from the OS rather than the Go heap.
	mapped bool
}

// NewPool creates a pool backed by 2^k bytes of zeroed page-aligned memory,
// where 2^k is the requested size rounded up to the next power of two and
// clamped to [MinOrder, MaxOrder-1]. A size of 0 selects DefaultOrder.
// Arena acquisition failure is returned as an error; the pool is not
// half-initialized.
func NewPool(size int) (*Pool, error) {
	if size < 0 {
		return nil, fmt.Errorf("buddy: pool size must be >= 0, got %d", size)
	}
	k := DefaultOrder
	if size > 0 {
		k = bits.Len(uint(size - 1))
		if k < MinOrder {
			k = MinOrder
		}
		if k >= MaxOrder {
			k = MaxOrder - 1
		}
	}
	numBytes := 1 << k

	arena, mapped, err := arenaAlloc(numBytes)
	if err != nil {
		return nil, fmt.Errorf("buddy: arena acquisition failed: %w", err)
	}

	p := &Pool{
		arena:      arena,
		arenaStart: unsafe.Pointer(&arena[0]),
		numBytes:   numBytes,
		maxOrder:   k,
		avail:      make([]header, k+1),
		mapped:     mapped,
	}
	p.Reset()
	return p, nil
}

// Close releases the backing arena to the operating system and invalidates
// the pool. Every later operation reports ErrInvalidPool. Closing an
// already-closed pool is a no-op.
func (p *Pool) Close() error {
	if p == nil || p.arenaStart == nil {
		return nil
	}
	var err error
	if p.mapped {
		err = arenaFree(p.arena)
	}
	p.arena = nil
	p.arenaStart = nil
	return err
}

// Reset discards every allocation and restores the pool to its initial
// state: empty free lists at every order except a single available block of
// order maxOrder spanning the whole arena.
func (p *Pool) Reset() {
	if p == nil || p.arenaStart == nil {
		return
	}
	for i := range p.avail {
		s := &p.avail[i]
		s.magic = 0
		s.tag = tagUnused
		s.order = uint8(i)
		s.next = sentinelRef(i)
		s.prev = sentinelRef(i)
	}
	top := p.node(0)
	top.magic = 0
	top.tag = tagAvail
	top.order = uint8(p.maxOrder)
	p.pushHead(p.maxOrder, 0)
}

// Size returns the total arena size in bytes (2^maxOrder).
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return p.numBytes
}

// MaxOrder returns the order of the whole arena.
func (p *Pool) MaxOrder() int {
	if p == nil {
		return 0
	}
	return p.maxOrder
}

// Available returns the total free payload bytes, summed across every
// order's free list.
func (p *Pool) Available() int {
	if p == nil || p.arenaStart == nil {
		return 0
	}
	total := 0
	for k := range p.avail {
		for ref := p.avail[k].next; ref >= 0; ref = p.node(ref).next {
			total += (1 << k) - headerSize
		}
	}
	return total
}

func sentinelRef(order int) int64 { return ^int64(order) }

// node resolves a link reference to its header, either inside the arena or
// one of the pool's sentinels.
func (p *Pool) node(ref int64) *header {
	if ref < 0 {
		return &p.avail[^ref]
	}
	return (*header)(unsafe.Add(p.arenaStart, uintptr(ref)))
}

// pushHead inserts the block at the given offset at the head of order k's
// free list.
func (p *Pool) pushHead(k int, off int64) {
	s := &p.avail[k]
	b := p.node(off)
	b.next = s.next
	b.prev = sentinelRef(k)
	p.node(s.next).prev = off
	s.next = off
}

// unlink splices a block out of its free list.
func (p *Pool) unlink(ref int64) {
	b := p.node(ref)
	p.node(b.prev).next = b.next
	p.node(b.next).prev = b.prev
}

// empty reports whether order k's free list holds no blocks.
func (p *Pool) empty(k int) bool {
	return p.avail[k].next == sentinelRef(k)
}
