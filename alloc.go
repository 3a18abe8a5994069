package buddy

import "unsafe"

// Alloc returns a block of at least size bytes. The returned slice has
// len == size and cap equal to the payload capacity of the block's size
// class. The memory is zeroed by the initial arena acquisition but is not
// re-zeroed between allocations.
func (p *Pool) Alloc(size int) ([]byte, error) {
	if p == nil || p.arenaStart == nil {
		return nil, ErrInvalidPool
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if size+headerSize > p.numBytes {
		return nil, ErrOutOfMemory
	}
	k := SizeToOrder(size)
	if k > p.maxOrder {
		return nil, ErrOutOfMemory
	}

	// First-fit: the first non-empty free list at or above the target
	// order. Any block within one order is interchangeable.
	i := k
	for i <= p.maxOrder && p.empty(i) {
		i++
	}
	if i > p.maxOrder {
		return nil, ErrOutOfMemory
	}

	off := p.avail[i].next
	p.unlink(off)

	// Split down to the target order. The lower half keeps the offset, the
	// upper half becomes an available buddy one order below.
	for i > k {
		i--
		bud := off + int64(1)<<i
		b := p.node(bud)
		b.magic = 0
		b.tag = tagAvail
		b.order = uint8(i)
		p.pushHead(i, bud)
	}

	blk := p.node(off)
	blk.magic = magic
	blk.tag = tagReserved
	blk.order = uint8(k)
	return p.payload(off, k)[:size], nil
}

// Free returns a block to the pool, greedily coalescing it with its buddy
// up the order index. The block must be the slice returned by Alloc or
// Realloc, not a reslice of it. Freeing nil or an empty slice is a no-op.
// Panics on double free, foreign, or misaligned blocks.
func (p *Pool) Free(block []byte) {
	if p == nil || p.arenaStart == nil || cap(block) == 0 {
		return
	}
	dataPtr := *(*uintptr)(unsafe.Pointer(&block))
	p.freeOffset(int64(dataPtr-uintptr(p.arenaStart)) - int64(headerSize))
}

// IsValidOffset reports whether dataOffset could be a handle returned by
// Alloc: in bounds and aligned to the smallest block size. It does not
// inspect allocation state; use it to pre-validate untrusted input before
// FreeAt.
func (p *Pool) IsValidOffset(dataOffset int) bool {
	if p == nil || p.arenaStart == nil {
		return false
	}
	blockOff := dataOffset - headerSize
	if blockOff < 0 || blockOff >= p.numBytes {
		return false
	}
	return blockOff&(1<<MinOrder-1) == 0
}

// FreeAt frees the block whose payload starts at dataOffset, for callers
// that persist arena positions instead of slices. The offset is the
// distance of the payload from the arena base. Same panics as Free.
func (p *Pool) FreeAt(dataOffset int) {
	if p == nil || p.arenaStart == nil {
		return
	}
	p.freeOffset(int64(dataOffset - headerSize))
}

// freeOffset frees the block whose header sits at the given arena offset.
func (p *Pool) freeOffset(off int64) {
	if off < 0 || off >= int64(p.numBytes) {
		panic("buddy: block not in arena")
	}
	if off&(1<<MinOrder-1) != 0 {
		panic("buddy: misaligned block")
	}
	blk := p.node(off)
	if blk.magic != magic || blk.tag != tagReserved {
		panic("buddy: double free or invalid block")
	}
	blk.magic = 0
	blk.tag = tagAvail
	k := int(blk.order)

	// Coalesce with the buddy while possible, adopting the lower offset as
	// the surviving block. Stops at the first buddy that is reserved or
	// still split into smaller blocks, or at the top order.
	for k < p.maxOrder {
		bud := buddyOf(off, k)
		bh := p.node(bud)
		if bh.tag != tagAvail || int(bh.order) != k {
			break
		}
		p.unlink(bud)
		if bud < off {
			off = bud
		}
		k++
		p.node(off).order = uint8(k)
	}
	p.pushHead(k, off)
}

// Realloc resizes a block. A nil block behaves like Alloc(size); a size of
// 0 behaves like Free(block) and returns a nil slice. If the new size still
// fits the block's current size class the same block is returned resliced,
// capacity simply underused. Otherwise a fresh block is allocated, the old
// payload copied, and the old block freed; on allocation failure the old
// block is left intact and the error returned.
func (p *Pool) Realloc(block []byte, size int) ([]byte, error) {
	if p == nil || p.arenaStart == nil {
		return nil, ErrInvalidPool
	}
	if cap(block) == 0 {
		return p.Alloc(size)
	}
	if size == 0 {
		p.Free(block)
		return nil, nil
	}
	if size < 0 {
		return nil, ErrInvalidSize
	}

	dataPtr := *(*uintptr)(unsafe.Pointer(&block))
	off := int64(dataPtr-uintptr(p.arenaStart)) - int64(headerSize)
	if off < 0 || off >= int64(p.numBytes) {
		panic("buddy: block not in arena")
	}
	blk := p.node(off)
	if blk.magic != magic || blk.tag != tagReserved {
		panic("buddy: double free or invalid block")
	}

	k := int(blk.order)
	capBytes := 1<<k - headerSize
	if size <= capBytes {
		return p.payload(off, k)[:size], nil
	}

	fresh, err := p.Alloc(size)
	if err != nil {
		return nil, err
	}
	copy(fresh, p.payload(off, k))
	p.freeOffset(off)
	return fresh, nil
}

// payload fabricates the caller-visible slice for the block at off: the
// bytes immediately after the header, capped at the block's payload
// capacity.
func (p *Pool) payload(off int64, k int) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(p.arenaStart, uintptr(off)+uintptr(headerSize))), 1<<k-headerSize)
}
