package buddy

import "math/bits"

// SizeToOrder returns the smallest order k such that a block of 2^k bytes
// holds a payload of the given size plus its hidden header, clamped to
// [MinOrder, MaxOrder-1]. A size of 0 degenerates to order 0; callers that
// must reject empty requests do so before calling. Pure function of its
// input and the clamp constants.
func SizeToOrder(size int) int {
	if size <= 0 {
		return 0
	}
	total := size + headerSize
	k := bits.Len(uint(total - 1))
	if k < MinOrder {
		k = MinOrder
	}
	if k >= MaxOrder {
		k = MaxOrder - 1
	}
	return k
}

// buddyOf returns the offset of the buddy of the order-k block at off: the
// unique other block of the same order whose offset differs in exactly bit
// k. Valid because every block of order k starts at a multiple of 2^k.
func buddyOf(off int64, k int) int64 {
	return off ^ int64(1)<<k
}
