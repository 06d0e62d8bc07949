package vm

import "sort"

// DefaultHeapSize is the default heap arena size: 1 MiB, per spec.md §5.
const DefaultHeapSize = 1 << 20

// FreeBlock is a contiguous, currently unallocated heap region.
type FreeBlock struct {
	Start uint32
	Size  uint32
}

// Heap is a fixed-size byte arena managed by a best-fit free-list allocator
// with coalescing on release (spec.md §4.2).
type Heap struct {
	memory   []byte
	freeList []FreeBlock
}

// NewHeap returns a Heap of the given size with a single free block covering
// the entire arena.
func NewHeap(size uint32) *Heap {
	return &Heap{
		memory:   make([]byte, size),
		freeList: []FreeBlock{{Start: 0, Size: size}},
	}
}

// Size returns the total arena size in bytes.
func (h *Heap) Size() uint32 {
	return uint32(len(h.memory))
}

// FreeList returns the current free-block list, sorted by start address.
// Callers must not mutate the returned slice.
func (h *Heap) FreeList() []FreeBlock {
	return h.freeList
}

// Allocate selects the smallest free block whose size is >= size, ties
// broken by first-seen order, removes it from the free list (keeping any
// remainder in the block's place, so the list stays sorted by start), and
// returns its start address.
func (h *Heap) Allocate(size uint32) (uint32, error) {
	best := -1
	for i, block := range h.freeList {
		if block.Size < size {
			continue
		}
		if best == -1 || block.Size < h.freeList[best].Size {
			best = i
		}
	}
	if best == -1 {
		return 0, ErrOutOfMemory
	}

	block := h.freeList[best]
	if block.Size > size {
		h.freeList[best] = FreeBlock{Start: block.Start + size, Size: block.Size - size}
	} else {
		h.freeList = append(h.freeList[:best], h.freeList[best+1:]...)
	}
	return block.Start, nil
}

// Free releases the block [start, start+size) back to the free list and
// sweeps once to coalesce adjacent free blocks. The caller must supply the
// size that was originally allocated; the heap does not track block sizes
// on its own.
func (h *Heap) Free(start, size uint32) error {
	if uint64(start)+uint64(size) > uint64(len(h.memory)) {
		return ErrInvalidFree
	}
	h.freeList = append(h.freeList, FreeBlock{Start: start, Size: size})
	sort.Slice(h.freeList, func(i, j int) bool { return h.freeList[i].Start < h.freeList[j].Start })

	coalesced := h.freeList[:0]
	for _, block := range h.freeList {
		if n := len(coalesced); n > 0 && coalesced[n-1].Start+coalesced[n-1].Size == block.Start {
			coalesced[n-1].Size += block.Size
			continue
		}
		coalesced = append(coalesced, block)
	}
	h.freeList = coalesced
	return nil
}

// Load returns a bounds-checked copy of size bytes starting at start.
func (h *Heap) Load(start, size uint32) ([]byte, error) {
	if uint64(start)+uint64(size) > uint64(len(h.memory)) {
		return nil, ErrOutOfBoundsLoad
	}
	out := make([]byte, size)
	copy(out, h.memory[start:start+size])
	return out, nil
}

// Store writes data at start. It fails with ErrOutOfBoundsStore if the write
// would exceed the arena, or ErrWriteToFreed if the entire write lands
// inside a free block. Writes that straddle a free/allocated boundary are
// not separately detected.
func (h *Heap) Store(start uint32, data []byte) error {
	size := uint32(len(data))
	if uint64(start)+uint64(size) > uint64(len(h.memory)) {
		return ErrOutOfBoundsStore
	}
	for _, block := range h.freeList {
		if start >= block.Start && start+size <= block.Start+block.Size {
			return ErrWriteToFreed
		}
	}
	copy(h.memory[start:start+size], data)
	return nil
}

// AllocateString allocates |s|+1 bytes, writes s followed by a NUL
// terminator, and returns the start address.
func (h *Heap) AllocateString(s string) (uint32, error) {
	data := append([]byte(s), 0)
	start, err := h.Allocate(uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if err := h.Store(start, data); err != nil {
		return 0, err
	}
	return start, nil
}

// GetString reads a NUL-terminated string starting at start.
func (h *Heap) GetString(start uint32) (string, error) {
	return DecodeCString(h.memory, int(start))
}
