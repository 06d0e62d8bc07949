package vm

import "fmt"

// DefaultStackSize is the default stack capacity in bytes (spec.md §5).
const DefaultStackSize = 8192

// Memory is the logical flat address space [0, stackSize+heapSize) unifying
// a fixed-size stack with the Heap (spec.md §4.3). Addresses < stackSize
// address the stack; addresses >= stackSize address the heap, translated by
// subtracting stackSize.
type Memory struct {
	Heap *Heap

	stack []byte
	sp    uint32
}

// NewMemory constructs a Memory with the given stack and heap capacities.
func NewMemory(stackSize, heapSize uint32) *Memory {
	return &Memory{
		Heap:  NewHeap(heapSize),
		stack: make([]byte, stackSize),
		sp:    0,
	}
}

// StackSize returns the stack region's capacity.
func (m *Memory) StackSize() uint32 {
	return uint32(len(m.stack))
}

// SP returns the current stack pointer: the index of the first unused byte.
func (m *Memory) SP() uint32 {
	return m.sp
}

// IsHeapAddress reports whether addr refers to the heap region.
func (m *Memory) IsHeapAddress(addr uint32) bool {
	return addr >= m.StackSize()
}

func (m *Memory) heapOffset(addr uint32) uint32 {
	return addr - m.StackSize()
}

// Load reads size bytes at the logical address addr, translating to the
// heap if necessary.
func (m *Memory) Load(addr, size uint32) ([]byte, error) {
	if m.IsHeapAddress(addr) {
		return m.Heap.Load(m.heapOffset(addr), size)
	}
	return m.stackLoad(addr, size)
}

func (m *Memory) stackLoad(addr, size uint32) ([]byte, error) {
	if uint64(addr)+uint64(size) > uint64(len(m.stack)) {
		return nil, ErrOutOfBoundsLoad
	}
	out := make([]byte, size)
	copy(out, m.stack[addr:addr+size])
	return out, nil
}

// Store writes value at the logical address addr, translating to the heap
// if necessary.
func (m *Memory) Store(addr uint32, value []byte) error {
	if m.IsHeapAddress(addr) {
		return m.Heap.Store(m.heapOffset(addr), value)
	}
	return m.stackStore(addr, value)
}

func (m *Memory) stackStore(addr uint32, value []byte) error {
	if uint64(addr)+uint64(len(value)) > uint64(len(m.stack)) {
		return ErrStackOverflow
	}
	copy(m.stack[addr:addr+uint32(len(value))], value)
	return nil
}

// AllocateHeap allocates size bytes on the heap and returns the translated
// logical address (heap offset + stack size).
func (m *Memory) AllocateHeap(size uint32) (uint32, error) {
	offset, err := m.Heap.Allocate(size)
	if err != nil {
		return 0, err
	}
	return offset + m.StackSize(), nil
}

// FreeHeap releases a block addressed in the logical address space.
func (m *Memory) FreeHeap(addr, size uint32) error {
	if !m.IsHeapAddress(addr) {
		return ErrInvalidFree
	}
	return m.Heap.Free(m.heapOffset(addr), size)
}

// MoveStackPointerBy advances SP by a signed delta. It fails if the result
// would fall outside [0, stackSize].
func (m *Memory) MoveStackPointerBy(delta int64) error {
	return m.MoveStackPointerTo(int64(m.sp) + delta)
}

// MoveStackPointerTo resets SP to an absolute address. Overflow past
// stackSize, or below zero, is fatal per spec.md §4.3.
func (m *Memory) MoveStackPointerTo(addr int64) error {
	if addr < 0 {
		return ErrStackUnderflow
	}
	if addr > int64(len(m.stack)) {
		return ErrStackOverflow
	}
	m.sp = uint32(addr)
	return nil
}

// Push writes bytes at SP and advances SP by len(bytes).
func (m *Memory) Push(bytes []byte) error {
	if uint64(m.sp)+uint64(len(bytes)) > uint64(len(m.stack)) {
		return ErrStackOverflow
	}
	copy(m.stack[m.sp:], bytes)
	m.sp += uint32(len(bytes))
	return nil
}

// PushString pushes each byte of s followed by a terminating NUL.
func (m *Memory) PushString(s string) error {
	if err := m.Push([]byte(s)); err != nil {
		return err
	}
	return m.Push([]byte{0})
}

// Pop decrements SP by n and returns the n bytes starting at the new SP.
func (m *Memory) Pop(n uint32) ([]byte, error) {
	if n > m.sp {
		return nil, ErrStackUnderflow
	}
	m.sp -= n
	out := make([]byte, n)
	copy(out, m.stack[m.sp:m.sp+n])
	return out, nil
}

// Peek returns the top n bytes without moving SP.
func (m *Memory) Peek(n uint32) ([]byte, error) {
	if n > m.sp {
		return nil, ErrStackUnderflow
	}
	out := make([]byte, n)
	copy(out, m.stack[m.sp-n:m.sp])
	return out, nil
}

// PeekDown returns the n bytes ending offset bytes below SP, without moving
// SP.
func (m *Memory) PeekDown(offset, n uint32) ([]byte, error) {
	if offset+n > m.sp {
		return nil, ErrStackUnderflow
	}
	start := m.sp - offset - n
	out := make([]byte, n)
	copy(out, m.stack[start:start+n])
	return out, nil
}

// GetString reads bytes from the logical address addr until a NUL byte.
func (m *Memory) GetString(addr uint32) (string, error) {
	if m.IsHeapAddress(addr) {
		return m.Heap.GetString(m.heapOffset(addr))
	}
	return DecodeCString(m.stack, int(addr))
}

// StackFrame renders the live region of the stack as a human-readable dump,
// highlighting the stack pointer. Used by Evaluator.State for the debugger's
// state dump.
func (m *Memory) StackFrame() string {
	var b []byte
	limit := m.sp + 10
	if limit > uint32(len(m.stack)) {
		limit = uint32(len(m.stack))
	}
	for i := uint32(0); i < limit; i++ {
		marker := ""
		if i == m.sp {
			marker = " <--- stack pointer"
		}
		b = append(b, []byte(fmt.Sprintf("0x%04x: 0x%02x%s\n", i, m.stack[i], marker))...)
	}
	return string(b)
}
