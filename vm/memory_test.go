package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryPushPopRoundTrip(t *testing.T) {
	m := NewMemory(64, 64)
	require.NoError(t, m.Push(EncodeSigned(42)))
	require.Equal(t, uint32(4), m.SP())

	got, err := m.Pop(4)
	require.NoError(t, err)
	v, err := DecodeSigned(got, 0)
	require.NoError(t, err)
	require.Equal(t, int32(42), v)
	require.Equal(t, uint32(0), m.SP())
}

func TestMemoryPopUnderflow(t *testing.T) {
	m := NewMemory(64, 64)
	_, err := m.Pop(4)
	require.ErrorIs(t, err, ErrStackUnderflow)
}

func TestMemoryPushStackOverflow(t *testing.T) {
	m := NewMemory(4, 64)
	require.NoError(t, m.Push(EncodeSigned(1)))
	err := m.Push(EncodeSigned(2))
	require.ErrorIs(t, err, ErrStackOverflow)
}

func TestMemoryIsHeapAddress(t *testing.T) {
	m := NewMemory(16, 64)
	require.False(t, m.IsHeapAddress(15))
	require.True(t, m.IsHeapAddress(16))
}

func TestMemoryAllocateHeapTranslatesAddress(t *testing.T) {
	m := NewMemory(16, 64)
	addr, err := m.AllocateHeap(8)
	require.NoError(t, err)
	require.Equal(t, uint32(16), addr)
	require.True(t, m.IsHeapAddress(addr))
}

func TestMemoryStoreLoadAcrossHeapBoundary(t *testing.T) {
	m := NewMemory(16, 64)
	addr, err := m.AllocateHeap(4)
	require.NoError(t, err)

	require.NoError(t, m.Store(addr, EncodeSigned(99)))
	data, err := m.Load(addr, 4)
	require.NoError(t, err)
	v, err := DecodeSigned(data, 0)
	require.NoError(t, err)
	require.Equal(t, int32(99), v)
}

func TestMemoryFreeHeapRejectsStackAddress(t *testing.T) {
	m := NewMemory(16, 64)
	err := m.FreeHeap(4, 4)
	require.ErrorIs(t, err, ErrInvalidFree)
}

func TestMemoryMoveStackPointerBounds(t *testing.T) {
	m := NewMemory(8, 64)
	require.ErrorIs(t, m.MoveStackPointerTo(-1), ErrStackUnderflow)
	require.ErrorIs(t, m.MoveStackPointerTo(9), ErrStackOverflow)
	require.NoError(t, m.MoveStackPointerTo(8))
	require.Equal(t, uint32(8), m.SP())
}

func TestMemoryGetStringFromStack(t *testing.T) {
	m := NewMemory(64, 64)
	require.NoError(t, m.PushString("abc"))
	s, err := m.GetString(0)
	require.NoError(t, err)
	require.Equal(t, "abc", s)
}
