package codecave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrdl/cavehook/mem"
)

const (
	base     = uintptr(0x142BEC000)
	pageSize = 0x100
)

func newAllocator(t *testing.T, size int) (*Allocator, *mem.Buffer) {
	t.Helper()
	buf := mem.NewBuffer(base, 0x1000, pageSize)
	a, err := New(buf, Region{Base: base + 0x100, End: base + 0x100 + uintptr(size)})
	require.NoError(t, err)
	return a, buf
}

func TestAllocateSequential(t *testing.T) {
	a, _ := newAllocator(t, 0x80)

	first, err := a.Allocate(0x10)
	require.NoError(t, err)
	second, err := a.Allocate(0x20)
	require.NoError(t, err)

	assert.Equal(t, base+0x100, first)
	assert.Equal(t, first+0x10, second)
	assert.Equal(t, second+0x20, a.Next())
	assert.Equal(t, 0x80-0x30, a.Remaining())
}

func TestAllocateMakesExecutable(t *testing.T) {
	a, buf := newAllocator(t, 0x80)

	addr, err := a.Allocate(0x10)
	require.NoError(t, err)

	regions, err := buf.Query(addr, 0x10)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, mem.ProtRWX, regions[0].Prot)
}

func TestAllocateExhausted(t *testing.T) {
	a, _ := newAllocator(t, 0x20)

	_, err := a.Allocate(0x18)
	require.NoError(t, err)

	_, err = a.Allocate(0x9)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, base+0x118, a.Next(), "cursor must not move on failure")

	// exactly up to the end is fine
	addr, err := a.Allocate(0x8)
	require.NoError(t, err)
	assert.Equal(t, base+0x118, addr)
	assert.Zero(t, a.Remaining())

	_, err = a.Allocate(1)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestAllocateInvalidSize(t *testing.T) {
	a, _ := newAllocator(t, 0x20)

	_, err := a.Allocate(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = a.Allocate(-1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestInvalidRegion(t *testing.T) {
	_, err := New(mem.NewBuffer(base, pageSize, pageSize), Region{Base: base, End: base})
	assert.ErrorIs(t, err, ErrInvalidRegion)
}

func TestDefaultRegion(t *testing.T) {
	assert.NoError(t, DefaultRegion.Validate())
	assert.Equal(t, 0xFB5, DefaultRegion.Size())
}
