package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBase     = uintptr(0x140000000)
	testPageSize = 0x100
)

func TestBufferMap(t *testing.T) {
	b := NewBuffer(testBase, 3*testPageSize, testPageSize)

	require.NoError(t, b.Map(testBase+0x80, []byte{0x90, 0xC3}, ProtRX))

	data, err := b.Read(testBase+0x80, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0xC3}, data)

	regions, err := b.Query(testBase, 2*testPageSize)
	require.NoError(t, err)
	assert.Equal(t, []Region{
		{Start: testBase, End: testBase + testPageSize, Prot: ProtRX},
		{Start: testBase + testPageSize, End: testBase + 2*testPageSize, Prot: ProtRead},
	}, regions)
}

func TestBufferShortRead(t *testing.T) {
	b := NewBuffer(testBase, testPageSize, testPageSize)

	data, err := b.Read(b.End()-4, 15)
	require.NoError(t, err)
	assert.Len(t, data, 4)

	_, err = b.Read(b.End(), 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestBufferStoreFaults(t *testing.T) {
	b := NewBuffer(testBase, 2*testPageSize, testPageSize)

	err := b.store(testBase+0x10, []byte{1})
	assert.ErrorIs(t, err, ErrFault)

	require.NoError(t, b.Protect(testBase+0x10, 1, ProtRW))
	assert.NoError(t, b.store(testBase+0x10, []byte{1}))

	// crosses into the second, read-only page
	err = b.store(testBase+testPageSize-1, []byte{1, 2})
	assert.ErrorIs(t, err, ErrFault)
}

func TestBufferQueryCoalesces(t *testing.T) {
	b := NewBuffer(testBase, 4*testPageSize, testPageSize)
	require.NoError(t, b.Protect(testBase+testPageSize, 2*testPageSize, ProtRWX))

	regions, err := b.Query(testBase+0x10, 3*testPageSize)
	require.NoError(t, err)
	assert.Equal(t, []Region{
		{Start: testBase + 0x10, End: testBase + testPageSize, Prot: ProtRead},
		{Start: testBase + testPageSize, End: testBase + 3*testPageSize, Prot: ProtRWX},
		{Start: testBase + 3*testPageSize, End: testBase + 3*testPageSize + 0x10, Prot: ProtRead},
	}, regions)
}

func TestBufferOutOfRange(t *testing.T) {
	b := NewBuffer(testBase, testPageSize, testPageSize)

	assert.ErrorIs(t, b.Protect(testBase-1, 2, ProtRWX), ErrOutOfRange)
	_, err := b.Query(b.End()-1, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestNewBufferPanics(t *testing.T) {
	assert.Panics(t, func() { NewBuffer(testBase+1, testPageSize, testPageSize) })
	assert.Panics(t, func() { NewBuffer(testBase, testPageSize, 100) })
}

func TestProtString(t *testing.T) {
	assert.Equal(t, "r-x", ProtRX.String())
	assert.Equal(t, "rwx", ProtRWX.String())
	assert.Equal(t, "---", ProtNone.String())
}
