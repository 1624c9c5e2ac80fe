package field

import (
	"testing"

	"github.com/notargets/gridtensor/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDomain(t *testing.T, n, maxGrid int) *domain.Domain {
	t.Helper()
	d, err := domain.Decompose(2, domain.Cube(2, n), maxGrid, 2, domain.BlockOwnership)
	require.NoError(t, err)
	return d
}

func TestFieldOffsets(t *testing.T) {
	d := testDomain(t, 6, 4) // blocks of 3x3 cells
	require.Equal(t, 4, d.NumBlocks())

	t.Run("CacheLine", func(t *testing.T) {
		f, err := New(d, 3)
		require.NoError(t, err)
		// 27 values per slot, padded to 32 (64 byte lines)
		assert.Equal(t, []int{0, 32, 64, 96, 128}, f.Offsets)
		assert.Len(t, f.Data, 128)
		for b := 0; b < f.NumBlocks(); b++ {
			assert.Len(t, f.Block(b), 27)
			assert.Zero(t, f.Offsets[b]*8%64)
		}
	})

	t.Run("NoAlignment", func(t *testing.T) {
		f, err := NewAligned(d, 3, NoAlignment)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 27, 54, 81, 108}, f.Offsets)
	})
}

func TestFieldAccess(t *testing.T) {
	d := testDomain(t, 8, 4)
	f, err := New(d, 2)
	require.NoError(t, err)

	f.Fill(func(c domain.IntVect, n int) float64 {
		return float64(10*c[0] + c[1] + 100*n)
	})

	v, err := f.Value(domain.IntVect{2, 3, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 123.0, v)

	v, err = f.Value(domain.IntVect{7, 5, 0}, 0)
	require.NoError(t, err)
	assert.Equal(t, 75.0, v)

	b, err := f.FindBlock(domain.IntVect{5, 1, 0})
	require.NoError(t, err)
	f.Set(b, domain.IntVect{5, 1, 0}, 0, -1)
	assert.Equal(t, -1.0, f.At(b, domain.IntVect{5, 1, 0}, 0))

	_, err = f.Value(domain.IntVect{8, 0, 0}, 0)
	assert.Error(t, err)
}

func TestFieldBlocksDoNotAlias(t *testing.T) {
	d := testDomain(t, 8, 4)
	f, err := New(d, 1)
	require.NoError(t, err)
	for b := 0; b < f.NumBlocks(); b++ {
		for i := range f.Block(b) {
			f.Block(b)[i] = float64(b + 1)
		}
	}
	for b := 0; b < f.NumBlocks(); b++ {
		for _, v := range f.Block(b) {
			require.Equal(t, float64(b+1), v)
		}
	}
}

func TestEqual(t *testing.T) {
	d := testDomain(t, 4, 2)
	f, err := New(d, 3)
	require.NoError(t, err)
	f.Fill(func(c domain.IntVect, n int) float64 { return float64(c[0]*4 + c[1] + 16*n) })

	g, err := New(d, 3)
	require.NoError(t, err)
	copy(g.Data, f.Data)
	assert.True(t, f.Equal(g))
	g.Data[0] += 1
	assert.False(t, f.Equal(g))

	narrow, err := New(d, 2)
	require.NoError(t, err)
	assert.False(t, f.Equal(narrow))
}

func TestNewRejectsBadChannels(t *testing.T) {
	_, err := New(testDomain(t, 4, 4), 0)
	assert.Error(t, err)
	_, err = New(nil, 1)
	assert.Error(t, err)
}
