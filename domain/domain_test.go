package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxChop(t *testing.T) {
	t.Run("EvenSplit", func(t *testing.T) {
		b := NewBox(IntVect{0, 0, 0}, IntVect{127, 127, 0})
		pieces := b.Chop(32)
		require.Len(t, pieces, 16)
		for _, p := range pieces {
			assert.Equal(t, IntVect{32, 32, 1}, p.Size())
		}
	})

	t.Run("RemainderGoesFirst", func(t *testing.T) {
		b := NewBox(IntVect{0, 0, 0}, IntVect{9, 0, 0})
		pieces := b.Chop(4)
		require.Len(t, pieces, 3)
		assert.Equal(t, 4, pieces[0].NumCells())
		assert.Equal(t, 3, pieces[1].NumCells())
		assert.Equal(t, 3, pieces[2].NumCells())
		assert.Equal(t, 0, pieces[0].Lo[0])
		assert.Equal(t, 9, pieces[2].Hi[0])
	})

	t.Run("NoChopWhenSmall", func(t *testing.T) {
		b := NewBox(IntVect{2, 3, 4}, IntVect{5, 6, 7})
		pieces := b.Chop(16)
		require.Len(t, pieces, 1)
		assert.Equal(t, b, pieces[0])
	})
}

func TestBoxPredicates(t *testing.T) {
	a := NewBox(IntVect{0, 0, 0}, IntVect{3, 3, 0})
	b := NewBox(IntVect{3, 3, 0}, IntVect{5, 5, 0})
	c := NewBox(IntVect{4, 0, 0}, IntVect{5, 2, 0})

	assert.True(t, a.Intersects(b))
	assert.False(t, a.Intersects(c))
	assert.True(t, a.Contains(IntVect{3, 0, 0}))
	assert.False(t, a.Contains(IntVect{4, 0, 0}))
	assert.False(t, a.IsEmpty())
	assert.True(t, NewBox(IntVect{1, 0, 0}, IntVect{0, 0, 0}).IsEmpty())
}

func TestDecompose(t *testing.T) {
	tests := []struct {
		name       string
		dims       int
		n          int
		maxGrid    int
		workers    int
		wantBlocks int
		wantWork   int
	}{
		{"2D single block", 2, 4, 32, 4, 1, 1},
		{"2D 128 by 32", 2, 128, 32, 4, 16, 4},
		{"2D 128 by 16", 2, 128, 16, 3, 64, 3},
		{"3D 16 by 8", 3, 16, 8, 2, 8, 2},
		{"3D uneven", 3, 10, 4, 5, 27, 5},
	}
	for _, tt := range tests {
		for _, strategy := range []OwnershipStrategy{BlockOwnership, RoundRobin, SpaceFillingCurve} {
			t.Run(tt.name+"/"+strategy.String(), func(t *testing.T) {
				d, err := Decompose(tt.dims, Cube(tt.dims, tt.n), tt.maxGrid, tt.workers, strategy)
				require.NoError(t, err)
				assert.Equal(t, tt.wantBlocks, d.NumBlocks())
				assert.Equal(t, tt.wantWork, d.NumWorkers)
				require.NoError(t, d.Validate())

				owned := 0
				for w := 0; w < d.NumWorkers; w++ {
					owned += len(d.OwnedBy(w))
				}
				assert.Equal(t, d.NumBlocks(), owned)
			})
		}
	}
}

func TestDecomposeRejectsBadInput(t *testing.T) {
	_, err := Decompose(2, Cube(2, 8), 0, 1, BlockOwnership)
	assert.Error(t, err)

	_, err = Decompose(4, Cube(3, 8), 4, 1, BlockOwnership)
	assert.Error(t, err)

	_, err = Decompose(2, IntVect{0, 8, 1}, 4, 1, BlockOwnership)
	assert.Error(t, err)
}

func TestValidateDetectsBadCover(t *testing.T) {
	n := IntVect{4, 4, 1}

	t.Run("Overlap", func(t *testing.T) {
		blocks := []Box{
			NewBox(IntVect{0, 0, 0}, IntVect{2, 3, 0}),
			NewBox(IntVect{2, 0, 0}, IntVect{3, 1, 0}),
		}
		// Same cell total as the domain, but overlapping on x == 2
		_, err := New(2, n, blocks, []int{0, 0}, 1)
		assert.Error(t, err)
	})

	t.Run("Gap", func(t *testing.T) {
		blocks := []Box{NewBox(IntVect{0, 0, 0}, IntVect{1, 3, 0})}
		_, err := New(2, n, blocks, []int{0}, 1)
		assert.Error(t, err)
	})

	t.Run("Outside", func(t *testing.T) {
		blocks := []Box{NewBox(IntVect{0, 0, 0}, IntVect{4, 3, 0})}
		_, err := New(2, n, blocks, []int{0}, 1)
		assert.Error(t, err)
	})

	t.Run("BadOwner", func(t *testing.T) {
		blocks := []Box{NewBox(IntVect{0, 0, 0}, IntVect{3, 3, 0})}
		_, err := New(2, n, blocks, []int{1}, 1)
		assert.Error(t, err)
	})

	t.Run("Valid", func(t *testing.T) {
		blocks := []Box{
			NewBox(IntVect{0, 0, 0}, IntVect{1, 3, 0}),
			NewBox(IntVect{2, 0, 0}, IntVect{3, 3, 0}),
		}
		d, err := New(2, n, blocks, []int{0, 1}, 2)
		require.NoError(t, err)
		assert.Equal(t, 16, d.TotalCells())
		assert.Equal(t, []int{1}, d.OwnedBy(1))
	})
}

func TestMortonOwnershipIsContiguous(t *testing.T) {
	d, err := Decompose(2, Cube(2, 64), 16, 4, SpaceFillingCurve)
	require.NoError(t, err)
	// 16 blocks in a 4x4 layout; Morton runs of 4 are 2x2 quadrants
	for w := 0; w < 4; w++ {
		ids := d.OwnedBy(w)
		require.Len(t, ids, 4)
		lo, hi := d.Blocks[ids[0]].Lo, d.Blocks[ids[0]].Hi
		for _, id := range ids[1:] {
			b := d.Blocks[id]
			for ax := 0; ax < 2; ax++ {
				lo[ax] = min(lo[ax], b.Lo[ax])
				hi[ax] = max(hi[ax], b.Hi[ax])
			}
		}
		assert.Equal(t, 32*32, (hi[0]-lo[0]+1)*(hi[1]-lo[1]+1), "worker %d region", w)
	}
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]OwnershipStrategy{
		"":           BlockOwnership,
		"block":      BlockOwnership,
		"RoundRobin": RoundRobin,
		"morton":     SpaceFillingCurve,
	} {
		got, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStrategy("metis")
	assert.Error(t, err)
}
