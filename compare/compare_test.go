package compare

import (
	"math"
	"testing"

	"github.com/notargets/gridtensor/domain"
	"github.com/notargets/gridtensor/field"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields(t *testing.T) {
	d, err := domain.Decompose(2, domain.IntVect{4, 4, 1}, 2, 2, domain.BlockOwnership)
	require.NoError(t, err)

	ref, err := field.New(d, 2)
	require.NoError(t, err)
	ref.Fill(func(c domain.IntVect, n int) float64 {
		if n == 0 {
			return 2
		}
		return 0
	})
	// One cell off by 4 in channel 0, every cell off by 1 in channel 1
	got, err := field.New(d, 2)
	require.NoError(t, err)
	got.Fill(func(c domain.IntVect, n int) float64 {
		switch {
		case n == 1:
			return 1
		case c == domain.IntVect{0, 0, 0}:
			return 6
		}
		return 2
	})

	r, err := Fields(got, ref, "X")
	require.NoError(t, err)
	assert.Equal(t, 16, r.Cells)
	require.Len(t, r.Channels, 2)

	c0 := r.Channels[0]
	assert.Equal(t, "X", c0.Name)
	assert.InDelta(t, 1.0, c0.RMS, 1e-15)
	assert.Equal(t, 4.0, c0.MaxAbs)
	assert.InDelta(t, 0.5, c0.RelL2, 1e-15)

	c1 := r.Channels[1]
	assert.Equal(t, "ch1", c1.Name)
	assert.InDelta(t, 1.0, c1.RMS, 1e-15)
	assert.Equal(t, 1.0, c1.MaxAbs)
	// Zero reference: absolute L2
	assert.InDelta(t, 4.0, c1.RelL2, 1e-15)

	assert.Equal(t, 4.0, r.Worst())
	assert.Contains(t, r.String(), "rel_l2")
	assert.False(t, math.IsNaN(r.Worst()))
}

func TestFieldsMismatch(t *testing.T) {
	d, err := domain.Decompose(2, domain.IntVect{4, 4, 1}, 2, 1, domain.BlockOwnership)
	require.NoError(t, err)
	other, err := domain.Decompose(2, domain.IntVect{4, 4, 1}, 4, 1, domain.BlockOwnership)
	require.NoError(t, err)

	a, _ := field.New(d, 2)
	b, _ := field.New(d, 3)
	c, _ := field.New(other, 2)

	_, err = Fields(a, b)
	assert.Error(t, err)
	_, err = Fields(a, c)
	assert.Error(t, err)
	_, err = Fields(a, nil)
	assert.Error(t, err)
}
