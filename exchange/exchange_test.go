package exchange

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/notargets/gridtensor/domain"
	"github.com/notargets/gridtensor/field"
	"github.com/notargets/gridtensor/index"
	"github.com/notargets/gridtensor/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newExchange(t *testing.T, dims int, n domain.IntVect, maxGrid, workers, tile int,
	strategy domain.OwnershipStrategy) *Exchange {
	t.Helper()
	d, err := domain.Decompose(dims, n, maxGrid, workers, strategy)
	require.NoError(t, err)
	br, err := index.New(d)
	require.NoError(t, err)
	return New(br, tile)
}

func filledField(t *testing.T, d *domain.Domain, channels int,
	fn func(c domain.IntVect, n int) float64) *field.Field {
	t.Helper()
	f, err := field.New(d, channels)
	require.NoError(t, err)
	f.Fill(fn)
	return f
}

func scenarioValue(c domain.IntVect, n int) float64 {
	return float64(10*c[0] + c[1] + 100*n)
}

func TestScatterGatherScenario(t *testing.T) {
	// 4x4 domain, one block, two channels, f(x,y,c) = 10x + y + 100c
	ex := newExchange(t, 2, domain.IntVect{4, 4, 1}, 32, 1, 0, domain.BlockOwnership)
	require.Equal(t, 1, ex.Bridge.Domain.NumBlocks())

	in := filledField(t, ex.Bridge.Domain, 2, scenarioValue)
	tn, err := ex.Scatter(in)
	require.NoError(t, err)
	rows, cols := tn.Dims()
	assert.Equal(t, 16, rows)
	assert.Equal(t, 2, cols)

	dense, err := tn.Dense()
	require.NoError(t, err)
	idx := ex.Bridge.GlobalIndex(index.Coord{2, 3, 0})
	require.Equal(t, 11, idx)
	assert.Equal(t, []float64{23, 123}, mat.Row(nil, idx, dense))

	out, err := field.New(ex.Bridge.Domain, 2)
	require.NoError(t, err)
	require.NoError(t, ex.Gather(tn, out))
	v0, err := out.Value(domain.IntVect{2, 3, 0}, 0)
	require.NoError(t, err)
	v1, err := out.Value(domain.IntVect{2, 3, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 23.0, v0)
	assert.Equal(t, 123.0, v1)
}

func TestScatterEveryRow(t *testing.T) {
	ex := newExchange(t, 3, domain.IntVect{6, 5, 7}, 3, 4, 2, domain.RoundRobin)
	in := filledField(t, ex.Bridge.Domain, 3, func(c domain.IntVect, n int) float64 {
		return float64(c[0]*10000 + c[1]*100 + c[2] + n*1000000)
	})
	tn, err := ex.Scatter(in)
	require.NoError(t, err)
	data, err := tn.Data()
	require.NoError(t, err)
	for g := 0; g < ex.Bridge.Total(); g++ {
		c := ex.Bridge.Coords(g)
		for n := 0; n < 3; n++ {
			want := float64(c[0]*10000 + c[1]*100 + c[2] + n*1000000)
			require.Equal(t, want, data[g*3+n], "row %d channel %d", g, n)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		dims     int
		n        domain.IntVect
		maxGrid  int
		workers  int
		tile     int
		strategy domain.OwnershipStrategy
	}{
		{"2D_single", 2, domain.IntVect{16, 16, 1}, 16, 1, 0, domain.BlockOwnership},
		{"2D_multi", 2, domain.IntVect{33, 17, 1}, 8, 3, 4, domain.RoundRobin},
		{"3D_multi", 3, domain.IntVect{12, 9, 10}, 5, 4, 3, domain.SpaceFillingCurve},
		{"3D_tiny_tiles", 3, domain.IntVect{4, 4, 4}, 2, 8, 1, domain.BlockOwnership},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ex := newExchange(t, tc.dims, tc.n, tc.maxGrid, tc.workers, tc.tile, tc.strategy)
			in := filledField(t, ex.Bridge.Domain, 4, func(c domain.IntVect, n int) float64 {
				return 0.1*float64(c[0]) - 3.7*float64(c[1]) + 1e-3*float64(c[2]) + float64(n)/7
			})
			tn, err := ex.Scatter(in)
			require.NoError(t, err)

			out, err := ex.GatherNew(tn)
			require.NoError(t, err)
			assert.True(t, in.Equal(out))
		})
	}
}

func TestDecompositionInvariance(t *testing.T) {
	tests := []struct {
		name     string
		dims     int
		n        domain.IntVect
		maxGrids [2]int
		fn       func(c domain.IntVect, ch int) float64
	}{
		{
			name:     "2D",
			dims:     2,
			n:        domain.IntVect{128, 128, 1},
			maxGrids: [2]int{16, 32},
			fn: func(c domain.IntVect, ch int) float64 {
				return float64(c[0]*c[1]) + 0.5*float64(ch)
			},
		},
		{
			name:     "3D",
			dims:     3,
			n:        domain.IntVect{24, 24, 24},
			maxGrids: [2]int{4, 8},
			fn: func(c domain.IntVect, ch int) float64 {
				return float64(c[0]*576+c[1]*24+c[2]) + 0.5*float64(ch)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tensors []*tensor.Tensor
			var sums []uint64
			for _, maxGrid := range tt.maxGrids {
				ex := newExchange(t, tt.dims, tt.n, maxGrid, 4, 8, domain.SpaceFillingCurve)
				tn, err := ex.Scatter(filledField(t, ex.Bridge.Domain, 2, tt.fn))
				require.NoError(t, err)
				sum, err := tn.Checksum()
				require.NoError(t, err)
				tensors = append(tensors, tn)
				sums = append(sums, sum)
			}

			a, _ := tensors[0].Data()
			b, _ := tensors[1].Data()
			if diff := cmp.Diff(a, b); diff != "" {
				t.Fatalf("tensors differ between block sizes %d and %d:\n%s",
					tt.maxGrids[0], tt.maxGrids[1], diff)
			}
			assert.Equal(t, sums[0], sums[1])
		})
	}
}

func TestGatherRejectsChannelMismatch(t *testing.T) {
	ex := newExchange(t, 2, domain.IntVect{8, 8, 1}, 4, 2, 0, domain.BlockOwnership)
	in := filledField(t, ex.Bridge.Domain, 3, scenarioValue)
	tn, err := ex.Scatter(in)
	require.NoError(t, err)

	out, err := field.New(ex.Bridge.Domain, 2)
	require.NoError(t, err)
	out.Data[0] = 42

	err = ex.Gather(tn, out)
	require.Error(t, err)
	var se *index.ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "channels", se.What)
	assert.Equal(t, 2, se.Want)
	assert.Equal(t, 3, se.Got)
	// Nothing was written
	assert.Equal(t, 42.0, out.Data[0])
}

func TestGatherRejectsRowMismatch(t *testing.T) {
	ex := newExchange(t, 2, domain.IntVect{8, 8, 1}, 4, 2, 0, domain.BlockOwnership)
	out, err := field.New(ex.Bridge.Domain, 2)
	require.NoError(t, err)

	tn, err := tensor.Zeros(63, 2)
	require.NoError(t, err)
	err = ex.Gather(tn, out)
	var se *index.ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "tensor rows", se.What)
}

func TestScatterRejectsForeignField(t *testing.T) {
	ex := newExchange(t, 2, domain.IntVect{8, 8, 1}, 4, 2, 0, domain.BlockOwnership)

	other, err := domain.Decompose(2, domain.IntVect{8, 8, 1}, 8, 1, domain.BlockOwnership)
	require.NoError(t, err)
	f, err := field.New(other, 1)
	require.NoError(t, err)
	_, err = ex.Scatter(f)
	assert.Error(t, err)

	d3, err := domain.Decompose(3, domain.IntVect{8, 8, 1}, 4, 1, domain.BlockOwnership)
	require.NoError(t, err)
	f3, err := field.New(d3, 1)
	require.NoError(t, err)
	_, err = ex.Scatter(f3)
	var se *index.ShapeError
	assert.True(t, errors.As(err, &se))
}

func TestScatterToDeviceWithoutDevice(t *testing.T) {
	ex := newExchange(t, 2, domain.IntVect{4, 4, 1}, 4, 1, 0, domain.BlockOwnership)
	in := filledField(t, ex.Bridge.Domain, 1, scenarioValue)
	_, err := ex.ScatterTo(in, tensor.Device)
	assert.Error(t, err)
}
