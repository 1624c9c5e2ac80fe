// Package compare reports per-channel error between two fields on the same
// domain, typically the surrogate output and the reference solution.
package compare

import (
	"fmt"
	"math"
	"strings"

	"github.com/notargets/gridtensor/field"
	"gonum.org/v1/gonum/floats"
)

// Channel holds the error of one channel
type Channel struct {
	Name   string
	RMS    float64
	MaxAbs float64
	// RelL2 is |a-b|_2 / |b|_2, or |a-b|_2 when b is zero
	RelL2 float64
}

type Report struct {
	Cells    int
	Channels []Channel
}

// Fields compares a against the reference b. names labels the channels and
// may be shorter than the channel count.
func Fields(a, b *field.Field, names ...string) (*Report, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("nil field")
	}
	if !a.Domain.SameLayout(b.Domain) {
		return nil, fmt.Errorf("fields are on different domains: %v and %v", a.Domain, b.Domain)
	}
	if a.Channels != b.Channels {
		return nil, fmt.Errorf("channel counts differ: %d and %d", a.Channels, b.Channels)
	}

	cells := a.Domain.TotalCells()
	r := &Report{Cells: cells, Channels: make([]Channel, a.Channels)}
	for n := 0; n < a.Channels; n++ {
		var sumSq, refSq, maxAbs float64
		for blk := 0; blk < a.NumBlocks(); blk++ {
			pa, pb := a.Plane(blk, n), b.Plane(blk, n)
			diff := make([]float64, len(pa))
			floats.SubTo(diff, pa, pb)
			d := floats.Norm(diff, 2)
			sumSq += d * d
			ref := floats.Norm(pb, 2)
			refSq += ref * ref
			maxAbs = math.Max(maxAbs, floats.Norm(diff, math.Inf(1)))
		}
		ch := Channel{
			Name:   fmt.Sprintf("ch%d", n),
			RMS:    math.Sqrt(sumSq / float64(cells)),
			MaxAbs: maxAbs,
			RelL2:  math.Sqrt(sumSq),
		}
		if n < len(names) {
			ch.Name = names[n]
		}
		if refSq > 0 {
			ch.RelL2 = math.Sqrt(sumSq / refSq)
		}
		r.Channels[n] = ch
	}
	return r, nil
}

// Worst returns the largest relative L2 error over all channels
func (r *Report) Worst() float64 {
	var worst float64
	for _, ch := range r.Channels {
		worst = math.Max(worst, ch.RelL2)
	}
	return worst
}

func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d cells\n", r.Cells)
	fmt.Fprintf(&sb, "%-8s %12s %12s %12s\n", "channel", "rms", "max_abs", "rel_l2")
	for _, ch := range r.Channels {
		fmt.Fprintf(&sb, "%-8s %12.4e %12.4e %12.4e\n", ch.Name, ch.RMS, ch.MaxAbs, ch.RelL2)
	}
	return sb.String()
}
