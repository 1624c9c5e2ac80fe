package domain

import "fmt"

// MaxDims is the largest supported dimensionality. Unused trailing axes of a
// 2D box are pinned to the single cell index 0.
const MaxDims = 3

// IntVect is a cell coordinate. Axes beyond the domain dimensionality are 0.
type IntVect [MaxDims]int

// Box is a rectangular cell region with inclusive corners Lo and Hi
type Box struct {
	Lo, Hi IntVect
}

// NewBox builds a box from inclusive corners
func NewBox(lo, hi IntVect) Box {
	return Box{Lo: lo, Hi: hi}
}

// Size returns the number of cells along each axis
func (b Box) Size() (s IntVect) {
	for i := 0; i < MaxDims; i++ {
		s[i] = b.Hi[i] - b.Lo[i] + 1
	}
	return
}

// NumCells returns the total cell count of the box
func (b Box) NumCells() int {
	s := b.Size()
	return s[0] * s[1] * s[2]
}

// IsEmpty reports whether any axis has a non-positive extent
func (b Box) IsEmpty() bool {
	for i := 0; i < MaxDims; i++ {
		if b.Hi[i] < b.Lo[i] {
			return true
		}
	}
	return false
}

// Contains reports whether cell c lies inside the box
func (b Box) Contains(c IntVect) bool {
	for i := 0; i < MaxDims; i++ {
		if c[i] < b.Lo[i] || c[i] > b.Hi[i] {
			return false
		}
	}
	return true
}

// ContainsBox reports whether o lies entirely inside b
func (b Box) ContainsBox(o Box) bool {
	return b.Contains(o.Lo) && b.Contains(o.Hi)
}

// Intersects reports whether the two boxes share at least one cell
func (b Box) Intersects(o Box) bool {
	for i := 0; i < MaxDims; i++ {
		if b.Hi[i] < o.Lo[i] || o.Hi[i] < b.Lo[i] {
			return false
		}
	}
	return true
}

// Chop splits the box so that no piece is longer than maxSize along any axis.
// Pieces along an axis have near-equal lengths; the first pieces take the
// remainder. Pieces are returned with the last axis varying fastest.
func (b Box) Chop(maxSize int) []Box {
	if maxSize < 1 {
		maxSize = 1
	}
	var cuts [MaxDims][][2]int
	for ax := 0; ax < MaxDims; ax++ {
		cuts[ax] = splitAxis(b.Lo[ax], b.Hi[ax], maxSize)
	}
	boxes := make([]Box, 0, len(cuts[0])*len(cuts[1])*len(cuts[2]))
	for _, c0 := range cuts[0] {
		for _, c1 := range cuts[1] {
			for _, c2 := range cuts[2] {
				boxes = append(boxes, Box{
					Lo: IntVect{c0[0], c1[0], c2[0]},
					Hi: IntVect{c0[1], c1[1], c2[1]},
				})
			}
		}
	}
	return boxes
}

func splitAxis(lo, hi, maxSize int) [][2]int {
	length := hi - lo + 1
	nPieces := (length + maxSize - 1) / maxSize
	base, extra := length/nPieces, length%nPieces
	pieces := make([][2]int, nPieces)
	start := lo
	for p := 0; p < nPieces; p++ {
		n := base
		if p < extra {
			n++
		}
		pieces[p] = [2]int{start, start + n - 1}
		start += n
	}
	return pieces
}

func (b Box) String() string {
	return fmt.Sprintf("(%v, %v)", b.Lo, b.Hi)
}
