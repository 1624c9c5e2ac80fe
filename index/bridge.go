// Package index maps grid cells between block-local addressing and the global
// linear index used to address rows of a flat tensor.
//
// The ordering is row-major with the last axis varying fastest:
//
//	2D: idx = x*Ny + y
//	3D: idx = (x*Ny + y)*Nz + z
//
// The index only depends on the global cell coordinate and the domain cell
// counts, so every decomposition of the same domain produces the same index for
// the same cell.
package index

import (
	"fmt"

	"github.com/notargets/gridtensor/domain"
)

// Coord is a global cell coordinate
type Coord = domain.IntVect

// Bridge converts between (block, local cell) and global linear indices for
// one domain
type Bridge struct {
	Domain *domain.Domain

	n     domain.IntVect
	total int

	// Chosen once from the dimensionality
	flatten   func(c Coord) int
	unflatten func(idx int) Coord

	// Global cell -> owning block
	cellBlock []int32
	// Per block sizes, cached for local <-> global conversion
	blockSize []domain.IntVect
}

// New builds the bridge for a validated domain
func New(d *domain.Domain) (*Bridge, error) {
	if d == nil {
		return nil, fmt.Errorf("nil domain")
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid domain: %w", err)
	}

	br := &Bridge{
		Domain: d,
		n:      d.N,
		total:  d.TotalCells(),
	}
	ny, nz := d.N[1], d.N[2]
	switch d.Dims {
	case 2:
		br.flatten = func(c Coord) int { return c[0]*ny + c[1] }
		br.unflatten = func(idx int) Coord { return Coord{idx / ny, idx % ny, 0} }
	case 3:
		br.flatten = func(c Coord) int { return (c[0]*ny+c[1])*nz + c[2] }
		br.unflatten = func(idx int) Coord {
			return Coord{idx / (ny * nz), (idx / nz) % ny, idx % nz}
		}
	}

	br.cellBlock = make([]int32, br.total)
	br.blockSize = make([]domain.IntVect, len(d.Blocks))
	for b, box := range d.Blocks {
		br.blockSize[b] = box.Size()
		ForEachCell(box, func(c Coord) {
			br.cellBlock[br.flatten(c)] = int32(b)
		})
	}
	return br, nil
}

// Total is the number of cells, i.e. the number of flat tensor rows
func (br *Bridge) Total() int {
	return br.total
}

// GlobalIndex returns the flat row of global cell c
func (br *Bridge) GlobalIndex(c Coord) int {
	return br.flatten(c)
}

// Coords is the inverse of GlobalIndex
func (br *Bridge) Coords(idx int) Coord {
	return br.unflatten(idx)
}

// LocalIndex returns the position of global cell c inside block b using the
// block-local row-major order (last axis fastest)
func (br *Bridge) LocalIndex(b int, c Coord) int {
	lo, s := br.Domain.Blocks[b].Lo, br.blockSize[b]
	return ((c[0]-lo[0])*s[1]+(c[1]-lo[1]))*s[2] + (c[2] - lo[2])
}

// LocalCoords returns the global cell coordinate of local cell l in block b
func (br *Bridge) LocalCoords(b, l int) Coord {
	lo, s := br.Domain.Blocks[b].Lo, br.blockSize[b]
	return Coord{
		lo[0] + l/(s[1]*s[2]),
		lo[1] + (l/s[2])%s[1],
		lo[2] + l%s[2],
	}
}

// ToGlobal converts (block, local cell) into a global linear index
func (br *Bridge) ToGlobal(b, l int) int {
	return br.flatten(br.LocalCoords(b, l))
}

// Locate converts a global linear index into (block, local cell)
func (br *Bridge) Locate(idx int) (b, l int) {
	b = int(br.cellBlock[idx])
	return b, br.LocalIndex(b, br.unflatten(idx))
}

// CheckShape asserts that a tensor with the given row count was built for
// this domain
func (br *Bridge) CheckShape(rows int) error {
	if rows != br.total {
		return &ShapeError{What: "tensor rows", Want: br.total, Got: rows}
	}
	return nil
}

// ForEachCell visits every cell of box in global index order
func ForEachCell(box domain.Box, fn func(c Coord)) {
	var c Coord
	for c[0] = box.Lo[0]; c[0] <= box.Hi[0]; c[0]++ {
		for c[1] = box.Lo[1]; c[1] <= box.Hi[1]; c[1]++ {
			for c[2] = box.Lo[2]; c[2] <= box.Hi[2]; c[2]++ {
				fn(c)
			}
		}
	}
}
