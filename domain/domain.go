package domain

import (
	"fmt"
	"sort"
)

// Domain describes a logical grid and its decomposition into blocks owned by
// workers. It is immutable once built; use Decompose or New.
type Domain struct {
	// Dimensionality, 2 or 3
	Dims int

	// Cell counts per axis. The domain box is [0, N-1] on each used axis and
	// N is 1 on unused axes.
	N IntVect

	// Disjoint cover of the domain box
	Blocks []Box

	// Block to worker mapping: block b is owned by worker Owner[b]
	Owner []int

	// Number of workers the blocks are distributed over
	NumWorkers int
}

// New validates and returns a domain built from an explicit decomposition
func New(dims int, n IntVect, blocks []Box, owner []int, numWorkers int) (*Domain, error) {
	d := &Domain{
		Dims:       dims,
		N:          n,
		Blocks:     append([]Box(nil), blocks...),
		Owner:      append([]int(nil), owner...),
		NumWorkers: numWorkers,
	}
	if dims == 2 {
		d.N[2] = 1
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Box returns the whole-domain box
func (d *Domain) Box() Box {
	var hi IntVect
	for ax := 0; ax < MaxDims; ax++ {
		hi[ax] = d.N[ax] - 1
	}
	return Box{Hi: hi}
}

// TotalCells is the product of the per-axis cell counts
func (d *Domain) TotalCells() int {
	return d.N[0] * d.N[1] * d.N[2]
}

// NumBlocks returns the number of blocks in the decomposition
func (d *Domain) NumBlocks() int {
	return len(d.Blocks)
}

// OwnedBy returns the ids of the blocks owned by worker w in ascending order
func (d *Domain) OwnedBy(w int) []int {
	var ids []int
	for b, o := range d.Owner {
		if o == w {
			ids = append(ids, b)
		}
	}
	return ids
}

// MaxBlockCells returns the largest block cell count
func (d *Domain) MaxBlockCells() int {
	maxCells := 0
	for _, b := range d.Blocks {
		if n := b.NumCells(); n > maxCells {
			maxCells = n
		}
	}
	return maxCells
}

// SameLayout reports whether two domains describe the same grid and blocks
func (d *Domain) SameLayout(o *Domain) bool {
	if d == o {
		return true
	}
	if o == nil || d.Dims != o.Dims || d.N != o.N || len(d.Blocks) != len(o.Blocks) {
		return false
	}
	for i := range d.Blocks {
		if d.Blocks[i] != o.Blocks[i] {
			return false
		}
	}
	return true
}

// Validate checks that the blocks form a disjoint cover of the domain and that
// every block has a valid owner
func (d *Domain) Validate() error {
	if d.Dims != 2 && d.Dims != 3 {
		return fmt.Errorf("unsupported dimensionality %d, must be 2 or 3", d.Dims)
	}
	for ax := 0; ax < MaxDims; ax++ {
		if d.N[ax] < 1 {
			return fmt.Errorf("axis %d: cell count %d must be positive", ax, d.N[ax])
		}
	}
	if d.Dims == 2 && d.N[2] != 1 {
		return fmt.Errorf("2D domain has %d cells along axis 2", d.N[2])
	}
	if len(d.Blocks) == 0 {
		return fmt.Errorf("domain has no blocks")
	}
	if len(d.Owner) != len(d.Blocks) {
		return fmt.Errorf("owner map length %d != block count %d", len(d.Owner), len(d.Blocks))
	}
	if d.NumWorkers < 1 {
		return fmt.Errorf("worker count %d must be positive", d.NumWorkers)
	}

	whole := d.Box()
	covered := 0
	for i, b := range d.Blocks {
		if b.IsEmpty() {
			return fmt.Errorf("block %d %v is empty", i, b)
		}
		if !whole.ContainsBox(b) {
			return fmt.Errorf("block %d %v lies outside domain %v", i, b, whole)
		}
		if o := d.Owner[i]; o < 0 || o >= d.NumWorkers {
			return fmt.Errorf("block %d: owner %d out of range [0, %d)", i, o, d.NumWorkers)
		}
		covered += b.NumCells()
	}
	if covered != d.TotalCells() {
		return fmt.Errorf("blocks cover %d cells, domain has %d", covered, d.TotalCells())
	}
	if i, j, ok := firstOverlap(d.Blocks); ok {
		return fmt.Errorf("blocks %d %v and %d %v overlap", i, d.Blocks[i], j, d.Blocks[j])
	}
	return nil
}

// firstOverlap sweeps the blocks along axis 0 and reports the first
// intersecting pair.
func firstOverlap(blocks []Box) (int, int, bool) {
	order := make([]int, len(blocks))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return blocks[order[a]].Lo[0] < blocks[order[b]].Lo[0]
	})
	for a := 0; a < len(order); a++ {
		ba := blocks[order[a]]
		for b := a + 1; b < len(order); b++ {
			bb := blocks[order[b]]
			if bb.Lo[0] > ba.Hi[0] {
				break
			}
			if ba.Intersects(bb) {
				return order[a], order[b], true
			}
		}
	}
	return 0, 0, false
}

func (d *Domain) String() string {
	return fmt.Sprintf("Domain{Dims: %d, N: %v, Blocks: %d, Workers: %d}",
		d.Dims, d.N[:d.Dims], len(d.Blocks), d.NumWorkers)
}
