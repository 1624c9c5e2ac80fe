package field

import (
	"fmt"

	"github.com/notargets/gridtensor/domain"
)

// AlignmentType specifies the alignment of each block slot, in bytes
type AlignmentType int

const (
	NoAlignment    AlignmentType = 1
	CacheLineAlign AlignmentType = 64
)

const valueSize = 8 // float64

// Field holds per-block data for a domain in one contiguous arena
type Field struct {
	Domain *domain.Domain

	// Number of values per cell
	Channels int

	// Contiguous storage for all blocks
	// Layout: [Block 0 slot][pad][Block 1 slot][pad]...[Block N-1 slot]
	Data []float64

	// Block b's slot starts at Data[Offsets[b]]; Offsets has NumBlocks+1
	// entries, the last one is the arena length
	Offsets []int

	// Cells per block, cached from the domain
	cells []int
}

// New allocates a zeroed field with a cache-line aligned slot per block
func New(d *domain.Domain, channels int) (*Field, error) {
	return NewAligned(d, channels, CacheLineAlign)
}

// NewAligned allocates a zeroed field with the given slot alignment
func NewAligned(d *domain.Domain, channels int, alignment AlignmentType) (*Field, error) {
	if d == nil {
		return nil, fmt.Errorf("nil domain")
	}
	if channels < 1 {
		return nil, fmt.Errorf("channel count %d must be positive", channels)
	}
	f := &Field{
		Domain:   d,
		Channels: channels,
		cells:    make([]int, d.NumBlocks()),
	}
	for b, box := range d.Blocks {
		f.cells[b] = box.NumCells()
	}
	f.Offsets = calculateAlignedOffsets(f.cells, channels, alignment)
	f.Data = make([]float64, f.Offsets[len(f.Offsets)-1])
	return f, nil
}

// calculateAlignedOffsets computes slot offsets (in values) with alignment
func calculateAlignedOffsets(cells []int, channels int, alignment AlignmentType) []int {
	offsets := make([]int, len(cells)+1)
	align := int(alignment)
	if align < valueSize {
		align = valueSize
	}
	currentByteOffset := 0
	for b, n := range cells {
		if currentByteOffset%align != 0 {
			currentByteOffset = ((currentByteOffset + align - 1) / align) * align
		}
		offsets[b] = currentByteOffset / valueSize
		currentByteOffset += n * channels * valueSize
	}
	// Final offset for bounds checking
	if currentByteOffset%align != 0 {
		currentByteOffset = ((currentByteOffset + align - 1) / align) * align
	}
	offsets[len(cells)] = currentByteOffset / valueSize
	return offsets
}

// NumBlocks returns the number of block slots
func (f *Field) NumBlocks() int {
	return len(f.cells)
}

// BlockCells returns the number of cells in block b
func (f *Field) BlockCells(b int) int {
	return f.cells[b]
}

// Block returns block b's slot: channel-major planes of BlockCells(b) values.
// Inside a plane cells use the block-local row-major order, last axis fastest.
func (f *Field) Block(b int) []float64 {
	start := f.Offsets[b]
	return f.Data[start : start+f.cells[b]*f.Channels]
}

// Plane returns the values of one channel in block b
func (f *Field) Plane(b, channel int) []float64 {
	n := f.cells[b]
	start := f.Offsets[b] + channel*n
	return f.Data[start : start+n]
}

// At reads the value of channel at global cell c inside block b
func (f *Field) At(b int, c domain.IntVect, channel int) float64 {
	return f.Plane(b, channel)[f.localIndex(b, c)]
}

// Set writes the value of channel at global cell c inside block b
func (f *Field) Set(b int, c domain.IntVect, channel int, v float64) {
	f.Plane(b, channel)[f.localIndex(b, c)] = v
}

// Value looks up the owning block of global cell c and returns its value
func (f *Field) Value(c domain.IntVect, channel int) (float64, error) {
	b, err := f.FindBlock(c)
	if err != nil {
		return 0, err
	}
	return f.At(b, c, channel), nil
}

// FindBlock returns the block that contains cell c
func (f *Field) FindBlock(c domain.IntVect) (int, error) {
	for b, box := range f.Domain.Blocks {
		if box.Contains(c) {
			return b, nil
		}
	}
	return -1, fmt.Errorf("cell %v outside domain %v", c, f.Domain.Box())
}

// Fill evaluates fn at every cell and channel
func (f *Field) Fill(fn func(c domain.IntVect, channel int) float64) {
	for b, box := range f.Domain.Blocks {
		lo, s := box.Lo, box.Size()
		for n := 0; n < f.Channels; n++ {
			plane := f.Plane(b, n)
			for l := range plane {
				c := domain.IntVect{
					lo[0] + l/(s[1]*s[2]),
					lo[1] + (l/s[2])%s[1],
					lo[2] + l%s[2],
				}
				plane[l] = fn(c, n)
			}
		}
	}
}

// Equal reports whether two fields have the same layout and identical values
func (f *Field) Equal(o *Field) bool {
	if f.Channels != o.Channels || !f.Domain.SameLayout(o.Domain) {
		return false
	}
	for b := 0; b < f.NumBlocks(); b++ {
		x, y := f.Block(b), o.Block(b)
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
	}
	return true
}

func (f *Field) localIndex(b int, c domain.IntVect) int {
	box := f.Domain.Blocks[b]
	lo, s := box.Lo, box.Size()
	return ((c[0]-lo[0])*s[1]+(c[1]-lo[1]))*s[2] + (c[2] - lo[2])
}
