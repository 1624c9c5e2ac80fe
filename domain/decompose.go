package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// OwnershipStrategy defines how blocks are assigned to workers
type OwnershipStrategy int

const (
	// Simple strategies
	BlockOwnership OwnershipStrategy = iota // Consecutive blocks per worker
	RoundRobin                              // Distribute cyclically

	// Locality strategy
	SpaceFillingCurve // Morton order, then consecutive runs
)

// ParseStrategy maps a configuration name onto a strategy
func ParseStrategy(name string) (OwnershipStrategy, error) {
	switch strings.ToLower(name) {
	case "", "block":
		return BlockOwnership, nil
	case "roundrobin", "round-robin":
		return RoundRobin, nil
	case "morton", "sfc":
		return SpaceFillingCurve, nil
	}
	return 0, fmt.Errorf("unknown ownership strategy %q", name)
}

func (s OwnershipStrategy) String() string {
	switch s {
	case BlockOwnership:
		return "block"
	case RoundRobin:
		return "roundrobin"
	case SpaceFillingCurve:
		return "morton"
	}
	return fmt.Sprintf("OwnershipStrategy(%d)", int(s))
}

// Decomposer builds a domain from a grid resolution
type Decomposer struct {
	Dims        int
	N           IntVect
	MaxGridSize int // Longest block edge
	NumWorkers  int
	Strategy    OwnershipStrategy
}

// Decompose chops the domain box into blocks no longer than maxGridSize and
// assigns them to workers
func Decompose(dims int, n IntVect, maxGridSize, numWorkers int,
	strategy OwnershipStrategy) (*Domain, error) {
	dc := &Decomposer{
		Dims:        dims,
		N:           n,
		MaxGridSize: maxGridSize,
		NumWorkers:  numWorkers,
		Strategy:    strategy,
	}
	return dc.Build()
}

// Cube returns the cell counts of an n^dims domain
func Cube(dims, n int) IntVect {
	v := IntVect{n, n, n}
	if dims == 2 {
		v[2] = 1
	}
	return v
}

// Build creates and validates the domain
func (dc *Decomposer) Build() (*Domain, error) {
	if dc.MaxGridSize < 1 {
		return nil, fmt.Errorf("max grid size %d must be positive", dc.MaxGridSize)
	}
	n := dc.N
	if dc.Dims == 2 {
		n[2] = 1
	}
	whole := Box{Hi: IntVect{n[0] - 1, n[1] - 1, n[2] - 1}}
	if whole.IsEmpty() {
		return nil, fmt.Errorf("empty domain %v", n)
	}
	blocks := whole.Chop(dc.MaxGridSize)

	workers := dc.calculateNumWorkers(len(blocks))
	owner := dc.assignOwners(blocks, workers)

	d, err := New(dc.Dims, n, blocks, owner, workers)
	if err != nil {
		return nil, fmt.Errorf("invalid decomposition: %w", err)
	}
	return d, nil
}

// calculateNumWorkers clamps the worker count to the number of blocks
func (dc *Decomposer) calculateNumWorkers(numBlocks int) int {
	workers := dc.NumWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > numBlocks {
		workers = numBlocks
	}
	return workers
}

// assignOwners maps every block onto a worker
func (dc *Decomposer) assignOwners(blocks []Box, workers int) []int {
	owner := make([]int, len(blocks))

	switch dc.Strategy {
	case RoundRobin:
		for i := range blocks {
			owner[i] = i % workers
		}

	case SpaceFillingCurve:
		order := mortonOrder(blocks)
		perWorker := int(math.Ceil(float64(len(blocks)) / float64(workers)))
		for rank, b := range order {
			owner[b] = min(rank/perWorker, workers-1)
		}

	default:
		perWorker := int(math.Ceil(float64(len(blocks)) / float64(workers)))
		for i := range blocks {
			owner[i] = min(i/perWorker, workers-1)
		}
	}

	return owner
}

// mortonOrder sorts block ids by the Z-order key of their lower corner
func mortonOrder(blocks []Box) []int {
	order := make([]int, len(blocks))
	keys := make([]uint64, len(blocks))
	for i, b := range blocks {
		order[i] = i
		keys[i] = mortonKey(b.Lo)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return keys[order[a]] < keys[order[b]]
	})
	return order
}

// mortonKey interleaves the low 21 bits of each coordinate
func mortonKey(c IntVect) (key uint64) {
	for bit := 0; bit < 21; bit++ {
		for ax := 0; ax < MaxDims; ax++ {
			key |= uint64((c[ax]>>bit)&1) << (MaxDims*bit + ax)
		}
	}
	return
}
