// Package kinetics adapts a reference reaction network to the block field.
//
// The network integrates one cell at a time; the adapter owns a state matrix
// per block (rows are local cells, columns the network state) and produces
// the model input, the reference solution and the right hand side as fields
// on the same domain.
package kinetics

import (
	"fmt"

	"github.com/notargets/gocfd/utils"
	"github.com/notargets/gridtensor/domain"
	"github.com/notargets/gridtensor/field"
	"github.com/notargets/gridtensor/index"
	"golang.org/x/sync/errgroup"
)

// Integrator is a single-cell reaction network. The state vector holds the
// mass fractions of Species() followed by density, temperature and the
// accumulated nuclear energy. Implementations must be safe for concurrent use
// on distinct state vectors.
type Integrator interface {
	Species() []string
	Initialize(dens, temp float64, composition []float64, y []float64) error
	Integrate(y []float64, duration float64) error
	Derivative(y, dydt []float64) error
}

// StateWidth is the length of one cell's state vector
func StateWidth(in Integrator) int {
	return len(in.Species()) + 3
}

// Norm scales the density, temperature and energy channels of produced
// fields. Zero values mean no scaling.
type Norm struct {
	Dens, Temp, Enuc float64
}

func (n Norm) apply(v, by float64) float64 {
	if by == 0 {
		return v
	}
	return v / by
}

// State is the initial condition of every cell plus the integration time
type State struct {
	Domain   *domain.Domain
	Duration float64
	Blocks   []utils.Matrix
}

// Adapter drives an Integrator over a domain
type Adapter struct {
	Domain     *domain.Domain
	Integrator Integrator

	// Uniform sets every cell to the same state. Otherwise the temperature
	// rises linearly along axis 0 by the factor (1 + Gradient).
	Uniform  bool
	Gradient float64

	Norm Norm
}

func NewAdapter(d *domain.Domain, in Integrator) *Adapter {
	return &Adapter{Domain: d, Integrator: in, Uniform: true, Gradient: 1}
}

func (a *Adapter) numSpecies() int {
	return len(a.Integrator.Species())
}

// InputChannels is [dt, X..., rho, T]
func (a *Adapter) InputChannels() int {
	return a.numSpecies() + 3
}

// OutputChannels is [X..., enuc]
func (a *Adapter) OutputChannels() int {
	return a.numSpecies() + 1
}

// Initialize builds the initial state of every cell
func (a *Adapter) Initialize(density, temperature float64, composition []float64,
	duration float64) (*State, error) {
	if duration < 0 {
		return nil, fmt.Errorf("negative integration time %g", duration)
	}
	var (
		d     = a.Domain
		width = StateWidth(a.Integrator)
		st    = &State{Domain: d, Duration: duration, Blocks: make([]utils.Matrix, d.NumBlocks())}
		span  = float64(max(d.N[0]-1, 1))
	)
	err := a.forEachBlock(func(b int) error {
		box := d.Blocks[b]
		m := utils.NewMatrix(box.NumCells(), width)
		data := m.Data()
		var (
			ierr error
			l    int
		)
		// Cells of a block are visited in local row-major order
		index.ForEachCell(box, func(c index.Coord) {
			if ierr == nil {
				temp := temperature
				if !a.Uniform {
					temp *= 1 + a.Gradient*float64(c[0])/span
				}
				ierr = a.Integrator.Initialize(density, temp, composition, data[l*width:(l+1)*width])
			}
			l++
		})
		if ierr != nil {
			return fmt.Errorf("block %d: %w", b, ierr)
		}
		st.Blocks[b] = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Input writes the model input field [dt, X..., rho, T]
func (a *Adapter) Input(st *State) (*field.Field, error) {
	if err := a.checkState(st); err != nil {
		return nil, err
	}
	ns := a.numSpecies()
	width := ns + 3
	f, err := field.New(a.Domain, a.InputChannels())
	if err != nil {
		return nil, err
	}
	err = a.forEachBlock(func(b int) error {
		data := st.Blocks[b].Data()
		dt := f.Plane(b, 0)
		for l := range dt {
			y := data[l*width : (l+1)*width]
			dt[l] = st.Duration
			for s := 0; s < ns; s++ {
				f.Plane(b, 1+s)[l] = y[s]
			}
			f.Plane(b, ns+1)[l] = a.Norm.apply(y[ns], a.Norm.Dens)
			f.Plane(b, ns+2)[l] = a.Norm.apply(y[ns+1], a.Norm.Temp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Solution integrates every cell for the state's duration and writes
// [X..., enuc]. The state itself is left untouched.
func (a *Adapter) Solution(st *State) (*field.Field, error) {
	return a.produce(st, func(y, out []float64) error {
		return a.Integrator.Integrate(y, st.Duration)
	})
}

// Derivative evaluates the right hand side at the integrated state, the
// same state Solution reports, and writes [dX/dt..., denuc/dt]
func (a *Adapter) Derivative(st *State) (*field.Field, error) {
	return a.produce(st, func(y, out []float64) error {
		if err := a.Integrator.Integrate(y, st.Duration); err != nil {
			return err
		}
		if err := a.Integrator.Derivative(y, out); err != nil {
			return err
		}
		copy(y, out)
		return nil
	})
}

// produce runs fn on a scratch copy of every cell's state and writes the
// species and energy entries of the result
func (a *Adapter) produce(st *State, fn func(y, out []float64) error) (*field.Field, error) {
	if err := a.checkState(st); err != nil {
		return nil, err
	}
	ns := a.numSpecies()
	width := ns + 3
	f, err := field.New(a.Domain, a.OutputChannels())
	if err != nil {
		return nil, err
	}
	err = a.forEachBlock(func(b int) error {
		var (
			data = st.Blocks[b].Data()
			y    = make([]float64, width)
			out  = make([]float64, width)
		)
		for l := 0; l < f.BlockCells(b); l++ {
			copy(y, data[l*width:(l+1)*width])
			if err := fn(y, out); err != nil {
				return fmt.Errorf("block %d cell %d: %w", b, l, err)
			}
			for s := 0; s < ns; s++ {
				f.Plane(b, s)[l] = y[s]
			}
			f.Plane(b, ns)[l] = a.Norm.apply(y[ns+2], a.Norm.Enuc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (a *Adapter) checkState(st *State) error {
	if st == nil {
		return fmt.Errorf("nil state")
	}
	if !a.Domain.SameLayout(st.Domain) {
		return fmt.Errorf("state domain %v does not match adapter domain %v", st.Domain, a.Domain)
	}
	if len(st.Blocks) != a.Domain.NumBlocks() {
		return fmt.Errorf("state has %d blocks, domain has %d", len(st.Blocks), a.Domain.NumBlocks())
	}
	width := StateWidth(a.Integrator)
	for b, m := range st.Blocks {
		r, c := m.Dims()
		if r != a.Domain.Blocks[b].NumCells() || c != width {
			return fmt.Errorf("block %d state is %d×%d, want %d×%d",
				b, r, c, a.Domain.Blocks[b].NumCells(), width)
		}
	}
	return nil
}

// forEachBlock runs fn for every block, one goroutine per worker over the
// blocks it owns
func (a *Adapter) forEachBlock(fn func(b int) error) error {
	var eg errgroup.Group
	for w := 0; w < a.Domain.NumWorkers; w++ {
		owned := a.Domain.OwnedBy(w)
		if len(owned) == 0 {
			continue
		}
		eg.Go(func() error {
			for _, b := range owned {
				if err := fn(b); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return eg.Wait()
}
