package kinetics

import (
	"fmt"
	"math"
)

const (
	// Energy released per gram of He4 burned to C12, erg/g
	alphaQ = 5.847e17
	// Triple-alpha rate prefactor, erg/g/s, and temperature coefficient
	alphaRate = 5.09e11
	alphaTemp = 44.027

	newtonTol     = 1e-12
	newtonMaxIter = 50
)

// AlphaChain is a two species He4 -> C12 network driven by the triple-alpha
// reaction. Temperature and density are held fixed while integrating.
//
// State layout: [X(He4), X(C12), rho, T, enuc]
type AlphaChain struct {
	// MaxStep bounds h*k*X^2 for one backward Euler substep
	MaxStep float64
	// MaxSubsteps caps the substep count of one Integrate call
	MaxSubsteps int
}

func NewAlphaChain() *AlphaChain {
	return &AlphaChain{MaxStep: 0.05, MaxSubsteps: 100000}
}

func (a *AlphaChain) Species() []string {
	return []string{"He4", "C12"}
}

func (a *AlphaChain) Initialize(dens, temp float64, composition []float64, y []float64) error {
	ns := len(a.Species())
	if len(y) != StateWidth(a) {
		return fmt.Errorf("state vector has length %d, want %d", len(y), StateWidth(a))
	}
	if len(composition) != ns {
		return fmt.Errorf("composition has %d species, network has %d", len(composition), ns)
	}
	if dens <= 0 || temp <= 0 {
		return fmt.Errorf("density %g and temperature %g must be positive", dens, temp)
	}
	var sum float64
	for _, x := range composition {
		if x < 0 {
			return fmt.Errorf("negative mass fraction in %v", composition)
		}
		sum += x
	}
	if sum == 0 {
		return fmt.Errorf("composition %v has no mass", composition)
	}
	for i, x := range composition {
		y[i] = x / sum
	}
	y[ns], y[ns+1], y[ns+2] = dens, temp, 0
	return nil
}

// coefficient returns k with dX(He4)/dt = -k X^3
func (a *AlphaChain) coefficient(rho, temp float64) float64 {
	t8 := temp / 1e8
	return alphaRate * rho * rho * math.Exp(-alphaTemp/t8) / (t8 * t8 * t8) / alphaQ
}

func (a *AlphaChain) Derivative(y, dydt []float64) error {
	if len(y) != 5 || len(dydt) != 5 {
		return fmt.Errorf("state vectors must have length 5")
	}
	k := a.coefficient(y[2], y[3])
	burn := k * y[0] * y[0] * y[0]
	dydt[0] = -burn
	dydt[1] = burn
	dydt[2], dydt[3] = 0, 0
	dydt[4] = burn * alphaQ
	return nil
}

// Integrate advances y by duration with backward Euler substeps. Each
// substep solves X + h k X^3 = X_old by Newton iteration.
func (a *AlphaChain) Integrate(y []float64, duration float64) error {
	if len(y) != 5 {
		return fmt.Errorf("state vector must have length 5")
	}
	if duration < 0 {
		return fmt.Errorf("negative duration %g", duration)
	}
	if duration == 0 {
		return nil
	}
	var (
		x0 = y[0]
		x  = x0
		k  = a.coefficient(y[2], y[3])
	)
	// Clamped before conversion: the estimate can exceed any int
	nsub := a.MaxSubsteps
	if steps := math.Ceil(duration * k * x * x / a.MaxStep); steps < float64(nsub) {
		nsub = max(1, int(steps))
	}
	h := duration / float64(nsub)

	for s := 0; s < nsub; s++ {
		prev := x
		for it := 0; ; it++ {
			g := x + h*k*x*x*x - prev
			dg := 1 + 3*h*k*x*x
			dx := g / dg
			x -= dx
			if math.Abs(dx) <= newtonTol*math.Max(1, math.Abs(x)) {
				break
			}
			if it == newtonMaxIter {
				return fmt.Errorf("newton iteration did not converge at substep %d (X=%g)", s, x)
			}
		}
		if x < 0 {
			x = 0
		}
	}
	burned := x0 - x
	y[0] = x
	y[1] += burned
	y[4] += burned * alphaQ
	return nil
}
