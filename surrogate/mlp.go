package surrogate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/notargets/gridtensor/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Scaling is a per-channel affine map v' = (v - Offset) * Scale
type Scaling struct {
	Offset []float64 `json:"offset"`
	Scale  []float64 `json:"scale"`
}

// LayerSpec is one dense layer of a serialized network. Weights has one row
// per output unit.
type LayerSpec struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// Artifact is the on-disk form of an MLP
type Artifact struct {
	Name        string      `json:"name,omitempty"`
	Inputs      int         `json:"inputs"`
	Outputs     int         `json:"outputs"`
	InputScale  *Scaling    `json:"input_scale,omitempty"`
	OutputScale *Scaling    `json:"output_scale,omitempty"`
	Layers      []LayerSpec `json:"layers"`
}

type layer struct {
	w   *mat.Dense // out × in
	b   []float64
	act ActivationFunc
}

// MLP is a dense feed-forward network evaluated on the host, one matrix
// product per layer for the whole batch of cells
type MLP struct {
	Path     string
	artifact Artifact
	layers   []layer
}

// LoadMLP reads a JSON artifact
func LoadMLP(path string) (*MLP, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading model %s", path)
	}
	var a Artifact
	if err = json.Unmarshal(raw, &a); err != nil {
		return nil, errors.Wrapf(err, "decoding model %s", path)
	}
	m, err := NewMLP(a)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", path)
	}
	m.Path = path
	return m, nil
}

// NewMLP validates an artifact and prepares its layers
func NewMLP(a Artifact) (*MLP, error) {
	if len(a.Layers) == 0 {
		return nil, fmt.Errorf("network has no layers")
	}
	m := &MLP{artifact: a}
	width := a.Inputs
	for i, ls := range a.Layers {
		rows := len(ls.Weights)
		if rows == 0 {
			return nil, fmt.Errorf("layer %d has no units", i)
		}
		data := make([]float64, 0, rows*width)
		for j, row := range ls.Weights {
			if len(row) != width {
				return nil, fmt.Errorf("layer %d unit %d: %d weights, want %d", i, j, len(row), width)
			}
			data = append(data, row...)
		}
		bias := ls.Bias
		if bias == nil {
			bias = make([]float64, rows)
		}
		if len(bias) != rows {
			return nil, fmt.Errorf("layer %d: %d biases, want %d", i, len(bias), rows)
		}
		act, err := GetActivation(ls.Activation)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.layers = append(m.layers, layer{w: mat.NewDense(rows, width, data), b: bias, act: act})
		width = rows
	}
	if width != a.Outputs {
		return nil, fmt.Errorf("last layer has %d units, want %d outputs", width, a.Outputs)
	}
	if err := checkScaling("input", a.InputScale, a.Inputs); err != nil {
		return nil, err
	}
	if err := checkScaling("output", a.OutputScale, a.Outputs); err != nil {
		return nil, err
	}
	return m, nil
}

func checkScaling(what string, s *Scaling, n int) error {
	if s == nil {
		return nil
	}
	if len(s.Offset) != n || len(s.Scale) != n {
		return fmt.Errorf("%s scaling has %d offsets and %d scales, want %d",
			what, len(s.Offset), len(s.Scale), n)
	}
	for j, v := range s.Scale {
		if v == 0 {
			return fmt.Errorf("%s scaling of channel %d is zero", what, j)
		}
	}
	return nil
}

// Save writes the artifact as JSON
func (m *MLP) Save(path string) error {
	raw, err := json.MarshalIndent(m.artifact, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding model %s", path)
	}
	if err = os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "writing model %s", path)
	}
	return nil
}

func (m *MLP) Inputs() int  { return m.artifact.Inputs }
func (m *MLP) Outputs() int { return m.artifact.Outputs }

func (m *MLP) Location() tensor.Location { return tensor.Host }

// Forward evaluates the network over every row of in
func (m *MLP) Forward(in *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := in.Dense()
	if err != nil {
		return nil, m.wrap(err)
	}
	rows, cols := x.Dims()
	if cols != m.artifact.Inputs {
		return nil, m.wrap(fmt.Errorf("input has %d channels, network takes %d", cols, m.artifact.Inputs))
	}

	cur := mat.DenseCopyOf(x)
	applyScaling(cur, m.artifact.InputScale, false)
	for _, l := range m.layers {
		units, _ := l.w.Dims()
		next := mat.NewDense(rows, units, nil)
		next.Mul(cur, l.w.T())
		next.Apply(func(_, j int, v float64) float64 {
			return l.act(v + l.b[j])
		}, next)
		cur = next
	}
	applyScaling(cur, m.artifact.OutputScale, true)
	return tensor.FromDense(cur), nil
}

func (m *MLP) wrap(err error) error {
	if m.Path == "" {
		return errors.Wrap(err, "forward")
	}
	return errors.Wrapf(err, "forward %s", m.Path)
}

// applyScaling maps into network space, or back out of it when inverse is set
func applyScaling(d *mat.Dense, s *Scaling, inverse bool) {
	if s == nil {
		return
	}
	d.Apply(func(_, j int, v float64) float64 {
		if inverse {
			return v/s.Scale[j] + s.Offset[j]
		}
		return (v - s.Offset[j]) * s.Scale[j]
	}, d)
}
