// Package tensor provides the dense (cells × channels) flat tensor exchanged
// with the surrogate model, and its residency in host or device memory.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash"
	"github.com/notargets/gridtensor/device"
	"gonum.org/v1/gonum/mat"
)

// Location identifies the memory space holding a tensor's data
type Location uint8

const (
	Host Location = iota
	Device
)

func (l Location) String() string {
	if l == Device {
		return "device"
	}
	return "host"
}

// Tensor is a contiguous row-major (rows × cols) array of float64. Row i holds
// the channels of the cell with global linear index i.
type Tensor struct {
	Rows, Cols int

	host *mat.Dense
	dev  *device.Buffer
	loc  Location
}

// Zeros allocates a zero-initialized host tensor
func Zeros(rows, cols int) (*Tensor, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("invalid tensor shape (%d, %d)", rows, cols)
	}
	return &Tensor{Rows: rows, Cols: cols, host: mat.NewDense(rows, cols, nil), loc: Host}, nil
}

// FromDense wraps a host matrix without copying
func FromDense(m *mat.Dense) *Tensor {
	r, c := m.Dims()
	return &Tensor{Rows: r, Cols: c, host: m, loc: Host}
}

// OnDevice wraps an existing device buffer holding rows × cols values
func OnDevice(buf *device.Buffer, rows, cols int) (*Tensor, error) {
	if buf == nil || buf.Len != rows*cols {
		return nil, fmt.Errorf("device buffer does not hold a (%d, %d) tensor", rows, cols)
	}
	return &Tensor{Rows: rows, Cols: cols, dev: buf, loc: Device}, nil
}

// Location reports where the current data lives
func (t *Tensor) Location() Location {
	return t.loc
}

// Dims returns (rows, cols)
func (t *Tensor) Dims() (int, int) {
	return t.Rows, t.Cols
}

// Len returns rows*cols
func (t *Tensor) Len() int {
	return t.Rows * t.Cols
}

// Dense returns the host matrix. The tensor must be host resident.
func (t *Tensor) Dense() (*mat.Dense, error) {
	if t.loc != Host {
		return nil, fmt.Errorf("tensor is resident on %s", t.loc)
	}
	return t.host, nil
}

// Data returns the contiguous host storage. The tensor must be host resident.
func (t *Tensor) Data() ([]float64, error) {
	if t.loc != Host {
		return nil, fmt.Errorf("tensor is resident on %s", t.loc)
	}
	return t.host.RawMatrix().Data, nil
}

// Buffer returns the device storage, nil for host tensors
func (t *Tensor) Buffer() *device.Buffer {
	if t.loc != Device {
		return nil
	}
	return t.dev
}

// ToDevice relocates the tensor with a single bulk host→device copy
func (t *Tensor) ToDevice(d *device.Device) error {
	if t.loc == Device {
		return nil
	}
	if d == nil {
		return fmt.Errorf("no device to relocate tensor to")
	}
	buf, err := d.Upload(t.host.RawMatrix().Data)
	if err != nil {
		return fmt.Errorf("tensor relocation to %s failed: %w", d.Mode(), err)
	}
	d.Finish()
	t.dev, t.loc = buf, Device
	return nil
}

// ToHost relocates the tensor with a single bulk device→host copy and frees
// the device buffer
func (t *Tensor) ToHost() error {
	if t.loc == Host {
		return nil
	}
	if t.host == nil {
		t.host = mat.NewDense(t.Rows, t.Cols, nil)
	}
	if err := t.dev.CopyToHost(t.host.RawMatrix().Data); err != nil {
		return fmt.Errorf("tensor relocation to host failed: %w", err)
	}
	t.dev.Free()
	t.dev, t.loc = nil, Host
	return nil
}

// Free releases any device storage
func (t *Tensor) Free() {
	if t.dev != nil {
		t.dev.Free()
		t.dev = nil
	}
}

// Checksum hashes the host data. Equal tensors hash equally; tensors on the
// device must be brought back first.
func (t *Tensor) Checksum() (uint64, error) {
	data, err := t.Data()
	if err != nil {
		return 0, err
	}
	h := xxhash.New()
	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], uint64(t.Rows))
	h.Write(word[:])
	binary.LittleEndian.PutUint64(word[:], uint64(t.Cols))
	h.Write(word[:])
	for _, v := range data {
		binary.LittleEndian.PutUint64(word[:], math.Float64bits(v))
		h.Write(word[:])
	}
	return h.Sum64(), nil
}

// Preview formats the first n rows of a host tensor
func (t *Tensor) Preview(n int) string {
	if t.loc != Host {
		return fmt.Sprintf("<%d×%d tensor on %s>", t.Rows, t.Cols, t.loc)
	}
	n = min(n, t.Rows)
	rows := t.host.Slice(0, n, 0, t.Cols)
	return fmt.Sprintf("%v", mat.Formatted(rows, mat.Squeeze()))
}
