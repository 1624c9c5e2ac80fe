// Package exchange moves data between a block field and a flat tensor.
//
// Scatter writes tensor[global(cell), c] = block(cell, c) for every cell of
// every block; Gather performs the inverse. Work is split by block owner: one
// goroutine per worker visits only the blocks it owns, tile by tile. Blocks
// are disjoint and the index bridge is bijective, so workers write disjoint
// cells and no locking is needed. Both directions return only after every
// worker has finished.
package exchange

import (
	"fmt"

	"github.com/notargets/gridtensor/device"
	"github.com/notargets/gridtensor/domain"
	"github.com/notargets/gridtensor/field"
	"github.com/notargets/gridtensor/index"
	"github.com/notargets/gridtensor/tensor"
	"golang.org/x/sync/errgroup"
)

// Exchange performs scatter and gather for one domain
type Exchange struct {
	Bridge *index.Bridge

	// Optional accelerator. When Native is set, device-resident tensors are
	// written and read by kernels on the device instead of being relocated
	// through the host.
	Device *device.Device
	Native bool

	// tiles[b] is the iteration order of block b
	tiles [][]domain.Box
}

// New prepares an exchange. tileSize bounds the edge of the sub-boxes each
// worker iterates over; 0 visits whole blocks.
func New(br *index.Bridge, tileSize int) *Exchange {
	ex := &Exchange{
		Bridge: br,
		tiles:  make([][]domain.Box, br.Domain.NumBlocks()),
	}
	for b, box := range br.Domain.Blocks {
		if tileSize > 0 {
			ex.tiles[b] = box.Chop(tileSize)
		} else {
			ex.tiles[b] = []domain.Box{box}
		}
	}
	return ex
}

// WithDevice attaches an accelerator
func (ex *Exchange) WithDevice(d *device.Device, native bool) *Exchange {
	ex.Device, ex.Native = d, native
	return ex
}

// Scatter builds a host tensor of shape (total cells, f.Channels)
func (ex *Exchange) Scatter(f *field.Field) (*tensor.Tensor, error) {
	if err := ex.checkField(f); err != nil {
		return nil, err
	}
	t, err := tensor.Zeros(ex.Bridge.Total(), f.Channels)
	if err != nil {
		return nil, err
	}
	if err = ex.scatterInto(f, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ScatterTo builds the tensor in the requested memory space. A device tensor
// is produced natively when enabled, otherwise by one bulk relocation after
// the host tensor is complete.
func (ex *Exchange) ScatterTo(f *field.Field, loc tensor.Location) (*tensor.Tensor, error) {
	if loc == tensor.Host {
		return ex.Scatter(f)
	}
	if ex.Device == nil {
		return nil, fmt.Errorf("device residency requested but no device is configured")
	}
	if ex.Native {
		return ex.ScatterDevice(f)
	}
	t, err := ex.Scatter(f)
	if err != nil {
		return nil, err
	}
	if err = t.ToDevice(ex.Device); err != nil {
		return nil, err
	}
	return t, nil
}

// Gather writes a host tensor back into f. Channel counts must match exactly.
func (ex *Exchange) Gather(t *tensor.Tensor, f *field.Field) error {
	if err := ex.checkField(f); err != nil {
		return err
	}
	if err := ex.checkTensor(t, f.Channels); err != nil {
		return err
	}
	data, err := t.Data()
	if err != nil {
		return err
	}
	return ex.forEachWorker(func(b int, tile domain.Box) {
		ex.gatherTile(data, f, b, tile)
	})
}

// GatherFrom writes a tensor resident anywhere back into f
func (ex *Exchange) GatherFrom(t *tensor.Tensor, f *field.Field) error {
	if t.Location() == tensor.Device {
		if ex.Native && ex.Device != nil {
			return ex.GatherDevice(t, f)
		}
		if err := t.ToHost(); err != nil {
			return err
		}
	}
	return ex.Gather(t, f)
}

// GatherNew allocates a field with the tensor's channel count and gathers
// into it
func (ex *Exchange) GatherNew(t *tensor.Tensor) (*field.Field, error) {
	f, err := field.New(ex.Bridge.Domain, t.Cols)
	if err != nil {
		return nil, err
	}
	if err = ex.GatherFrom(t, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (ex *Exchange) scatterInto(f *field.Field, t *tensor.Tensor) error {
	if err := ex.checkTensor(t, f.Channels); err != nil {
		return err
	}
	data, err := t.Data()
	if err != nil {
		return err
	}
	return ex.forEachWorker(func(b int, tile domain.Box) {
		ex.scatterTile(f, data, b, tile)
	})
}

// forEachWorker runs one goroutine per worker over the tiles of its blocks
// and waits for all of them
func (ex *Exchange) forEachWorker(fn func(b int, tile domain.Box)) error {
	d := ex.Bridge.Domain
	var eg errgroup.Group
	for w := 0; w < d.NumWorkers; w++ {
		owned := d.OwnedBy(w)
		if len(owned) == 0 {
			continue
		}
		eg.Go(func() error {
			for _, b := range owned {
				for _, tile := range ex.tiles[b] {
					fn(b, tile)
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

// scatterTile copies one tile. Runs along the last axis are contiguous both in
// the block plane and in the tensor rows.
func (ex *Exchange) scatterTile(f *field.Field, data []float64, b int, tile domain.Box) {
	var (
		br    = ex.Bridge
		cols  = f.Channels
		ncell = f.BlockCells(b)
		slot  = f.Block(b)
		run   = tile.Hi[2] - tile.Lo[2] + 1
	)
	for x := tile.Lo[0]; x <= tile.Hi[0]; x++ {
		for y := tile.Lo[1]; y <= tile.Hi[1]; y++ {
			c := index.Coord{x, y, tile.Lo[2]}
			g, l := br.GlobalIndex(c), br.LocalIndex(b, c)
			for k := 0; k < run; k++ {
				row := data[(g+k)*cols : (g+k+1)*cols]
				for n := range row {
					row[n] = slot[n*ncell+l+k]
				}
			}
		}
	}
}

func (ex *Exchange) gatherTile(data []float64, f *field.Field, b int, tile domain.Box) {
	var (
		br    = ex.Bridge
		cols  = f.Channels
		ncell = f.BlockCells(b)
		slot  = f.Block(b)
		run   = tile.Hi[2] - tile.Lo[2] + 1
	)
	for x := tile.Lo[0]; x <= tile.Hi[0]; x++ {
		for y := tile.Lo[1]; y <= tile.Hi[1]; y++ {
			c := index.Coord{x, y, tile.Lo[2]}
			g, l := br.GlobalIndex(c), br.LocalIndex(b, c)
			for k := 0; k < run; k++ {
				row := data[(g+k)*cols : (g+k+1)*cols]
				for n, v := range row {
					slot[n*ncell+l+k] = v
				}
			}
		}
	}
}

// checkField asserts the field was built on this exchange's domain layout
func (ex *Exchange) checkField(f *field.Field) error {
	if f == nil {
		return fmt.Errorf("nil field")
	}
	d := ex.Bridge.Domain
	if f.Domain.Dims != d.Dims {
		return &index.ShapeError{What: "dimensionality", Want: d.Dims, Got: f.Domain.Dims}
	}
	if !d.SameLayout(f.Domain) {
		return fmt.Errorf("field domain %v does not match exchange domain %v", f.Domain, d)
	}
	return nil
}

// checkTensor is the shape assertion at exchange entry
func (ex *Exchange) checkTensor(t *tensor.Tensor, channels int) error {
	if t == nil {
		return fmt.Errorf("nil tensor")
	}
	if err := ex.Bridge.CheckShape(t.Rows); err != nil {
		return err
	}
	if t.Cols != channels {
		return &index.ShapeError{What: "channels", Want: channels, Got: t.Cols}
	}
	return nil
}
