// Package surrogate invokes a learned model on the flat tensor produced by the
// exchange. The model is opaque: it maps (cells × C_in) to (cells × C_out).
package surrogate

import (
	"fmt"

	"github.com/notargets/gridtensor/device"
	"github.com/notargets/gridtensor/index"
	"github.com/notargets/gridtensor/tensor"
)

// Model is the capability consumed by the invoker
type Model interface {
	// Forward evaluates the model. The input is resident in Location().
	Forward(in *tensor.Tensor) (*tensor.Tensor, error)
	// Location is the memory space the model computes in
	Location() tensor.Location
}

// Invoker runs a model over the whole domain
type Invoker struct {
	Model  Model
	Bridge *index.Bridge
	// Device backs device-located models. It must be set when the model
	// computes on the device; there is no host fallback.
	Device *device.Device
	// OutputChannels is the expected C_out; zero accepts any positive count
	OutputChannels int
}

// Invoke relocates the input to the model's memory space, runs the model and
// validates the output shape. The returned tensor is host resident.
func (iv *Invoker) Invoke(in *tensor.Tensor) (*tensor.Tensor, error) {
	if iv.Model == nil {
		return nil, fmt.Errorf("no model loaded")
	}
	if in == nil {
		return nil, fmt.Errorf("nil input tensor")
	}
	if err := iv.Bridge.CheckShape(in.Rows); err != nil {
		return nil, err
	}

	switch iv.Model.Location() {
	case tensor.Device:
		if iv.Device == nil {
			return nil, fmt.Errorf("model computes on the device but no device is configured")
		}
		if err := in.ToDevice(iv.Device); err != nil {
			return nil, err
		}
	default:
		if err := in.ToHost(); err != nil {
			return nil, err
		}
	}

	out, err := iv.Model.Forward(in)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("model returned no output")
	}
	if err = iv.checkOutput(out); err != nil {
		out.Free()
		return nil, err
	}
	if err = out.ToHost(); err != nil {
		return nil, err
	}
	return out, nil
}

func (iv *Invoker) checkOutput(out *tensor.Tensor) error {
	if err := iv.Bridge.CheckShape(out.Rows); err != nil {
		return err
	}
	if iv.OutputChannels > 0 && out.Cols != iv.OutputChannels {
		return &index.ShapeError{What: "output channels", Want: iv.OutputChannels, Got: out.Cols}
	}
	return nil
}
