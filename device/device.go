package device

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/notargets/gocca"
)

// Precision is the element type of real-valued device buffers. Host data is
// always float64; Float32 buffers are converted on each bulk copy.
type Precision int

const (
	Float64 Precision = iota + 1
	Float32
)

// ParsePrecision maps a configuration name onto a precision
func ParsePrecision(name string) (Precision, error) {
	switch strings.ToLower(name) {
	case "", "float64", "double":
		return Float64, nil
	case "float32", "float", "single":
		return Float32, nil
	}
	return 0, fmt.Errorf("unknown device precision %q", name)
}

// Size returns the size in bytes of one element
func (p Precision) Size() int64 {
	if p == Float32 {
		return 4
	}
	return 8
}

// TypeName returns the C type name used for real_t in kernels
func (p Precision) TypeName() string {
	if p == Float32 {
		return "float"
	}
	return "double"
}

func (p Precision) String() string {
	return p.TypeName()
}

// Device is an accelerator memory space and kernel compiler
type Device struct {
	OCCA      *gocca.OCCADevice
	Precision Precision

	kernels map[string]*gocca.OCCAKernel
}

// Open creates a device from OCCA properties, e.g. {"mode": "CUDA", "device_id": 0}.
// There is no fallback: a failure to create the requested mode is an error.
func Open(props string, precision Precision) (*Device, error) {
	if precision == 0 {
		precision = Float64
	}
	occa, err := gocca.NewDevice(props)
	if err != nil {
		return nil, fmt.Errorf("failed to create device %s: %w", props, err)
	}
	return Wrap(occa, precision), nil
}

// Wrap adopts an existing OCCA device
func Wrap(occa *gocca.OCCADevice, precision Precision) *Device {
	if precision == 0 {
		precision = Float64
	}
	return &Device{
		OCCA:      occa,
		Precision: precision,
		kernels:   make(map[string]*gocca.OCCAKernel),
	}
}

// Props builds OCCA device properties for a mode name
func Props(mode string, deviceID int) string {
	switch strings.ToLower(mode) {
	case "cuda":
		return fmt.Sprintf(`{"mode": "CUDA", "device_id": %d}`, deviceID)
	case "hip":
		return fmt.Sprintf(`{"mode": "HIP", "device_id": %d}`, deviceID)
	case "opencl":
		return fmt.Sprintf(`{"mode": "OpenCL", "platform_id": 0, "device_id": %d}`, deviceID)
	case "openmp":
		return `{"mode": "OpenMP"}`
	default:
		return `{"mode": "Serial"}`
	}
}

// Mode returns the OCCA backend name
func (d *Device) Mode() string {
	return d.OCCA.Mode()
}

// Finish blocks until all queued device work completes
func (d *Device) Finish() {
	d.OCCA.Finish()
}

// Buffer is a device allocation of real values
type Buffer struct {
	Mem       *gocca.OCCAMemory
	Len       int
	Precision Precision
}

// Alloc reserves an uninitialized buffer of n real values
func (d *Device) Alloc(n int) (*Buffer, error) {
	if n < 1 {
		return nil, fmt.Errorf("cannot allocate %d values", n)
	}
	mem := d.OCCA.Malloc(int64(n)*d.Precision.Size(), nil, nil)
	if mem == nil {
		return nil, fmt.Errorf("device %s: allocation of %d values failed", d.Mode(), n)
	}
	return &Buffer{Mem: mem, Len: n, Precision: d.Precision}, nil
}

// Upload allocates a buffer and fills it from host in one bulk copy
func (d *Device) Upload(host []float64) (*Buffer, error) {
	buf, err := d.Alloc(len(host))
	if err != nil {
		return nil, err
	}
	if err = buf.CopyFromHost(host); err != nil {
		buf.Free()
		return nil, err
	}
	return buf, nil
}

// CopyFromHost performs the host→device bulk copy, converting if needed
func (b *Buffer) CopyFromHost(host []float64) error {
	if len(host) != b.Len {
		return fmt.Errorf("host length %d != device length %d", len(host), b.Len)
	}
	switch b.Precision {
	case Float32:
		converted := make([]float32, len(host))
		for i, v := range host {
			converted[i] = float32(v)
		}
		b.Mem.CopyFrom(unsafe.Pointer(&converted[0]), int64(len(converted)*4))
	case Float64:
		b.Mem.CopyFrom(unsafe.Pointer(&host[0]), int64(len(host)*8))
	default:
		return fmt.Errorf("unsupported device precision %v", b.Precision)
	}
	return nil
}

// CopyToHost performs the device→host bulk copy, converting if needed
func (b *Buffer) CopyToHost(host []float64) error {
	if len(host) != b.Len {
		return fmt.Errorf("host length %d != device length %d", len(host), b.Len)
	}
	switch b.Precision {
	case Float32:
		deviceData := make([]float32, b.Len)
		b.Mem.CopyTo(unsafe.Pointer(&deviceData[0]), int64(b.Len*4))
		for i, v := range deviceData {
			host[i] = float64(v)
		}
	case Float64:
		b.Mem.CopyTo(unsafe.Pointer(&host[0]), int64(b.Len*8))
	default:
		return fmt.Errorf("unsupported device precision %v", b.Precision)
	}
	return nil
}

// Free releases the device allocation
func (b *Buffer) Free() {
	if b != nil && b.Mem != nil {
		b.Mem.Free()
		b.Mem = nil
	}
}

// UploadInt32 copies integer metadata to the device in one bulk copy
func (d *Device) UploadInt32(host []int32) (*gocca.OCCAMemory, error) {
	if len(host) == 0 {
		return nil, fmt.Errorf("cannot upload empty int array")
	}
	mem := d.OCCA.Malloc(int64(len(host)*4), unsafe.Pointer(&host[0]), nil)
	if mem == nil {
		return nil, fmt.Errorf("device %s: allocation of %d ints failed", d.Mode(), len(host))
	}
	return mem, nil
}

// Preamble defines real_t for kernels built on this device
func (d *Device) Preamble() string {
	return fmt.Sprintf("#define real_t %s\n", d.Precision.TypeName())
}

// BuildKernel compiles a kernel, caching it by name
func (d *Device) BuildKernel(kernelSource, kernelName string) (*gocca.OCCAKernel, error) {
	if kernel, ok := d.kernels[kernelName]; ok {
		return kernel, nil
	}
	fullSource := d.Preamble() + "\n" + kernelSource

	var kernel *gocca.OCCAKernel
	var err error
	if d.Mode() == "OpenMP" {
		// OpenMP does not get the default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = d.OCCA.BuildKernelFromString(fullSource, kernelName, props)
	} else {
		kernel, err = d.OCCA.BuildKernelFromString(fullSource, kernelName, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kernel %s: %w", kernelName, err)
	}
	if kernel == nil {
		return nil, fmt.Errorf("kernel build returned nil for %s", kernelName)
	}
	d.kernels[kernelName] = kernel
	return kernel, nil
}

// Free releases compiled kernels and the device
func (d *Device) Free() {
	for _, kernel := range d.kernels {
		kernel.Free()
	}
	d.kernels = map[string]*gocca.OCCAKernel{}
	d.OCCA.Free()
}
