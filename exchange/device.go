package exchange

import (
	"fmt"
	"math"

	"github.com/notargets/gocca"
	"github.com/notargets/gridtensor/field"
	"github.com/notargets/gridtensor/tensor"
)

// Device kernels. The outer loop runs over blocks, the inner loop strides the
// cells of a block. The 3D formula reduces to x*ny + y when nz == 1.
const exchangeKernels = `
#define TILE 256

@kernel void zeroTensor(const int n,
                        real_t *tensorData) {
    for (int i = 0; i < n; ++i; @tile(TILE, @outer, @inner)) {
        tensorData[i] = 0;
    }
}

@kernel void scatterBlocks(const int nBlocks,
                           const int nChan,
                           const int ny,
                           const int nz,
                           const int *blockLo,
                           const int *blockSize,
                           const int *blockOffset,
                           const real_t *fieldData,
                           real_t *tensorData) {
    for (int b = 0; b < nBlocks; ++b; @outer) {
        for (int t = 0; t < TILE; ++t; @inner) {
            const int sy = blockSize[3*b+1];
            const int sz = blockSize[3*b+2];
            const int ncell = blockSize[3*b]*sy*sz;
            const int off = blockOffset[b];
            for (int l = t; l < ncell; l += TILE) {
                const int x = blockLo[3*b]   + l/(sy*sz);
                const int y = blockLo[3*b+1] + (l/sz)%sy;
                const int z = blockLo[3*b+2] + l%sz;
                const int g = (x*ny + y)*nz + z;
                for (int n = 0; n < nChan; ++n) {
                    tensorData[g*nChan + n] = fieldData[off + n*ncell + l];
                }
            }
        }
    }
}

@kernel void gatherBlocks(const int nBlocks,
                          const int nChan,
                          const int ny,
                          const int nz,
                          const int *blockLo,
                          const int *blockSize,
                          const int *blockOffset,
                          const real_t *tensorData,
                          real_t *fieldData) {
    for (int b = 0; b < nBlocks; ++b; @outer) {
        for (int t = 0; t < TILE; ++t; @inner) {
            const int sy = blockSize[3*b+1];
            const int sz = blockSize[3*b+2];
            const int ncell = blockSize[3*b]*sy*sz;
            const int off = blockOffset[b];
            for (int l = t; l < ncell; l += TILE) {
                const int x = blockLo[3*b]   + l/(sy*sz);
                const int y = blockLo[3*b+1] + (l/sz)%sy;
                const int z = blockLo[3*b+2] + l%sz;
                const int g = (x*ny + y)*nz + z;
                for (int n = 0; n < nChan; ++n) {
                    fieldData[off + n*ncell + l] = tensorData[g*nChan + n];
                }
            }
        }
    }
}
`

// blockMetadata is the per-block geometry the kernels need, resident on the
// device for the duration of one exchange
type blockMetadata struct {
	lo, size, offset *gocca.OCCAMemory
}

func (m *blockMetadata) free() {
	for _, mem := range []*gocca.OCCAMemory{m.lo, m.size, m.offset} {
		if mem != nil {
			mem.Free()
		}
	}
}

func (ex *Exchange) uploadMetadata(f *field.Field) (*blockMetadata, error) {
	d := ex.Bridge.Domain
	nb := d.NumBlocks()
	lo := make([]int32, 3*nb)
	size := make([]int32, 3*nb)
	offset := make([]int32, nb)
	for b, box := range d.Blocks {
		s := box.Size()
		for ax := 0; ax < 3; ax++ {
			lo[3*b+ax] = int32(box.Lo[ax])
			size[3*b+ax] = int32(s[ax])
		}
		offset[b] = int32(f.Offsets[b])
	}

	var (
		md  = &blockMetadata{}
		err error
	)
	if md.lo, err = ex.Device.UploadInt32(lo); err != nil {
		md.free()
		return nil, err
	}
	if md.size, err = ex.Device.UploadInt32(size); err != nil {
		md.free()
		return nil, err
	}
	if md.offset, err = ex.Device.UploadInt32(offset); err != nil {
		md.free()
		return nil, err
	}
	return md, nil
}

// checkDeviceLimits guards the 32-bit indexing used by the kernels
func (ex *Exchange) checkDeviceLimits(f *field.Field) error {
	if ex.Device == nil {
		return fmt.Errorf("no device configured")
	}
	if len(f.Data) > math.MaxInt32 || ex.Bridge.Total()*f.Channels > math.MaxInt32 {
		return fmt.Errorf("exchange of %d cells × %d channels exceeds device index range",
			ex.Bridge.Total(), f.Channels)
	}
	return nil
}

// ScatterDevice copies the block arena to the device in one bulk transfer and
// writes the flat tensor there. The returned tensor is device resident.
func (ex *Exchange) ScatterDevice(f *field.Field) (*tensor.Tensor, error) {
	if err := ex.checkField(f); err != nil {
		return nil, err
	}
	if err := ex.checkDeviceLimits(f); err != nil {
		return nil, err
	}
	zero, err := ex.Device.BuildKernel(exchangeKernels, "zeroTensor")
	if err != nil {
		return nil, err
	}
	scatter, err := ex.Device.BuildKernel(exchangeKernels, "scatterBlocks")
	if err != nil {
		return nil, err
	}

	md, err := ex.uploadMetadata(f)
	if err != nil {
		return nil, err
	}
	defer md.free()

	src, err := ex.Device.Upload(f.Data)
	if err != nil {
		return nil, err
	}
	defer src.Free()

	n := ex.Bridge.Total() * f.Channels
	dst, err := ex.Device.Alloc(n)
	if err != nil {
		return nil, err
	}
	if err = zero.RunWithArgs(int32(n), dst.Mem); err != nil {
		dst.Free()
		return nil, fmt.Errorf("kernel zeroTensor failed: %w", err)
	}
	d := ex.Bridge.Domain
	if err = scatter.RunWithArgs(
		int32(d.NumBlocks()), int32(f.Channels), int32(d.N[1]), int32(d.N[2]),
		md.lo, md.size, md.offset, src.Mem, dst.Mem,
	); err != nil {
		dst.Free()
		return nil, fmt.Errorf("kernel scatterBlocks failed: %w", err)
	}
	ex.Device.Finish()

	return tensor.OnDevice(dst, ex.Bridge.Total(), f.Channels)
}

// GatherDevice reads a device-resident tensor into f with a kernel and brings
// the block arena back in one bulk transfer
func (ex *Exchange) GatherDevice(t *tensor.Tensor, f *field.Field) error {
	if err := ex.checkField(f); err != nil {
		return err
	}
	if err := ex.checkTensor(t, f.Channels); err != nil {
		return err
	}
	if err := ex.checkDeviceLimits(f); err != nil {
		return err
	}
	src := t.Buffer()
	if src == nil {
		return fmt.Errorf("tensor is not device resident")
	}
	if src.Precision != ex.Device.Precision {
		return fmt.Errorf("tensor precision %v != device precision %v", src.Precision, ex.Device.Precision)
	}
	gather, err := ex.Device.BuildKernel(exchangeKernels, "gatherBlocks")
	if err != nil {
		return err
	}

	md, err := ex.uploadMetadata(f)
	if err != nil {
		return err
	}
	defer md.free()

	dst, err := ex.Device.Upload(f.Data)
	if err != nil {
		return err
	}
	defer dst.Free()

	d := ex.Bridge.Domain
	if err = gather.RunWithArgs(
		int32(d.NumBlocks()), int32(f.Channels), int32(d.N[1]), int32(d.N[2]),
		md.lo, md.size, md.offset, src.Mem, dst.Mem,
	); err != nil {
		return fmt.Errorf("kernel gatherBlocks failed: %w", err)
	}
	ex.Device.Finish()

	return dst.CopyToHost(f.Data)
}
