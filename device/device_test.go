package device_test

import (
	"testing"

	"github.com/notargets/gridtensor/device"
	"github.com/notargets/gridtensor/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	for _, prec := range []device.Precision{device.Float64, device.Float32} {
		t.Run(prec.String(), func(t *testing.T) {
			dev := utils.CreateTestDevice(prec)
			defer dev.Free()

			host := make([]float64, 1000)
			for i := range host {
				host[i] = float64(i) * 0.5
			}
			buf, err := dev.Upload(host)
			require.NoError(t, err)
			defer buf.Free()

			back := make([]float64, len(host))
			require.NoError(t, buf.CopyToHost(back))
			// Halves of small integers are exact in float32
			assert.Equal(t, host, back)
		})
	}
}

func TestBufferLengthMismatch(t *testing.T) {
	dev := utils.CreateTestDevice()
	defer dev.Free()

	buf, err := dev.Alloc(4)
	require.NoError(t, err)
	defer buf.Free()

	assert.Error(t, buf.CopyFromHost(make([]float64, 5)))
	assert.Error(t, buf.CopyToHost(make([]float64, 3)))

	_, err = dev.Alloc(0)
	assert.Error(t, err)
}

func TestParsePrecision(t *testing.T) {
	p, err := device.ParsePrecision("float32")
	require.NoError(t, err)
	assert.Equal(t, device.Float32, p)
	assert.Equal(t, int64(4), p.Size())

	p, err = device.ParsePrecision("")
	require.NoError(t, err)
	assert.Equal(t, device.Float64, p)
	assert.Equal(t, "double", p.TypeName())

	_, err = device.ParsePrecision("half")
	assert.Error(t, err)
}

func TestProps(t *testing.T) {
	assert.Equal(t, `{"mode": "Serial"}`, device.Props("", 0))
	assert.Equal(t, `{"mode": "CUDA", "device_id": 1}`, device.Props("cuda", 1))
	assert.Equal(t, `{"mode": "OpenMP"}`, device.Props("OpenMP", 0))
}
