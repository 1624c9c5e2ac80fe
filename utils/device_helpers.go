package utils

import (
	"fmt"
	"os"

	"github.com/notargets/gridtensor/device"
)

// CreateTestDevice creates a Device for testing, preferring parallel backends.
// GRIDTENSOR_TEST_DEVICE overrides the search with explicit OCCA properties.
func CreateTestDevice(precision ...device.Precision) *device.Device {
	prec := device.Float64
	if len(precision) > 0 {
		prec = precision[0]
	}

	if props := os.Getenv("GRIDTENSOR_TEST_DEVICE"); props != "" {
		dev, err := device.Open(props, prec)
		if err != nil {
			panic(err)
		}
		return dev
	}

	backends := []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	}
	for _, props := range backends {
		dev, err := device.Open(props, prec)
		if err == nil {
			fmt.Printf("Created %s Device\n", dev.Mode())
			return dev
		}
	}

	// Should not reach here
	panic("Failed to create any Device")
}
