// Package config holds the run configuration and its command line flags.
package config

import (
	"fmt"
	"runtime"

	"github.com/notargets/gridtensor/device"
	"github.com/notargets/gridtensor/domain"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config represents the configuration of one batch run.
type Config struct {
	// Dims is the domain dimensionality, 2 or 3.
	Dims int `toml:"dims"`
	// NCell is the number of cells along every axis.
	NCell int `toml:"n-cell"`
	// MaxGridSize bounds the edge length of a block.
	MaxGridSize int `toml:"max-grid-size"`
	// TileSize bounds the edge of the tiles a worker iterates over. Zero
	// visits whole blocks.
	TileSize int `toml:"tile-size"`
	// Workers is the number of block owners; zero means one per CPU.
	Workers int `toml:"workers"`
	// Strategy assigns blocks to workers: block, roundrobin or morton.
	Strategy string `toml:"strategy"`

	// ModelFile is the JSON artifact of a dense surrogate network.
	ModelFile string `toml:"model-file"`
	// OutputChannels is the expected model output width; zero accepts any.
	OutputChannels int `toml:"output-channels"`

	Verbose bool `toml:"verbose"`

	Problem struct {
		Density     float64 `toml:"density"`
		Temperature float64 `toml:"temperature"`
		// XHe is the He4 mass fraction; the rest is C12.
		XHe     float64 `toml:"xhe"`
		EndTime float64 `toml:"end-time"`
		// Uniform disables the temperature ramp along the first axis.
		Uniform  bool    `toml:"uniform"`
		Gradient float64 `toml:"gradient"`
		// Divisors applied to the density and temperature input channels
		// and the energy output channel. Zero leaves a channel unscaled.
		DensNorm float64 `toml:"dens-norm"`
		TempNorm float64 `toml:"temp-norm"`
		EnucNorm float64 `toml:"enuc-norm"`
	} `toml:"problem"`

	Device struct {
		// Mode is an OCCA backend (serial, openmp, cuda, hip, opencl). Empty
		// runs on the host only.
		Mode      string `toml:"mode"`
		ID        int    `toml:"id"`
		Precision string `toml:"precision"`
		// Native scatters and gathers with device kernels.
		Native bool `toml:"native"`
	} `toml:"device"`

	Output struct {
		Store   string `toml:"store"`
		Metrics string `toml:"metrics"`
		Preview int    `toml:"preview"`
	} `toml:"output"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	c := &Config{
		Dims:        3,
		NCell:       128,
		MaxGridSize: 32,
		Strategy:    domain.SpaceFillingCurve.String(),
		ModelFile:   "model.json",
	}
	c.Problem.Density = 1e8
	c.Problem.Temperature = 4e8
	c.Problem.XHe = 1.0
	c.Problem.EndTime = 1e-6
	c.Problem.Uniform = true
	c.Problem.Gradient = 1.0
	c.Device.Precision = device.Float64.String()
	c.Output.Store = "gridtensor.db"
	c.Output.Preview = 5
	return c
}

// Validate checks values that cannot be caught by flag parsing.
func (c *Config) Validate() error {
	switch {
	case c.Dims != 2 && c.Dims != 3:
		return fmt.Errorf("dims must be 2 or 3, got %d", c.Dims)
	case c.NCell < 1:
		return fmt.Errorf("n-cell must be positive, got %d", c.NCell)
	case c.MaxGridSize < 1:
		return fmt.Errorf("max-grid-size must be positive, got %d", c.MaxGridSize)
	case c.TileSize < 0:
		return fmt.Errorf("tile-size must not be negative, got %d", c.TileSize)
	case c.Workers < 0:
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	case c.OutputChannels < 0:
		return fmt.Errorf("output-channels must not be negative, got %d", c.OutputChannels)
	case c.ModelFile == "":
		return fmt.Errorf("model-file is required")
	case c.Problem.Density <= 0 || c.Problem.Temperature <= 0:
		return fmt.Errorf("density and temperature must be positive")
	case c.Problem.XHe < 0 || c.Problem.XHe > 1:
		return fmt.Errorf("xhe must be in [0, 1], got %g", c.Problem.XHe)
	case c.Problem.EndTime < 0:
		return fmt.Errorf("end-time must not be negative, got %g", c.Problem.EndTime)
	case c.Problem.DensNorm < 0 || c.Problem.TempNorm < 0 || c.Problem.EnucNorm < 0:
		return fmt.Errorf("normalization factors must not be negative")
	}
	if _, err := domain.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if _, err := device.ParsePrecision(c.Device.Precision); err != nil {
		return err
	}
	if c.Device.Native && c.Device.Mode == "" {
		return fmt.Errorf("device.native requires device.mode")
	}
	return nil
}

// NumWorkers resolves a zero worker count to the CPU count
func (c *Config) NumWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Composition is the initial mass fractions [He4, C12]
func (c *Config) Composition() []float64 {
	return []float64{c.Problem.XHe, 1 - c.Problem.XHe}
}

// DeviceProps returns the OCCA properties of the configured device, or ""
// for host-only runs
func (c *Config) DeviceProps() string {
	if c.Device.Mode == "" {
		return ""
	}
	return device.Props(c.Device.Mode, c.Device.ID)
}

// Marshal encodes the configuration as TOML
func (c *Config) Marshal() ([]byte, error) {
	ret, err := toml.Marshal(*c)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling config")
	}
	return ret, nil
}

// Unmarshal decodes TOML over the current values
func (c *Config) Unmarshal(data []byte) error {
	return errors.Wrap(toml.Unmarshal(data, c), "unmarshalling config")
}

// BuildFlags registers one flag per option, defaulting to the current values.
// Nested options use dotted names matching their TOML tables.
func BuildFlags(flags *pflag.FlagSet, c *Config) {
	flags.IntVar(&c.Dims, "dims", c.Dims, "Domain dimensionality (2 or 3).")
	flags.IntVarP(&c.NCell, "n-cell", "n", c.NCell, "Number of cells along each axis.")
	flags.IntVar(&c.MaxGridSize, "max-grid-size", c.MaxGridSize, "Maximum block edge length.")
	flags.IntVar(&c.TileSize, "tile-size", c.TileSize, "Tile edge for worker iteration; 0 visits whole blocks.")
	flags.IntVarP(&c.Workers, "workers", "w", c.Workers, "Number of block owners; 0 uses one per CPU.")
	flags.StringVar(&c.Strategy, "strategy", c.Strategy, "Block ownership strategy: block, roundrobin or morton.")
	flags.StringVarP(&c.ModelFile, "model-file", "m", c.ModelFile, "Surrogate model artifact.")
	flags.IntVar(&c.OutputChannels, "output-channels", c.OutputChannels, "Expected model output channels; 0 accepts any.")
	flags.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "Enable debug logging.")

	flags.Float64Var(&c.Problem.Density, "problem.density", c.Problem.Density, "Initial density (g/cm^3).")
	flags.Float64Var(&c.Problem.Temperature, "problem.temperature", c.Problem.Temperature, "Initial temperature (K).")
	flags.Float64Var(&c.Problem.XHe, "problem.xhe", c.Problem.XHe, "Initial He4 mass fraction.")
	flags.Float64Var(&c.Problem.EndTime, "problem.end-time", c.Problem.EndTime, "Integration time (s).")
	flags.BoolVar(&c.Problem.Uniform, "problem.uniform", c.Problem.Uniform, "Use the same state in every cell.")
	flags.Float64Var(&c.Problem.Gradient, "problem.gradient", c.Problem.Gradient, "Relative temperature rise across the first axis when not uniform.")
	flags.Float64Var(&c.Problem.DensNorm, "problem.dens-norm", c.Problem.DensNorm, "Divide the density input channel by this; 0 disables.")
	flags.Float64Var(&c.Problem.TempNorm, "problem.temp-norm", c.Problem.TempNorm, "Divide the temperature input channel by this; 0 disables.")
	flags.Float64Var(&c.Problem.EnucNorm, "problem.enuc-norm", c.Problem.EnucNorm, "Divide the reference energy channel by this; 0 disables.")

	flags.StringVar(&c.Device.Mode, "device.mode", c.Device.Mode, "OCCA backend; empty runs on the host.")
	flags.IntVar(&c.Device.ID, "device.id", c.Device.ID, "Device id for GPU backends.")
	flags.StringVar(&c.Device.Precision, "device.precision", c.Device.Precision, "Device real type: float64 or float32.")
	flags.BoolVar(&c.Device.Native, "device.native", c.Device.Native, "Scatter and gather with device kernels.")

	flags.StringVarP(&c.Output.Store, "output.store", "o", c.Output.Store, "Field store file; empty skips persistence.")
	flags.StringVar(&c.Output.Metrics, "output.metrics", c.Output.Metrics, "Prometheus textfile to write; empty skips it.")
	flags.IntVar(&c.Output.Preview, "output.preview", c.Output.Preview, "Rows of model output to log.")
}
