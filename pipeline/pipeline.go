// Package pipeline runs one batch evaluation: build the domain and the
// reference initial state, scatter the model input, run the surrogate,
// gather its output, compute the reference solution and persist the fields.
package pipeline

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/notargets/gridtensor/compare"
	"github.com/notargets/gridtensor/config"
	"github.com/notargets/gridtensor/device"
	"github.com/notargets/gridtensor/domain"
	"github.com/notargets/gridtensor/exchange"
	"github.com/notargets/gridtensor/field"
	"github.com/notargets/gridtensor/index"
	"github.com/notargets/gridtensor/kinetics"
	"github.com/notargets/gridtensor/logger"
	"github.com/notargets/gridtensor/store"
	"github.com/notargets/gridtensor/surrogate"
	"github.com/notargets/gridtensor/tensor"
)

// Store bucket names
const (
	BucketInput      = "input"
	BucketOutput     = "output"
	BucketSolution   = "solution"
	BucketDerivative = "derivative"
)

// Pipeline holds the collaborators of a run. Unset collaborators are built
// from the configuration.
type Pipeline struct {
	Config *config.Config
	Logger logger.Logger

	Model      surrogate.Model
	Integrator kinetics.Integrator
	// Device is used instead of opening one from the configuration
	Device  *device.Device
	Metrics *Metrics
}

// Result is everything a run produced
type Result struct {
	RunID  string
	Domain *domain.Domain

	Input      *field.Field
	Output     *field.Field
	Solution   *field.Field
	Derivative *field.Field

	OutputChecksum uint64
	// Report is nil when the model output and the reference solution have
	// different channel counts
	Report *compare.Report
}

func New(cfg *config.Config, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NopLogger
	}
	return &Pipeline{Config: cfg, Logger: log, Metrics: NewMetrics()}
}

// Run executes every stage. Nothing is persisted unless all stages succeed.
func (p *Pipeline) Run() (*Result, error) {
	cfg := p.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if p.Metrics == nil {
		p.Metrics = NewMetrics()
	}
	res := &Result{RunID: uuid.New().String()}
	log := p.Logger.WithPrefix(fmt.Sprintf("[%s] ", res.RunID[:8]))
	log.Infof("run %s starting", res.RunID)

	// Domain and exchange
	start := time.Now()
	strategy, _ := domain.ParseStrategy(cfg.Strategy)
	d, err := domain.Decompose(cfg.Dims, domain.Cube(cfg.Dims, cfg.NCell), cfg.MaxGridSize,
		cfg.NumWorkers(), strategy)
	if err != nil {
		return nil, err
	}
	br, err := index.New(d)
	if err != nil {
		return nil, err
	}
	res.Domain = d
	ex := exchange.New(br, cfg.TileSize)
	log.Infof("domain %v, largest block %d cells", d, d.MaxBlockCells())
	p.Metrics.observe("decompose", start)

	dev, err := p.openDevice(log)
	if err != nil {
		return nil, err
	}
	if dev != nil {
		if p.Device == nil {
			defer dev.Free()
		}
		ex.WithDevice(dev, cfg.Device.Native)
	}

	// Reference initial state and model input
	start = time.Now()
	integrator := p.Integrator
	if integrator == nil {
		integrator = kinetics.NewAlphaChain()
	}
	ad := kinetics.NewAdapter(d, integrator)
	ad.Uniform, ad.Gradient = cfg.Problem.Uniform, cfg.Problem.Gradient
	ad.Norm = kinetics.Norm{Dens: cfg.Problem.DensNorm, Temp: cfg.Problem.TempNorm, Enuc: cfg.Problem.EnucNorm}
	st, err := ad.Initialize(cfg.Problem.Density, cfg.Problem.Temperature, cfg.Composition(),
		cfg.Problem.EndTime)
	if err != nil {
		return nil, fmt.Errorf("initializing state: %w", err)
	}
	if res.Input, err = ad.Input(st); err != nil {
		return nil, err
	}
	p.Metrics.observe("initialize", start)

	model, err := p.loadModel()
	if err != nil {
		return nil, err
	}

	// Scatter straight into the memory space the model computes in
	start = time.Now()
	loc := model.Location()
	if dev != nil && loc == tensor.Host {
		log.Infof("model computes on the host, %s device left idle", dev.Mode())
	}
	in, err := ex.ScatterTo(res.Input, loc)
	if err != nil {
		return nil, fmt.Errorf("scatter: %w", err)
	}
	defer in.Free()
	inBytes := uint64(in.Len()) * elemBytes(in.Location(), dev)
	p.Metrics.Cells.Add(float64(in.Rows))
	p.Metrics.TransferBytes.WithLabelValues("scatter").Add(float64(inBytes))
	p.Metrics.observe("scatter", start)
	log.Infof("scattered %d cells × %d channels (%s) to %s", in.Rows, in.Cols,
		humanize.IBytes(inBytes), in.Location())

	// Inference
	start = time.Now()
	iv := &surrogate.Invoker{Model: model, Bridge: br, Device: dev, OutputChannels: cfg.OutputChannels}
	out, err := iv.Invoke(in)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	p.Metrics.observe("inference", start)
	if res.OutputChecksum, err = out.Checksum(); err != nil {
		return nil, err
	}
	log.Infof("model output %d × %d, checksum %016x", out.Rows, out.Cols, res.OutputChecksum)
	if cfg.Output.Preview > 0 {
		log.Infof("first rows of model output:\n%s", out.Preview(cfg.Output.Preview))
	}

	// Gather
	start = time.Now()
	if res.Output, err = ex.GatherNew(out); err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	p.Metrics.TransferBytes.WithLabelValues("gather").Add(float64(uint64(out.Len()) * elemBytes(loc, dev)))
	p.Metrics.observe("gather", start)

	// Reference solution
	start = time.Now()
	if res.Solution, err = ad.Solution(st); err != nil {
		return nil, fmt.Errorf("reference solution: %w", err)
	}
	if res.Derivative, err = ad.Derivative(st); err != nil {
		return nil, fmt.Errorf("reference derivative: %w", err)
	}
	p.Metrics.observe("reference", start)

	if res.Output.Channels == res.Solution.Channels {
		names := append(append([]string(nil), integrator.Species()...), "enuc")
		if res.Report, err = compare.Fields(res.Output, res.Solution, names...); err != nil {
			return nil, err
		}
		log.Infof("surrogate vs reference:\n%s", res.Report)
	} else {
		log.Warnf("model output has %d channels, reference has %d: skipping comparison",
			res.Output.Channels, res.Solution.Channels)
	}

	if err = p.persist(res, log); err != nil {
		return nil, err
	}
	if cfg.Output.Metrics != "" {
		if err = p.Metrics.WriteTextfile(cfg.Output.Metrics); err != nil {
			return nil, fmt.Errorf("writing metrics: %w", err)
		}
	}
	log.Infof("run %s done", res.RunID)
	return res, nil
}

// elemBytes is the size of one tensor element in the given memory space
func elemBytes(loc tensor.Location, dev *device.Device) uint64 {
	if loc == tensor.Device && dev != nil {
		return uint64(dev.Precision.Size())
	}
	return 8
}

func (p *Pipeline) openDevice(log logger.Logger) (*device.Device, error) {
	if p.Device != nil {
		return p.Device, nil
	}
	props := p.Config.DeviceProps()
	if props == "" {
		return nil, nil
	}
	prec, err := device.ParsePrecision(p.Config.Device.Precision)
	if err != nil {
		return nil, err
	}
	dev, err := device.Open(props, prec)
	if err != nil {
		return nil, err
	}
	log.Infof("using %s device, %s precision", dev.Mode(), dev.Precision)
	return dev, nil
}

func (p *Pipeline) loadModel() (surrogate.Model, error) {
	if p.Model != nil {
		return p.Model, nil
	}
	return surrogate.LoadMLP(p.Config.ModelFile)
}

// persist writes all fields in one transaction
func (p *Pipeline) persist(res *Result, log logger.Logger) error {
	path := p.Config.Output.Store
	if path == "" {
		return nil
	}
	start := time.Now()
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	attrs := map[string]any{"run_id": res.RunID}
	err = s.Save(
		store.Entry{Name: BucketInput, Field: res.Input, Attrs: attrs},
		store.Entry{Name: BucketOutput, Field: res.Output, Attrs: attrs},
		store.Entry{Name: BucketSolution, Field: res.Solution, Attrs: attrs},
		store.Entry{Name: BucketDerivative, Field: res.Derivative, Attrs: attrs},
	)
	if err != nil {
		return err
	}
	p.Metrics.observe("persist", start)
	var size uint64
	for _, f := range []*field.Field{res.Input, res.Output, res.Solution, res.Derivative} {
		size += uint64(len(f.Data)) * 8
	}
	log.Infof("wrote %s of fields to %s", humanize.IBytes(size), path)
	return nil
}
