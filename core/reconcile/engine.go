package reconcile

import (
	"sort"
	"strconv"
	"time"

	"github.com/james-bowman/sparse"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"forecast-reconcile/core/extract"
	"forecast-reconcile/core/frame"
	"forecast-reconcile/core/sigma"
	"forecast-reconcile/core/strategy"
	"forecast-reconcile/internal/config"
	"forecast-reconcile/internal/errors"
	"forecast-reconcile/internal/logging"
)

// Engine drives the configured reconciliation strategies, in
// caller-declared order, across every resolved model. The per-call
// ledgers (execution times, emitted column names) are rebuilt fresh on
// every Reconcile call; no state survives between calls.
type Engine struct {
	reconcilers []strategy.Reconciler
	cfg         config.Config
	log         *zap.Logger

	// ExecutionTimes records the wall-clock duration of each strategy
	// invocation keyed by "{model}/{strategy display name}"
	ExecutionTimes map[string]time.Duration

	// LevelNames records the emitted quantile column names per pair
	LevelNames map[string][]string

	// SampleNames records the emitted sample column names per pair
	SampleNames map[string][]string
}

// Option configures an Engine
type Option func(*Engine)

// WithConfig overrides the engine default configuration
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger overrides the engine logger
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates an Engine over the given strategies. Strategy order is
// preserved in the output column order.
func New(reconcilers []strategy.Reconciler, opts ...Option) *Engine {
	e := &Engine{
		reconcilers: reconcilers,
		cfg:         config.Default(),
		log:         logging.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile validates and aligns the request's panels, then applies
// every configured strategy to every resolved model, returning the
// aligned forecast panel augmented with one mean column per (model,
// strategy) pair plus quantile and sample columns when requested.
//
// A strategy failure propagates as-is and aborts the whole batch; no
// partial result is returned.
func (e *Engine) Reconcile(req Request) (*frame.Frame, error) {
	req.applyDefaults()

	sdf := req.SDF
	if req.S != nil {
		if sdf != nil {
			return nil, errors.Config("both 'S' and 'SDF' were provided; use only 'SDF'")
		}
		e.log.Warn("the 'S' request field is deprecated and will be removed; use 'SDF' instead")
		sdf = req.S
	}
	if sdf == nil {
		return nil, errors.Config("a hierarchy matrix is required")
	}

	p, err := e.prepare(&req, sdf)
	if err != nil {
		return nil, err
	}

	// Shared strategy inputs, built once.
	idxBottom := p.spec.BottomIndices()
	tagIdx := p.spec.TagIndices(req.Tags)
	fill := e.cfg.FillValue()

	anySparse := false
	for _, rec := range e.reconcilers {
		if rec.IsSparse() {
			anySparse = true
			break
		}
	}
	var sCSR *sparse.CSR
	if anySparse {
		if !p.spec.SparseSupported() {
			return nil, errors.Capability(
				"one or more sparse reconciliation strategies are configured but the hierarchy matrix backend does not support sparse conversion")
		}
		sCSR, err = p.spec.CSR()
		if err != nil {
			return nil, err
		}
	}
	sDense := p.spec.Dense()

	var yInsample *mat.Dense
	if p.y != nil {
		yInsample, err = extract.Matrix(p.y, p.spec, req.TargetCol, req.TimeCol, req.IsBalanced, fill)
		if err != nil {
			return nil, err
		}
	}

	levels := append([]float64(nil), req.Level...)
	sort.Float64s(levels)

	out := p.yHat.Copy()
	e.ExecutionTimes = make(map[string]time.Duration)
	e.LevelNames = make(map[string][]string)
	e.SampleNames = make(map[string][]string)

	for _, rec := range e.reconcilers {
		recName := strategy.Name(rec)
		for _, model := range p.models {
			start := time.Now()
			key := model + "/" + recName

			in := &strategy.Inputs{
				IdxBottom: idxBottom,
				Tags:      tagIdx,
			}
			if rec.IsSparse() {
				in.SSparse = sCSR
			} else {
				in.S = sDense
			}

			yHat, err := extract.Matrix(p.yHat, p.spec, model, req.TimeCol, true, fill)
			if err != nil {
				return nil, err
			}
			in.YHat = yHat

			if p.y != nil {
				in.YInsample = yInsample
				if p.y.HasColumn(model) {
					yHatInsample, err := extract.Matrix(p.y, p.spec, model, req.TimeCol, req.IsBalanced, fill)
					if err != nil {
						return nil, err
					}
					in.YHatInsample = yHatInsample
				}
			}

			if len(levels) > 0 {
				in.IntervalsMethod = req.IntervalsMethod
				in.NumSamples = e.cfg.IntervalRefSamples
				in.Seed = req.Seed

				if req.IntervalsMethod.DistributionBased() {
					sigmah, err := sigma.Implied(p.yHat, yHat, model, sigma.Options{
						IDCol:      p.idCol,
						TimeCol:    req.TimeCol,
						TargetCol:  req.TargetCol,
						RefSamples: e.cfg.IntervalRefSamples,
					})
					if err != nil {
						return nil, err
					}
					in.SigmaH = sigmah
				}
			}

			// Stateful path only when post-hoc samples are requested on
			// top of quantiles; the stateless path has lower peak
			// memory.
			var res *strategy.Result
			var fitted strategy.Fitted
			if len(levels) > 0 && req.NumSamples > 0 {
				fitted, err = rec.Fit(in)
				if err != nil {
					return nil, err
				}
				var s mat.Matrix = in.S
				if rec.IsSparse() {
					s = in.SSparse
				}
				res, err = fitted.Predict(s, yHat, levels)
			} else {
				res, err = rec.FitPredict(in, levels)
			}
			if err != nil {
				return nil, err
			}

			out = out.WithFloatColumn(key, flatten(res.Mean))

			if len(levels) > 0 {
				names := quantileNames(key, levels)
				e.LevelNames[key] = names
				if res.Quantiles == nil {
					return nil, errors.Capabilityf("strategy %q returned no quantiles for the requested levels", recName)
				}
				for j, name := range names {
					out = out.WithFloatColumn(name, column(res.Quantiles, j))
				}

				if req.NumSamples > 0 {
					samples, err := fitted.Sample(req.NumSamples)
					if err != nil {
						return nil, err
					}
					sampleNames := make([]string, req.NumSamples)
					for i := 0; i < req.NumSamples; i++ {
						sampleNames[i] = key + "-sample-" + strconv.Itoa(i)
						out = out.WithFloatColumn(sampleNames[i], column(samples, i))
					}
					e.SampleNames[key] = sampleNames
				}
			}

			elapsed := time.Since(start)
			e.ExecutionTimes[key] = elapsed
			e.log.Debug("reconciled",
				zap.String("model", model),
				zap.String("strategy", recName),
				zap.Duration("elapsed", elapsed))
		}
	}

	if err := out.Err(); err != nil {
		return nil, errors.Internal("assembling the output frame", err)
	}
	return out, nil
}

// quantileNames emits lower-quantile names in descending level order
// followed by upper-quantile names in ascending level order, matching
// the ascending-probability column order of the quantile block
func quantileNames(key string, sortedLevels []float64) []string {
	names := make([]string, 0, 2*len(sortedLevels))
	for i := len(sortedLevels) - 1; i >= 0; i-- {
		names = append(names, key+"-lo-"+formatLevel(sortedLevels[i]))
	}
	for _, lv := range sortedLevels {
		names = append(names, key+"-hi-"+formatLevel(lv))
	}
	return names
}

func formatLevel(lv float64) string {
	return strconv.FormatFloat(lv, 'g', -1, 64)
}

// flatten lays a (series x horizon) matrix out in row-major order,
// which matches the aligned panel's (series, timestamp) row order
func flatten(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

// column copies one column of a matrix
func column(m *mat.Dense, j int) []float64 {
	rows, _ := m.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = m.At(i, j)
	}
	return out
}
