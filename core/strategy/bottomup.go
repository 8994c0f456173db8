package strategy

import (
	"gonum.org/v1/gonum/mat"

	"forecast-reconcile/internal/errors"
)

// BottomUp reconciles by discarding every aggregate-level base forecast
// and re-aggregating the bottom-level ones through S. The projection is
// P = [0 | I].
type BottomUp struct{}

// NewBottomUp creates a bottom-up strategy
func NewBottomUp() *BottomUp {
	return &BottomUp{}
}

// MethodName returns the strategy's type name
func (b *BottomUp) MethodName() string { return "BottomUp" }

// Params enumerates the strategy's configuration parameters
func (b *BottomUp) Params() []Param { return nil }

// RequiresInsample reports whether the strategy needs history
func (b *BottomUp) RequiresInsample() bool { return false }

// IsSparse reports whether the strategy uses a sparse summing matrix
func (b *BottomUp) IsSparse() bool { return false }

// FitPredict reconciles in a single stateless call
func (b *BottomUp) FitPredict(in *Inputs, level []float64) (*Result, error) {
	proj, err := b.projection(in)
	if err != nil {
		return nil, err
	}
	return runFitPredict(in, proj, projectionMean(proj), level)
}

// Fit retains the projection for subsequent Predict and Sample calls
func (b *BottomUp) Fit(in *Inputs) (Fitted, error) {
	proj, err := b.projection(in)
	if err != nil {
		return nil, err
	}
	return &projectionFitted{in: in, proj: proj, meanFn: projectionMean(proj)}, nil
}

func (b *BottomUp) projection(in *Inputs) (*mat.Dense, error) {
	S, err := denseS(in)
	if err != nil {
		return nil, err
	}
	return bottomUpProjection(S, in.IdxBottom), nil
}

// BottomUpSparse is BottomUp operating on the compressed sparse row
// representation of the summing matrix. The reconciled mean is computed
// directly from the sparse matrix; the projection is densified only
// when interval output is requested.
type BottomUpSparse struct{}

// NewBottomUpSparse creates a sparse bottom-up strategy
func NewBottomUpSparse() *BottomUpSparse {
	return &BottomUpSparse{}
}

// MethodName returns the strategy's type name
func (b *BottomUpSparse) MethodName() string { return "BottomUpSparse" }

// Params enumerates the strategy's configuration parameters
func (b *BottomUpSparse) Params() []Param { return nil }

// RequiresInsample reports whether the strategy needs history
func (b *BottomUpSparse) RequiresInsample() bool { return false }

// IsSparse reports whether the strategy uses a sparse summing matrix
func (b *BottomUpSparse) IsSparse() bool { return true }

// FitPredict reconciles in a single stateless call
func (b *BottomUpSparse) FitPredict(in *Inputs, level []float64) (*Result, error) {
	if len(level) == 0 {
		mean, err := b.sparseMean(in)
		if err != nil {
			return nil, err
		}
		return &Result{Mean: mean}, nil
	}
	proj, err := b.projection(in)
	if err != nil {
		return nil, err
	}
	return runFitPredict(in, proj, projectionMean(proj), level)
}

// Fit retains the projection for subsequent Predict and Sample calls
func (b *BottomUpSparse) Fit(in *Inputs) (Fitted, error) {
	proj, err := b.projection(in)
	if err != nil {
		return nil, err
	}
	return &projectionFitted{in: in, proj: proj, meanFn: projectionMean(proj)}, nil
}

// sparseMean computes S yHat[bottom] without densifying S
func (b *BottomUpSparse) sparseMean(in *Inputs) (*mat.Dense, error) {
	if in.SSparse == nil {
		return nil, errors.Capability("sparse strategy requires a sparse summing matrix")
	}
	n, k := in.SSparse.Dims()
	_, horizon := in.YHat.Dims()
	bottom := mat.NewDense(k, horizon, nil)
	for c, idx := range in.IdxBottom {
		for t := 0; t < horizon; t++ {
			bottom.Set(c, t, in.YHat.At(idx, t))
		}
	}
	out := mat.NewDense(n, horizon, nil)
	out.Mul(in.SSparse, bottom)
	return out, nil
}

func (b *BottomUpSparse) projection(in *Inputs) (*mat.Dense, error) {
	S, err := denseS(in)
	if err != nil {
		return nil, err
	}
	return bottomUpProjection(S, in.IdxBottom), nil
}
