package strategy

import (
	"gonum.org/v1/gonum/mat"

	"forecast-reconcile/internal/errors"
)

// meanFunc computes a reconciled mean from a base forecast matrix
type meanFunc func(yHat *mat.Dense) (*mat.Dense, error)

// projectionMean is the common case: mean = M yHat
func projectionMean(proj *mat.Dense) meanFunc {
	return func(yHat *mat.Dense) (*mat.Dense, error) {
		n, _ := proj.Dims()
		_, horizon := yHat.Dims()
		out := mat.NewDense(n, horizon, nil)
		out.Mul(proj, yHat)
		return out, nil
	}
}

// projectionFitted is the Fitted implementation shared by the reference
// strategies: the projection matrix plus the inputs captured at fit
// time. Interval state is created on the first Predict call with levels
// and reused by Sample.
type projectionFitted struct {
	in     *Inputs
	proj   *mat.Dense
	meanFn meanFunc
	state  *intervalState
}

// Predict computes the reconciled mean and, when levels are given,
// quantiles from the fitted state
func (f *projectionFitted) Predict(S mat.Matrix, yHat *mat.Dense, level []float64) (*Result, error) {
	mean, err := f.meanFn(yHat)
	if err != nil {
		return nil, err
	}
	res := &Result{Mean: mean}
	if len(level) > 0 {
		st, err := newIntervalState(f.in, f.proj, mean)
		if err != nil {
			return nil, err
		}
		q, err := st.quantiles(level, f.in.NumSamples)
		if err != nil {
			return nil, err
		}
		f.state = st
		res.Quantiles = q
	}
	return res, nil
}

// Sample draws coherent samples from the state retained by Predict
func (f *projectionFitted) Sample(numSamples int) (*mat.Dense, error) {
	if f.state == nil {
		return nil, errors.Capability("sample requires a prior predict call with levels")
	}
	return f.state.sample(numSamples)
}

// runFitPredict implements the stateless path shared by the reference
// strategies: compute the mean and, when levels are given, derive
// quantiles without retaining any state.
func runFitPredict(in *Inputs, proj *mat.Dense, meanFn meanFunc, level []float64) (*Result, error) {
	mean, err := meanFn(in.YHat)
	if err != nil {
		return nil, err
	}
	res := &Result{Mean: mean}
	if len(level) > 0 {
		st, err := newIntervalState(in, proj, mean)
		if err != nil {
			return nil, err
		}
		q, err := st.quantiles(level, in.NumSamples)
		if err != nil {
			return nil, err
		}
		res.Quantiles = q
	}
	return res, nil
}

// denseS resolves the summing matrix provided in the inputs, densifying
// the sparse representation when that is the one supplied
func denseS(in *Inputs) (*mat.Dense, error) {
	if in.S != nil {
		return in.S, nil
	}
	if in.SSparse != nil {
		return mat.DenseCopyOf(in.SSparse), nil
	}
	return nil, errors.Capability("no summing matrix provided")
}

// bottomUpProjection builds M = S P with P = [0 | I]: column idxBottom[c]
// of M is column c of S
func bottomUpProjection(S *mat.Dense, idxBottom []int) *mat.Dense {
	n, k := S.Dims()
	M := mat.NewDense(n, n, nil)
	for c := 0; c < k; c++ {
		for i := 0; i < n; i++ {
			M.Set(i, idxBottom[c], S.At(i, c))
		}
	}
	return M
}

// projectionFromP builds M = S P for an arbitrary (bottom x series) P
func projectionFromP(S, P *mat.Dense) *mat.Dense {
	n, _ := S.Dims()
	M := mat.NewDense(n, n, nil)
	M.Mul(S, P)
	return M
}
