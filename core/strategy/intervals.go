package strategy

import (
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"forecast-reconcile/internal/errors"
)

// quantileProbs maps sorted confidence levels to the probability grid
// of the emitted quantiles: lower bounds in descending level order
// followed by upper bounds in ascending level order, which is ascending
// probability order.
func quantileProbs(level []float64) []float64 {
	sorted := append([]float64(nil), level...)
	sort.Float64s(sorted)
	probs := make([]float64, 0, 2*len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		probs = append(probs, 0.5-sorted[i]/200)
	}
	for _, lv := range sorted {
		probs = append(probs, 0.5+lv/200)
	}
	return probs
}

// reconciledSigma propagates the base error term through a strategy's
// projection matrix M: sigma_rec = sqrt((M o M) sigma^2), the diagonal
// of the reconciled covariance under independent base errors.
func reconciledSigma(proj, sigmah *mat.Dense) *mat.Dense {
	n, _ := proj.Dims()
	_, horizon := sigmah.Dims()
	out := mat.NewDense(n, horizon, nil)
	for i := 0; i < n; i++ {
		for t := 0; t < horizon; t++ {
			var v float64
			for j := 0; j < n; j++ {
				m := proj.At(i, j)
				s := sigmah.At(j, t)
				v += m * m * s * s
			}
			if v < 0 {
				v = 0
			}
			out.Set(i, t, math.Sqrt(v))
		}
	}
	return out
}

// normalityQuantiles builds the quantile block under the normal-error
// assumption: mean + z(p) * sigma_rec for each probability on the grid.
func normalityQuantiles(mean, sigmaRec *mat.Dense, level []float64) *mat.Dense {
	probs := quantileProbs(level)
	norm := distuv.Normal{Mu: 0, Sigma: 1}
	n, horizon := mean.Dims()
	out := mat.NewDense(n*horizon, len(probs), nil)
	for j, p := range probs {
		z := norm.Quantile(p)
		for i := 0; i < n; i++ {
			for t := 0; t < horizon; t++ {
				out.Set(i*horizon+t, j, mean.At(i, t)+z*sigmaRec.At(i, t))
			}
		}
	}
	return out
}

// bootstrapSamples draws coherent samples by adding resampled in-sample
// residual columns to the base forecast and projecting the result. The
// returned matrix has one row per (series, timestamp) and one column
// per sample.
func bootstrapSamples(proj, yHat, residuals *mat.Dense, numSamples int, rng *rand.Rand) *mat.Dense {
	n, horizon := yHat.Dims()
	_, obs := residuals.Dims()
	out := mat.NewDense(n*horizon, numSamples, nil)
	base := mat.NewDense(n, horizon, nil)
	rec := mat.NewDense(n, horizon, nil)
	for s := 0; s < numSamples; s++ {
		for t := 0; t < horizon; t++ {
			c := rng.Intn(obs)
			for i := 0; i < n; i++ {
				base.Set(i, t, yHat.At(i, t)+residuals.At(i, c))
			}
		}
		rec.Mul(proj, base)
		for i := 0; i < n; i++ {
			for t := 0; t < horizon; t++ {
				out.Set(i*horizon+t, s, rec.At(i, t))
			}
		}
	}
	return out
}

// empiricalQuantiles collapses a sample block into quantile columns at
// the level grid's probabilities.
func empiricalQuantiles(samples *mat.Dense, level []float64) *mat.Dense {
	probs := quantileProbs(level)
	rows, numSamples := samples.Dims()
	out := mat.NewDense(rows, len(probs), nil)
	buf := make([]float64, numSamples)
	for r := 0; r < rows; r++ {
		copy(buf, samples.RawRowView(r))
		sort.Float64s(buf)
		for j, p := range probs {
			out.Set(r, j, stat.Quantile(p, stat.Empirical, buf, nil))
		}
	}
	return out
}

// normalitySamples draws coherent samples by perturbing the reconciled
// bottom-level means with normal noise and aggregating through S, which
// keeps every draw coherent by construction.
func normalitySamples(S mat.Matrix, mean, sigmaRec *mat.Dense, idxBottom []int, numSamples int, rng *rand.Rand) *mat.Dense {
	n, horizon := mean.Dims()
	k := len(idxBottom)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	bottom := mat.NewDense(k, horizon, nil)
	full := mat.NewDense(n, horizon, nil)
	out := mat.NewDense(n*horizon, numSamples, nil)
	for s := 0; s < numSamples; s++ {
		for c, b := range idxBottom {
			for t := 0; t < horizon; t++ {
				bottom.Set(c, t, mean.At(b, t)+sigmaRec.At(b, t)*norm.Rand())
			}
		}
		full.Mul(S, bottom)
		for i := 0; i < n; i++ {
			for t := 0; t < horizon; t++ {
				out.Set(i*horizon+t, s, full.At(i, t))
			}
		}
	}
	return out
}

// intervalState carries everything needed to produce quantiles and
// samples after fitting
type intervalState struct {
	method    IntervalsMethod
	S         mat.Matrix
	proj      *mat.Dense
	mean      *mat.Dense
	sigmaRec  *mat.Dense
	residuals *mat.Dense
	yHat      *mat.Dense
	idxBottom []int
	rng       *rand.Rand
}

// newIntervalState validates the interval inputs for the chosen method
// and captures the state needed for quantiles and later sampling.
func newIntervalState(in *Inputs, proj, mean *mat.Dense) (*intervalState, error) {
	st := &intervalState{
		method:    in.IntervalsMethod,
		proj:      proj,
		mean:      mean,
		yHat:      in.YHat,
		idxBottom: in.IdxBottom,
		rng:       rand.New(rand.NewSource(in.Seed)),
	}
	if in.S != nil {
		st.S = in.S
	} else if in.SSparse != nil {
		st.S = in.SSparse
	}

	switch in.IntervalsMethod {
	case Normality:
		if in.SigmaH == nil {
			return nil, errors.Capability("normality intervals require an implied error term")
		}
		st.sigmaRec = reconciledSigma(proj, in.SigmaH)
	case Bootstrap:
		if in.YInsample == nil || in.YHatInsample == nil {
			return nil, errors.Capability("bootstrap intervals require in-sample values for the model")
		}
		n, obs := in.YInsample.Dims()
		res := mat.NewDense(n, obs, nil)
		res.Sub(in.YInsample, in.YHatInsample)
		st.residuals = res
	case PERMBU:
		return nil, errors.Capability("permbu intervals are not supported by the reference strategies")
	default:
		return nil, errors.Configf("unknown interval method: %s", in.IntervalsMethod)
	}
	return st, nil
}

// quantiles produces the quantile block for the requested levels
func (st *intervalState) quantiles(level []float64, refSamples int) (*mat.Dense, error) {
	switch st.method {
	case Normality:
		return normalityQuantiles(st.mean, st.sigmaRec, level), nil
	case Bootstrap:
		samples := bootstrapSamples(st.proj, st.yHat, st.residuals, refSamples, st.rng)
		return empiricalQuantiles(samples, level), nil
	}
	return nil, errors.Configf("unknown interval method: %s", st.method)
}

// sample draws numSamples coherent samples from the fitted state
func (st *intervalState) sample(numSamples int) (*mat.Dense, error) {
	switch st.method {
	case Normality:
		return normalitySamples(st.S, st.mean, st.sigmaRec, st.idxBottom, numSamples, st.rng), nil
	case Bootstrap:
		return bootstrapSamples(st.proj, st.yHat, st.residuals, numSamples, st.rng), nil
	}
	return nil, errors.Configf("unknown interval method: %s", st.method)
}
