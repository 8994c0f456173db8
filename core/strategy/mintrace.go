package strategy

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"forecast-reconcile/internal/errors"
)

// MinTrace weighting methods
const (
	// MinTraceOLS weights every series equally
	MinTraceOLS = "ols"

	// MinTraceWLSStruct weights by structural aggregation counts
	MinTraceWLSStruct = "wls_struct"

	// MinTraceWLSVar weights by in-sample residual variances
	MinTraceWLSVar = "wls_var"

	// MinTraceShrink weights by the shrunk residual covariance
	MinTraceShrink = "mint_shrink"
)

// defaultShrinkRidge is the documented default ridge added to the
// shrunk covariance diagonal
const defaultShrinkRidge = 2e-8

// MinTrace reconciles with the trace-minimization projection
// P = (S' W^-1 S)^-1 S' W^-1 for a method-specific error covariance W.
type MinTrace struct {
	Method      string
	Nonnegative bool
	ShrinkRidge float64
	NumThreads  int
}

// NewMinTrace creates a trace-minimization strategy with the given
// weighting method and default parameters
func NewMinTrace(method string) *MinTrace {
	return &MinTrace{
		Method:      method,
		ShrinkRidge: defaultShrinkRidge,
		NumThreads:  1,
	}
}

// MethodName returns the strategy's type name
func (m *MinTrace) MethodName() string { return "MinTrace" }

// Params enumerates the strategy's configuration parameters in
// declaration order. The nonnegative flag is suppressed from the
// display name when false; the shrinkage ridge only exists for
// mint_shrink and is suppressed at its documented default; the thread
// hint is always suppressed.
func (m *MinTrace) Params() []Param {
	ps := []Param{
		{Name: "method", Value: m.Method},
		{Name: "nonnegative", Value: BoolValue(m.Nonnegative), Suppressed: !m.Nonnegative},
	}
	if m.Method == MinTraceShrink {
		ps = append(ps, Param{
			Name:       "mint_shr_ridge",
			Value:      FloatValue(m.ShrinkRidge),
			Suppressed: m.ShrinkRidge == defaultShrinkRidge,
		})
	}
	ps = append(ps, Param{Name: "num_threads", Value: strconv.Itoa(m.NumThreads), Suppressed: true})
	return ps
}

// RequiresInsample reports whether the strategy needs history
func (m *MinTrace) RequiresInsample() bool {
	return m.Method == MinTraceWLSVar || m.Method == MinTraceShrink
}

// IsSparse reports whether the strategy uses a sparse summing matrix
func (m *MinTrace) IsSparse() bool { return false }

// FitPredict reconciles in a single stateless call
func (m *MinTrace) FitPredict(in *Inputs, level []float64) (*Result, error) {
	proj, meanFn, err := m.build(in)
	if err != nil {
		return nil, err
	}
	return runFitPredict(in, proj, meanFn, level)
}

// Fit retains the projection for subsequent Predict and Sample calls
func (m *MinTrace) Fit(in *Inputs) (Fitted, error) {
	proj, meanFn, err := m.build(in)
	if err != nil {
		return nil, err
	}
	return &projectionFitted{in: in, proj: proj, meanFn: meanFn}, nil
}

func (m *MinTrace) build(in *Inputs) (*mat.Dense, meanFunc, error) {
	S, err := denseS(in)
	if err != nil {
		return nil, nil, err
	}

	P, err := m.solveP(S, in)
	if err != nil {
		return nil, nil, err
	}
	proj := projectionFromP(S, P)

	meanFn := projectionMean(proj)
	if m.Nonnegative {
		meanFn = func(yHat *mat.Dense) (*mat.Dense, error) {
			k, _ := P.Dims()
			_, horizon := yHat.Dims()
			bottom := mat.NewDense(k, horizon, nil)
			bottom.Mul(P, yHat)
			for c := 0; c < k; c++ {
				for t := 0; t < horizon; t++ {
					if bottom.At(c, t) < 0 {
						bottom.Set(c, t, 0)
					}
				}
			}
			n, _ := S.Dims()
			out := mat.NewDense(n, horizon, nil)
			out.Mul(S, bottom)
			return out, nil
		}
	}
	return proj, meanFn, nil
}

// solveP computes P = (S' W^-1 S)^-1 S' W^-1 without forming W^-1
// explicitly: the diagonal methods scale rows of S, mint_shrink solves
// against the Cholesky factor of W.
func (m *MinTrace) solveP(S *mat.Dense, in *Inputs) (*mat.Dense, error) {
	n, k := S.Dims()

	var winvS mat.Dense
	switch m.Method {
	case MinTraceOLS:
		winvS.CloneFrom(S)
	case MinTraceWLSStruct:
		winvS.CloneFrom(S)
		for i := 0; i < n; i++ {
			var weight float64
			for j := 0; j < k; j++ {
				weight += S.At(i, j)
			}
			if weight == 0 {
				return nil, errors.Structuralf("hierarchy row %d has no aggregation weight", i)
			}
			for j := 0; j < k; j++ {
				winvS.Set(i, j, S.At(i, j)/weight)
			}
		}
	case MinTraceWLSVar:
		variances, err := residualVariances(in)
		if err != nil {
			return nil, err
		}
		winvS.CloneFrom(S)
		for i := 0; i < n; i++ {
			if variances[i] <= 0 {
				return nil, errors.Structuralf("series %d has non-positive residual variance", i)
			}
			for j := 0; j < k; j++ {
				winvS.Set(i, j, S.At(i, j)/variances[i])
			}
		}
	case MinTraceShrink:
		W, err := shrunkCovariance(in, m.ShrinkRidge)
		if err != nil {
			return nil, err
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(W); !ok {
			return nil, errors.Structural("the shrunk residual covariance is not positive definite")
		}
		if err := chol.SolveTo(&winvS, S); err != nil {
			return nil, errors.Internal("solving W X = S", err)
		}
	default:
		return nil, errors.Configf("unknown min-trace method: %s", m.Method)
	}

	// A = S' W^-1 S is SPD; P solves A P = (W^-1 S)'
	var A mat.Dense
	A.Mul(S.T(), &winvS)
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sym.SetSym(i, j, (A.At(i, j)+A.At(j, i))/2)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, errors.Structural("S' W^-1 S is not positive definite")
	}
	var P mat.Dense
	if err := chol.SolveTo(&P, winvS.T()); err != nil {
		return nil, errors.Internal("solving for the min-trace projection", err)
	}
	return &P, nil
}

// residualVariances computes per-series in-sample residual variances,
// skipping missing observations
func residualVariances(in *Inputs) ([]float64, error) {
	res, err := residuals(in)
	if err != nil {
		return nil, err
	}
	n, obs := res.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		var count int
		for t := 0; t < obs; t++ {
			v := res.At(i, t)
			if math.IsNaN(v) {
				continue
			}
			sum += v * v
			count++
		}
		if count == 0 {
			return nil, errors.Structuralf("series %d has no observed residuals", i)
		}
		out[i] = sum / float64(count)
	}
	return out, nil
}

// residuals returns the in-sample residual matrix y - y_hat
func residuals(in *Inputs) (*mat.Dense, error) {
	if in.YInsample == nil || in.YHatInsample == nil {
		return nil, errors.Capability("min-trace variance methods require in-sample values for the model")
	}
	n, obs := in.YInsample.Dims()
	out := mat.NewDense(n, obs, nil)
	out.Sub(in.YInsample, in.YHatInsample)
	return out, nil
}

// shrunkCovariance estimates the residual covariance shrunk toward its
// diagonal with a Schafer-Strimmer intensity, plus a ridge on the
// diagonal for conditioning.
func shrunkCovariance(in *Inputs, ridge float64) (*mat.SymDense, error) {
	res, err := residuals(in)
	if err != nil {
		return nil, err
	}
	n, obs := res.Dims()
	if obs < 2 {
		return nil, errors.Structural("shrinkage estimation needs at least two in-sample observations")
	}

	means := make([]float64, n)
	counts := make([]int, n)
	for i := 0; i < n; i++ {
		for t := 0; t < obs; t++ {
			v := res.At(i, t)
			if math.IsNaN(v) {
				continue
			}
			means[i] += v
			counts[i]++
		}
		if counts[i] < 2 {
			return nil, errors.Structuralf("series %d has fewer than two observed residuals", i)
		}
		means[i] /= float64(counts[i])
	}

	cov := func(i, j int) float64 {
		var sum float64
		var count int
		for t := 0; t < obs; t++ {
			a, b := res.At(i, t), res.At(j, t)
			if math.IsNaN(a) || math.IsNaN(b) {
				continue
			}
			sum += (a - means[i]) * (b - means[j])
			count++
		}
		if count < 2 {
			return 0
		}
		return sum / float64(count-1)
	}

	sample := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sample.SetSym(i, j, cov(i, j))
		}
	}

	lambda := shrinkageIntensity(res, means, sample)

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (1 - lambda) * sample.At(i, j)
			if i == j {
				v = sample.At(i, i) + ridge
			}
			out.SetSym(i, j, v)
		}
	}
	return out, nil
}

// shrinkageIntensity estimates the Schafer-Strimmer shrinkage weight on
// the off-diagonal correlations, clamped to [0, 1]
func shrinkageIntensity(res *mat.Dense, means []float64, sample *mat.SymDense) float64 {
	n, obs := res.Dims()

	std := make([]float64, n)
	for i := 0; i < n; i++ {
		std[i] = math.Sqrt(sample.At(i, i))
		if std[i] == 0 {
			return 1
		}
	}

	var varSum, corSum float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// products of standardized residuals
			var wBar float64
			var count int
			for t := 0; t < obs; t++ {
				a, b := res.At(i, t), res.At(j, t)
				if math.IsNaN(a) || math.IsNaN(b) {
					continue
				}
				wBar += (a - means[i]) / std[i] * (b - means[j]) / std[j]
				count++
			}
			if count < 2 {
				continue
			}
			wBar /= float64(count)

			var wVar float64
			for t := 0; t < obs; t++ {
				a, b := res.At(i, t), res.At(j, t)
				if math.IsNaN(a) || math.IsNaN(b) {
					continue
				}
				w := (a-means[i])/std[i]*(b-means[j])/std[j] - wBar
				wVar += w * w
			}
			wVar *= float64(count) / math.Pow(float64(count-1), 3)

			rho := sample.At(i, j) / (std[i] * std[j])
			varSum += wVar
			corSum += rho * rho
		}
	}
	if corSum == 0 {
		return 1
	}
	lambda := varSum / corSum
	if lambda < 0 {
		return 0
	}
	if lambda > 1 {
		return 1
	}
	return lambda
}
