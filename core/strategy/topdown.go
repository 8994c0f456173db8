package strategy

import (
	"gonum.org/v1/gonum/mat"

	"forecast-reconcile/internal/errors"
)

// TopDown disaggregation methods
const (
	// ForecastProportions splits the top forecast by per-horizon base
	// forecast shares
	ForecastProportions = "forecast_proportions"

	// AverageProportions splits by the historical average of the
	// bottom/total ratio
	AverageProportions = "average_proportions"

	// ProportionAverages splits by the ratio of historical averages
	ProportionAverages = "proportion_averages"
)

// TopDown reconciles by distributing the top-level forecast down to the
// bottom series according to a proportion scheme, then re-aggregating
// through S. The historical schemes require in-sample values.
type TopDown struct {
	Method string
}

// NewTopDown creates a top-down strategy with the given method
func NewTopDown(method string) *TopDown {
	return &TopDown{Method: method}
}

// MethodName returns the strategy's type name
func (t *TopDown) MethodName() string { return "TopDown" }

// Params enumerates the strategy's configuration parameters
func (t *TopDown) Params() []Param {
	return []Param{{Name: "method", Value: t.Method}}
}

// RequiresInsample reports whether the strategy needs history
func (t *TopDown) RequiresInsample() bool {
	return t.Method != ForecastProportions
}

// IsSparse reports whether the strategy uses a sparse summing matrix
func (t *TopDown) IsSparse() bool { return false }

// FitPredict reconciles in a single stateless call
func (t *TopDown) FitPredict(in *Inputs, level []float64) (*Result, error) {
	proj, meanFn, err := t.build(in)
	if err != nil {
		return nil, err
	}
	return runFitPredict(in, proj, meanFn, level)
}

// Fit retains the projection for subsequent Predict and Sample calls
func (t *TopDown) Fit(in *Inputs) (Fitted, error) {
	proj, meanFn, err := t.build(in)
	if err != nil {
		return nil, err
	}
	return &projectionFitted{in: in, proj: proj, meanFn: meanFn}, nil
}

func (t *TopDown) build(in *Inputs) (*mat.Dense, meanFunc, error) {
	S, err := denseS(in)
	if err != nil {
		return nil, nil, err
	}
	top := topRowIndex(S)

	switch t.Method {
	case ForecastProportions:
		// Proportions vary by horizon, so the mean is computed per
		// horizon; the projection used for interval propagation is the
		// one implied by the horizon-averaged proportions.
		props, err := forecastProportions(in.YHat, in.IdxBottom)
		if err != nil {
			return nil, nil, err
		}
		meanFn := func(yHat *mat.Dense) (*mat.Dense, error) {
			p, err := forecastProportions(yHat, in.IdxBottom)
			if err != nil {
				return nil, err
			}
			return disaggregate(S, yHat, p, top), nil
		}
		return projectionFromP(S, averagedP(S, props, top)), meanFn, nil
	case AverageProportions, ProportionAverages:
		if in.YInsample == nil {
			return nil, nil, errors.Capabilityf("top-down method %q requires in-sample values", t.Method)
		}
		p, err := historicalProportions(in.YInsample, in.IdxBottom, top, t.Method)
		if err != nil {
			return nil, nil, err
		}
		_, horizon := in.YHat.Dims()
		props := constantProportions(p, horizon)
		meanFn := func(yHat *mat.Dense) (*mat.Dense, error) {
			return disaggregate(S, yHat, props, top), nil
		}
		return projectionFromP(S, averagedP(S, props, top)), meanFn, nil
	}
	return nil, nil, errors.Configf("unknown top-down method: %s", t.Method)
}

// topRowIndex locates the total series: the row of S with the largest
// aggregation weight
func topRowIndex(S *mat.Dense) int {
	n, k := S.Dims()
	best, bestSum := 0, 0.0
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < k; j++ {
			sum += S.At(i, j)
		}
		if sum > bestSum {
			best, bestSum = i, sum
		}
	}
	return best
}

// forecastProportions computes per-horizon bottom shares from the base
// forecasts themselves
func forecastProportions(yHat *mat.Dense, idxBottom []int) (*mat.Dense, error) {
	_, horizon := yHat.Dims()
	k := len(idxBottom)
	props := mat.NewDense(k, horizon, nil)
	for t := 0; t < horizon; t++ {
		var total float64
		for _, b := range idxBottom {
			total += yHat.At(b, t)
		}
		if total == 0 {
			return nil, errors.Structural("cannot derive forecast proportions: bottom forecasts sum to zero")
		}
		for c, b := range idxBottom {
			props.Set(c, t, yHat.At(b, t)/total)
		}
	}
	return props, nil
}

// historicalProportions computes constant bottom shares from history
func historicalProportions(yInsample *mat.Dense, idxBottom []int, top int, method string) ([]float64, error) {
	_, obs := yInsample.Dims()
	k := len(idxBottom)
	p := make([]float64, k)

	switch method {
	case AverageProportions:
		// mean over time of y_b(t) / y_top(t)
		for c, b := range idxBottom {
			var sum float64
			var count int
			for t := 0; t < obs; t++ {
				tot := yInsample.At(top, t)
				if tot == 0 {
					continue
				}
				sum += yInsample.At(b, t) / tot
				count++
			}
			if count == 0 {
				return nil, errors.Structural("cannot derive average proportions: total series is zero throughout history")
			}
			p[c] = sum / float64(count)
		}
	case ProportionAverages:
		// mean over time of y_b divided by mean over time of y_top
		var totMean float64
		for t := 0; t < obs; t++ {
			totMean += yInsample.At(top, t)
		}
		if totMean == 0 {
			return nil, errors.Structural("cannot derive proportion averages: total series sums to zero")
		}
		for c, b := range idxBottom {
			var sum float64
			for t := 0; t < obs; t++ {
				sum += yInsample.At(b, t)
			}
			p[c] = sum / totMean
		}
	}
	return p, nil
}

// constantProportions broadcasts a constant share vector across the
// horizon
func constantProportions(p []float64, horizon int) *mat.Dense {
	props := mat.NewDense(len(p), horizon, nil)
	for c, v := range p {
		for t := 0; t < horizon; t++ {
			props.Set(c, t, v)
		}
	}
	return props
}

// disaggregate splits the top forecast into bottom forecasts by the
// given shares and re-aggregates through S
func disaggregate(S, yHat, props *mat.Dense, top int) *mat.Dense {
	n, _ := S.Dims()
	k, horizon := props.Dims()
	bottom := mat.NewDense(k, horizon, nil)
	for c := 0; c < k; c++ {
		for t := 0; t < horizon; t++ {
			bottom.Set(c, t, props.At(c, t)*yHat.At(top, t))
		}
	}
	out := mat.NewDense(n, horizon, nil)
	out.Mul(S, bottom)
	return out
}

// averagedP builds the constant (bottom x series) P matrix implied by
// horizon-averaged proportions: every bottom share loads on the top row
func averagedP(S, props *mat.Dense, top int) *mat.Dense {
	n, _ := S.Dims()
	k, horizon := props.Dims()
	P := mat.NewDense(k, n, nil)
	for c := 0; c < k; c++ {
		var avg float64
		for t := 0; t < horizon; t++ {
			avg += props.At(c, t)
		}
		P.Set(c, top, avg/float64(horizon))
	}
	return P
}
