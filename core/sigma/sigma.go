// Package sigma reverse-engineers a per-series, per-horizon forecast
// standard error from a model's existing quantile-interval columns.
//
// It assumes the originating model produced its intervals under a
// normal-error assumption around the point forecast, i.e.
// y_hat + c * sigma_h. This is a bridging heuristic for models that
// expose intervals but not an error term, not a general-purpose
// interval estimator.
package sigma

import (
	"regexp"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"forecast-reconcile/core/frame"
	"forecast-reconcile/internal/errors"
)

// levelPattern extracts the numeral embedded in an interval column name
var levelPattern = regexp.MustCompile(`[\d]+[.,\d]+|[\d]*[.][\d]+|[\d]+`)

// Options controls interval-column discovery
type Options struct {
	IDCol      string
	TimeCol    string
	TargetCol  string
	RefSamples int
}

// Implied computes the implied standard error for one model as
// sign * (interval - y_hat) / z, where z is the inverse standard normal
// CDF evaluated at 0.5 + level/ref_samples. The sign follows the
// interval direction (lower intervals sit below the point forecast).
// A model without any interval column is a capability error.
func Implied(panel *frame.Frame, yHat *mat.Dense, modelName string, opts Options) (*mat.Dense, error) {
	dropCols := map[string]bool{
		opts.TimeCol:          true,
		modelName + "-median": true,
	}
	if panel.HasColumn(opts.TargetCol) {
		dropCols[opts.TargetCol] = true
	}

	var intervalCol string
	for _, c := range panel.Columns() {
		if dropCols[c] {
			continue
		}
		if !strings.Contains(c, "-lo") && !strings.Contains(c, "-hi") {
			continue
		}
		if strings.Contains(c, modelName) {
			intervalCol = c
			break
		}
	}
	if intervalCol == "" {
		return nil, errors.Capabilityf("include %q prediction intervals in the forecast panel", modelName)
	}

	sign := 1.0
	if strings.Contains(intervalCol, "lo") {
		sign = -1.0
	}

	matches := levelPattern.FindAllString(intervalCol, -1)
	if len(matches) == 0 {
		return nil, errors.Capabilityf("interval column %q does not embed a confidence level", intervalCol)
	}
	level, err := strconv.ParseFloat(matches[len(matches)-1], 64)
	if err != nil {
		return nil, errors.Capabilityf("interval column %q embeds an unparsable confidence level", intervalCol)
	}

	norm := distuv.Normal{Mu: 0, Sigma: 1}
	z := norm.Quantile(0.5 + level/float64(opts.RefSamples))

	nSeries := len(panel.UniqueStrings(opts.IDCol))
	vals := panel.Floats(intervalCol)
	if nSeries == 0 || len(vals)%nSeries != 0 {
		return nil, errors.Structuralf("interval column %q does not divide into %d series", intervalCol, nSeries)
	}
	horizon := len(vals) / nSeries

	out := mat.NewDense(nSeries, horizon, nil)
	for i := 0; i < nSeries; i++ {
		for t := 0; t < horizon; t++ {
			out.Set(i, t, sign*(vals[i*horizon+t]-yHat.At(i, t))/z)
		}
	}
	return out, nil
}
