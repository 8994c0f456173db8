// Package extract converts long-format (series, timestamp, value)
// panels into dense series-by-horizon matrices ordered to match the
// hierarchy's row order. The output contract is hard: a contiguous
// row-major float64 matrix, row i corresponding to hierarchy row i.
package extract

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"forecast-reconcile/core/frame"
	"forecast-reconcile/core/hierarchy"
	"forecast-reconcile/internal/errors"
)

// Matrix extracts the target column of a long-format panel as a dense
// (series count, horizon count) matrix.
//
// The balanced path assumes the panel is already aligned to the
// hierarchy row order with time ascending within each series, so a
// direct reshape suffices. The unbalanced path pivots the panel to one
// row per series (absent observations filled with the fill marker) and
// reorders rows via a sorted search against the hierarchy id order.
func Matrix(panel *frame.Frame, spec *hierarchy.Spec, target, timeCol string, balanced bool, fill float64) (*mat.Dense, error) {
	n := spec.NumSeries()
	if n == 0 {
		return nil, errors.Structural("the hierarchy matrix has no rows")
	}

	if balanced {
		vals := panel.Floats(target)
		if len(vals)%n != 0 {
			return nil, errors.Structuralf(
				"cannot reshape %d values of column %q into %d series of equal horizon", len(vals), target, n)
		}
		horizon := len(vals) / n
		out := mat.NewDense(n, horizon, nil)
		copy(out.RawMatrix().Data, vals)
		return out, nil
	}

	pivotIDs, pivoted := panel.Pivot(spec.IDCol, timeCol, target, fill)
	_, horizon := pivoted.Dims()

	// pivotIDs is sorted ascending, so a sorted search recovers each
	// hierarchy row's position even when the pivot row set does not
	// start aligned
	out := mat.NewDense(n, horizon, nil)
	for i, id := range spec.IDs() {
		pos := sort.SearchStrings(pivotIDs, id)
		if pos >= len(pivotIDs) || pivotIDs[pos] != id {
			return nil, errors.Structuralf("series %q is missing from the panel", id)
		}
		for t := 0; t < horizon; t++ {
			out.Set(i, t, pivoted.At(pos, t))
		}
	}
	return out, nil
}
