package reconcile

import (
	"math"
	"sort"
	"strings"

	"forecast-reconcile/core/frame"
	"forecast-reconcile/core/hierarchy"
	"forecast-reconcile/core/strategy"
	"forecast-reconcile/internal/errors"
)

// prepared holds the validator/aligner's output: aligned copies of the
// panels, the validated hierarchy, the resolved model names and the
// working id column.
type prepared struct {
	yHat   *frame.Frame
	spec   *hierarchy.Spec
	y      *frame.Frame
	models []string
	idCol  string
}

// prepare validates the three panels against the hierarchy definition
// and row-aligns them to the hierarchy's canonical order. The sequence
// matters for precise error attribution.
func (e *Engine) prepare(req *Request, sdf *frame.Frame) (*prepared, error) {
	idCol := req.IDCol
	idCols := []string{req.IDCol, req.TimeCol, req.TargetCol}

	// Temporal reconciliation is defined only for historyless
	// strategies over a composite temporal id.
	if req.Temporal {
		if req.Y != nil {
			return nil, errors.Config("temporal reconciliation requires no history panel")
		}
		for _, rec := range e.reconcilers {
			if rec.RequiresInsample() {
				return nil, errors.Configf("temporal reconciliation is not supported for %q", strategy.Name(rec))
			}
		}
		if req.IntervalsMethod.RequiresInsample() {
			return nil, errors.Configf("temporal reconciliation is not supported for intervals method %q", req.IntervalsMethod)
		}
		var missing []string
		for _, c := range []string{req.IDCol, req.TimeCol, req.IDTimeCol} {
			if !req.YHat.HasColumn(c) {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			return nil, errors.Structuralf(
				"temporal reconciliation requires columns [%s] in the forecast panel", strings.Join(missing, ", "))
		}
		if !sdf.HasColumn(req.IDTimeCol) {
			return nil, errors.Structuralf("the hierarchy matrix must carry the %q column", req.IDTimeCol)
		}
		idCols = append(idCols, req.IDTimeCol)
		idCol = req.IDTimeCol
	} else if !sdf.HasColumn(req.IDCol) {
		return nil, errors.Structuralf("the hierarchy matrix must carry the %q column", req.IDCol)
	}

	// Balanced-horizon check: every series must carry the same number
	// of forecast timestamps.
	counts := req.YHat.CountsBy(idCol)
	first := -1
	for _, c := range counts {
		if first == -1 {
			first = c
		} else if c != first {
			return nil, errors.Structural(
				"the forecast panel has missing timestamps; every series needs the same number of predictions")
		}
	}

	spec := &hierarchy.Spec{S: sdf, IDCol: idCol}

	// Row alignment: index every hierarchy row, join the index into the
	// panels, sort by (index, time), then drop the helper column.
	yHat := alignToHierarchy(req.YHat, spec, idCol, req.TimeCol)
	var y *frame.Frame
	if req.Y != nil {
		y = alignToHierarchy(req.Y, spec, idCol, req.TimeCol)
	}

	// Interval-method validity: a fixed closed set.
	if !req.IntervalsMethod.Valid() {
		return nil, errors.Configf("unknown interval method: %s", req.IntervalsMethod)
	}

	// Without history, history-requiring strategies and interval
	// methods are unusable.
	if y == nil {
		for _, rec := range e.reconcilers {
			if rec.RequiresInsample() {
				return nil, errors.Capabilityf("reconciler %q requires a history panel", strategy.Name(rec))
			}
		}
		if req.IntervalsMethod.RequiresInsample() {
			return nil, errors.Capabilityf("intervals method %q requires a history panel", req.IntervalsMethod)
		}
	}

	// Levels live in [0, 100) under distribution-based methods.
	if len(req.Level) > 0 && req.IntervalsMethod.DistributionBased() {
		for _, lv := range req.Level {
			if lv < 0 || lv >= 100 {
				return nil, errors.Config("levels must be floating values in the interval [0, 100)")
			}
		}
	}

	// Resolve forecastable model names: every column that is not an
	// id/time/target column and not a quantile-interval or median
	// companion to another model.
	isIDCol := make(map[string]bool, len(idCols))
	for _, c := range idCols {
		isIDCol[c] = true
	}
	var models []string
	for _, c := range yHat.Columns() {
		if isIDCol[c] {
			continue
		}
		if strings.Contains(c, "-lo") || strings.Contains(c, "-hi") || strings.Contains(c, "-median") {
			continue
		}
		models = append(models, c)
	}

	// Numeric/null validation on every resolved model column.
	for _, model := range models {
		if !yHat.IsNumeric(model) {
			return nil, errors.DataQualityf("column %q in the forecast panel contains non-numeric values", model)
		}
		if yHat.HasNull(model) {
			return nil, errors.DataQualityf("column %q in the forecast panel contains null values", model)
		}
	}

	// Residual-based interval methods need each model inside history.
	if req.IntervalsMethod.RequiresInsample() && y != nil {
		var missing []string
		for _, model := range models {
			if !y.HasColumn(model) {
				missing = append(missing, model)
			}
		}
		if len(missing) > 0 {
			return nil, errors.Capabilityf(
				"models [%s] must be columns of the history panel for intervals method %q",
				strings.Join(missing, ", "), req.IntervalsMethod)
		}
	}

	// Bottom-identity invariant on the hierarchy matrix.
	if err := spec.CheckBottomIdentity(); err != nil {
		return nil, err
	}

	// Bijective-id-set checks, each direction itemized separately.
	if err := checkIDSets(spec.IDs(), yHat.UniqueStrings(idCol), "hierarchy matrix", "forecast panel"); err != nil {
		return nil, err
	}
	if y != nil {
		if err := checkIDSets(y.UniqueStrings(idCol), yHat.UniqueStrings(idCol), "history panel", "forecast panel"); err != nil {
			return nil, err
		}
	}

	// Restrict the hierarchy to exactly the observed id set; hierarchies
	// are defined once but reused across subsets.
	spec = spec.Restrict(yHat.UniqueStrings(idCol))

	return &prepared{
		yHat:   yHat,
		spec:   spec,
		y:      y,
		models: models,
		idCol:  idCol,
	}, nil
}

// alignToHierarchy gives each hierarchy row a stable positional index,
// carries that index into the panel by id, sorts by (index, time) and
// drops the helper column. Panels are copied, never mutated in place.
func alignToHierarchy(panel *frame.Frame, spec *hierarchy.Spec, idCol, timeCol string) *frame.Frame {
	pos := make(map[string]float64, spec.NumSeries())
	for i, id := range spec.IDs() {
		pos[id] = float64(i)
	}
	helper := idCol + "_id"
	ids := panel.Strings(idCol)
	idx := make([]float64, len(ids))
	for i, id := range ids {
		if p, ok := pos[id]; ok {
			idx[i] = p
		} else {
			// unmatched ids surface in the bijectivity check; park them
			// at the end so alignment stays total
			idx[i] = math.MaxFloat64
		}
	}
	aligned := panel.WithFloatColumn(helper, idx).SortBy(helper, timeCol)
	return aligned.Drop(helper)
}

// checkIDSets reports each direction of an id-set mismatch as a
// distinct, itemized error
func checkIDSets(left, right []string, leftName, rightName string) error {
	leftSet := make(map[string]bool, len(left))
	for _, id := range left {
		leftSet[id] = true
	}
	rightSet := make(map[string]bool, len(right))
	for _, id := range right {
		rightSet[id] = true
	}

	var onlyLeft []string
	for _, id := range left {
		if !rightSet[id] {
			onlyLeft = append(onlyLeft, id)
		}
	}
	if len(onlyLeft) > 0 {
		sort.Strings(onlyLeft)
		return errors.Structuralf("there are ids in the %s that are not in the %s: [%s]",
			leftName, rightName, strings.Join(onlyLeft, ", "))
	}

	var onlyRight []string
	for _, id := range right {
		if !leftSet[id] {
			onlyRight = append(onlyRight, id)
		}
	}
	if len(onlyRight) > 0 {
		sort.Strings(onlyRight)
		return errors.Structuralf("there are ids in the %s that are not in the %s: [%s]",
			rightName, leftName, strings.Join(onlyRight, ", "))
	}
	return nil
}
