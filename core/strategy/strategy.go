// Package strategy defines the capability contract every reconciliation
// strategy implements, the canonical display-name derivation used for
// output columns, and reference strategies (BottomUp, TopDown,
// MinTrace) exercising the contract end to end.
//
// A strategy is polymorphic over which inputs it consumes: the
// orchestrator builds the full input set once and each strategy selects
// its subset internally. Strategies may hold transient fitted state
// between Fit and subsequent Predict/Sample calls within a single
// (strategy, model) iteration; that state is discarded afterwards.
package strategy

import (
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// IntervalsMethod selects how prediction intervals are derived
type IntervalsMethod string

const (
	// Normality derives intervals from a normal-error assumption
	Normality IntervalsMethod = "normality"

	// Bootstrap derives intervals by resampling in-sample residuals
	Bootstrap IntervalsMethod = "bootstrap"

	// PERMBU derives intervals by permuting bottom-up samples
	PERMBU IntervalsMethod = "permbu"
)

// Valid reports whether the method belongs to the closed supported set
func (m IntervalsMethod) Valid() bool {
	switch m {
	case Normality, Bootstrap, PERMBU:
		return true
	}
	return false
}

// RequiresInsample reports whether the method resamples history
func (m IntervalsMethod) RequiresInsample() bool {
	return m == Bootstrap || m == PERMBU
}

// DistributionBased reports whether the method relies on a
// normal-distribution assumption and therefore needs an error term
func (m IntervalsMethod) DistributionBased() bool {
	return m == Normality || m == PERMBU
}

// Inputs is the full set of quantities the orchestrator can provide.
// Each strategy consumes only the subset its algorithm declares; unused
// quantities are simply ignored.
type Inputs struct {
	// S is the dense summing matrix (series x bottom); nil for sparse
	// strategies
	S *mat.Dense

	// SSparse is the compressed sparse row summing matrix; set only for
	// strategies declaring sparse use
	SSparse *sparse.CSR

	// YHat is the base point-forecast matrix (series x horizon)
	YHat *mat.Dense

	// YInsample is the realized-history matrix; nil without history
	YInsample *mat.Dense

	// YHatInsample is the model's fitted-history matrix; nil when the
	// model has no history column
	YHatInsample *mat.Dense

	// SigmaH is the implied forecast standard error; set only when
	// levels are requested under a distribution-based interval method
	SigmaH *mat.Dense

	// IdxBottom holds the positional indices of the bottom-level rows
	IdxBottom []int

	// Tags maps each hierarchy level to the positional indices of its
	// member rows
	Tags map[string][]int

	// IntervalsMethod is the requested interval derivation
	IntervalsMethod IntervalsMethod

	// NumSamples is the reference sample count for interval derivation
	NumSamples int

	// Seed drives any randomized interval derivation
	Seed uint64
}

// Result holds a strategy's output for one (strategy, model) pair
type Result struct {
	// Mean is the reconciled point forecast (series x horizon)
	Mean *mat.Dense

	// Quantiles holds one row per (series, timestamp) in row-major
	// order and one column per requested quantile, columns ordered by
	// ascending probability; nil when no levels were requested
	Quantiles *mat.Dense
}

// Fitted is the transient state retained between a Fit call and the
// Predict/Sample calls of the same iteration
type Fitted interface {
	// Predict computes the reconciled mean and, when levels are given,
	// quantiles from the fitted state
	Predict(S mat.Matrix, yHat *mat.Dense, level []float64) (*Result, error)

	// Sample draws coherent probabilistic samples from the fitted
	// state, one row per (series, timestamp), one column per sample
	Sample(numSamples int) (*mat.Dense, error)
}

// Reconciler is the uniform capability contract every reconciliation
// strategy implements
type Reconciler interface {
	// MethodName returns the strategy's type name
	MethodName() string

	// Params enumerates the strategy's configuration parameters in
	// declaration order, for display-name derivation
	Params() []Param

	// RequiresInsample reports whether the strategy needs history
	RequiresInsample() bool

	// IsSparse reports whether the strategy operates on a sparse
	// hierarchy matrix
	IsSparse() bool

	// FitPredict is the stateless path: a single combined call
	// returning the mean and, when levels are given, quantiles, with no
	// retained state
	FitPredict(in *Inputs, level []float64) (*Result, error)

	// Fit is the stateful path, used when extra samples are requested
	// beyond quantiles
	Fit(in *Inputs) (Fitted, error)
}
