// Package reconcile drives pluggable reconciliation strategies across
// the cross-product of (strategy, model) pairs: it validates and aligns
// the tabular inputs against the hierarchy, extracts dense matrices,
// derives implied error terms, invokes each strategy through the
// uniform capability contract, and assembles the output frame with a
// deterministic naming scheme.
package reconcile

import (
	"forecast-reconcile/core/frame"
	"forecast-reconcile/core/strategy"
)

// Default column names
const (
	DefaultIDCol     = "unique_id"
	DefaultTimeCol   = "ds"
	DefaultTargetCol = "y"
	DefaultIDTimeCol = "temporal_id"
)

// Request carries one reconciliation call's inputs. The frames are
// caller-owned and never mutated; aligned copies are created
// internally.
type Request struct {
	// YHat is the base forecast panel: one row per (series, timestamp),
	// one numeric column per model, optionally pre-existing
	// quantile-interval and median companion columns
	YHat *frame.Frame

	// SDF is the hierarchy summing matrix with an id column and one
	// column per bottom-level series
	SDF *frame.Frame

	// S is the deprecated spelling of SDF. Setting both is an error.
	//
	// Deprecated: use SDF.
	S *frame.Frame

	// Tags maps each hierarchy level name to its member series ids
	Tags map[string][]string

	// Y is the optional history panel of realized target values
	Y *frame.Frame

	// Level lists the confidence levels for prediction intervals,
	// values in [0, 100)
	Level []float64

	// IntervalsMethod selects the interval derivation; defaults to
	// normality
	IntervalsMethod strategy.IntervalsMethod

	// NumSamples, when positive, requests that many probabilistic
	// coherent samples beyond the quantiles
	NumSamples int

	// Seed drives randomized interval derivation
	Seed uint64

	// IsBalanced marks the history panel as balanced, skipping the
	// pivot path
	IsBalanced bool

	// Temporal switches to temporal reconciliation, where the working
	// id becomes the composite temporal id
	Temporal bool

	// Column name overrides; empty values fall back to the defaults
	IDCol     string
	TimeCol   string
	TargetCol string
	IDTimeCol string
}

// applyDefaults fills unset column names and the interval method
func (r *Request) applyDefaults() {
	if r.IDCol == "" {
		r.IDCol = DefaultIDCol
	}
	if r.TimeCol == "" {
		r.TimeCol = DefaultTimeCol
	}
	if r.TargetCol == "" {
		r.TargetCol = DefaultTargetCol
	}
	if r.IDTimeCol == "" {
		r.IDTimeCol = DefaultIDTimeCol
	}
	if r.IntervalsMethod == "" {
		r.IntervalsMethod = strategy.Normality
	}
}
