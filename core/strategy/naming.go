package strategy

import (
	"strconv"
	"strings"
)

// Param is one enumerable configuration parameter of a strategy.
// Suppressed parameters are kept out of the canonical display name:
// the always-suppressed set (the history flag, the internal
// thread-count hint) and capability-specific suppressed defaults are
// marked by the strategy itself.
type Param struct {
	Name       string
	Value      string
	Suppressed bool
}

// FloatValue formats a float parameter value for display names
func FloatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// BoolValue formats a bool parameter value for display names
func BoolValue(v bool) string {
	return strconv.FormatBool(v)
}

// Name derives a strategy's canonical display name: the type name,
// followed by a "name-value" fragment per non-suppressed parameter in
// declaration order. The derivation is a pure function of the
// strategy's immutable configuration, so it is stable across fitting.
func Name(r Reconciler) string {
	name := r.MethodName()
	frags := make([]string, 0)
	for _, p := range r.Params() {
		if p.Suppressed {
			continue
		}
		frags = append(frags, p.Name+"-"+p.Value)
	}
	if len(frags) > 0 {
		name += "_" + strings.Join(frags, "_")
	}
	return name
}
