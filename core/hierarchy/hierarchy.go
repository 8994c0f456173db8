// Package hierarchy models the summing matrix S that expresses every
// series in a hierarchy (aggregate and bottom levels) as a sum of
// bottom-level series. S owns the canonical series ordering used by the
// whole pipeline; its trailing k rows must form the identity block that
// maps each bottom series to itself.
package hierarchy

import (
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"

	"forecast-reconcile/core/frame"
	"forecast-reconcile/internal/errors"
)

// identityTol is the tolerance for the bottom-identity check
const identityTol = 1e-8

// Spec is a validated summing matrix: an id column naming every series
// plus one numeric column per bottom-level series, rows ordered so that
// the bottom series appear last.
type Spec struct {
	S     *frame.Frame
	IDCol string
}

// BottomColumns returns the bottom-series column names, which are every
// column except the id column
func (s *Spec) BottomColumns() []string {
	cols := make([]string, 0, len(s.S.Columns())-1)
	for _, c := range s.S.Columns() {
		if c != s.IDCol {
			cols = append(cols, c)
		}
	}
	return cols
}

// IDs returns the series ids in hierarchy row order
func (s *Spec) IDs() []string {
	return s.S.Strings(s.IDCol)
}

// NumSeries returns the total series count (aggregate and bottom)
func (s *Spec) NumSeries() int {
	return s.S.NumRows()
}

// NumBottom returns the bottom-level series count
func (s *Spec) NumBottom() int {
	return len(s.S.Columns()) - 1
}

// Dense exports the summing matrix as a dense float64 matrix
func (s *Spec) Dense() *mat.Dense {
	return s.S.Dense(s.BottomColumns())
}

// CSR exports the summing matrix as a compressed sparse row matrix
func (s *Spec) CSR() (*sparse.CSR, error) {
	return s.S.CSR(s.BottomColumns())
}

// SparseSupported reports whether the backing frame can produce a
// sparse coordinate representation
func (s *Spec) SparseSupported() bool {
	return s.S.SparseSupported(s.BottomColumns())
}

// BottomIndices returns the positional indices of the bottom-level rows,
// which form the trailing block of the matrix
func (s *Spec) BottomIndices() []int {
	n := s.NumSeries()
	k := s.NumBottom()
	idx := make([]int, k)
	for i := 0; i < k; i++ {
		idx[i] = n - k + i
	}
	return idx
}

// TagIndices maps each tag group to the positional indices of the
// hierarchy rows whose id belongs to that group
func (s *Spec) TagIndices(tags map[string][]string) map[string][]int {
	ids := s.IDs()
	out := make(map[string][]int, len(tags))
	for key, members := range tags {
		member := make(map[string]bool, len(members))
		for _, m := range members {
			member[m] = true
		}
		idx := make([]int, 0, len(members))
		for i, id := range ids {
			if member[id] {
				idx = append(idx, i)
			}
		}
		out[key] = idx
	}
	return out
}

// CheckBottomIdentity verifies that the trailing k rows of S equal the
// identity matrix of order k
func (s *Spec) CheckBottomIdentity() error {
	k := s.NumBottom()
	n := s.NumSeries()
	if n < k {
		return errors.Structuralf("the hierarchy matrix has %d rows but %d bottom columns", n, k)
	}
	dense := s.Dense()
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			// NaN cells must fail the check too
			got := dense.At(n-k+i, j)
			if !scalar.EqualWithinAbs(got, want, identityTol) {
				return errors.Structuralf("the bottom %dx%d part of the hierarchy matrix must be an identity matrix", k, k)
			}
		}
	}
	return nil
}

// Restrict returns a Spec whose rows are limited to the given id set,
// preserving row order. This handles hierarchies defined once but
// reused across subsets.
func (s *Spec) Restrict(ids []string) *Spec {
	return &Spec{
		S:     s.S.FilterIn(s.IDCol, ids),
		IDCol: s.IDCol,
	}
}
