// Package frame is the tabular adapter the reconciliation engine works
// through. It wraps a gota DataFrame and exposes the operations the
// engine needs: column selection, join-by-index alignment, sorting,
// filter-by-membership, pivoting, vertical concatenation and export to
// dense or sparse numeric matrices.
package frame

import (
	"sort"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"forecast-reconcile/internal/errors"
)

// Frame wraps the backing dataframe. Frames are treated as immutable:
// every operation returns a new Frame and never mutates the receiver.
type Frame struct {
	df dataframe.DataFrame
}

// New builds a Frame from gota series
func New(ss ...series.Series) *Frame {
	return &Frame{df: dataframe.New(ss...)}
}

// FromGota wraps an existing gota DataFrame
func FromGota(df dataframe.DataFrame) *Frame {
	return &Frame{df: df}
}

// Gota exposes the backing dataframe
func (f *Frame) Gota() dataframe.DataFrame {
	return f.df
}

// Err returns the backing dataframe's error state
func (f *Frame) Err() error {
	return f.df.Error()
}

// Columns returns the column names in order
func (f *Frame) Columns() []string {
	return f.df.Names()
}

// NumRows returns the row count
func (f *Frame) NumRows() int {
	return f.df.Nrow()
}

// HasColumn reports whether a column exists
func (f *Frame) HasColumn(name string) bool {
	for _, c := range f.df.Names() {
		if c == name {
			return true
		}
	}
	return false
}

// Copy returns a deep copy
func (f *Frame) Copy() *Frame {
	return &Frame{df: f.df.Copy()}
}

// Select keeps the given columns, in the given order
func (f *Frame) Select(cols []string) *Frame {
	return &Frame{df: f.df.Select(cols)}
}

// Drop removes the given columns, preserving the order of the rest
func (f *Frame) Drop(cols ...string) *Frame {
	dropped := make(map[string]bool, len(cols))
	for _, c := range cols {
		dropped[c] = true
	}
	keep := make([]string, 0, len(f.df.Names()))
	for _, c := range f.df.Names() {
		if !dropped[c] {
			keep = append(keep, c)
		}
	}
	return f.Select(keep)
}

// Column returns a column as a gota series
func (f *Frame) Column(name string) series.Series {
	return f.df.Col(name)
}

// Floats returns a column as float64 values; non-numeric cells map to NaN
func (f *Frame) Floats(name string) []float64 {
	return f.df.Col(name).Float()
}

// Strings returns a column's string representation
func (f *Frame) Strings(name string) []string {
	return f.df.Col(name).Records()
}

// IsNumeric reports whether a column holds int or float values
func (f *Frame) IsNumeric(name string) bool {
	t := f.df.Col(name).Type()
	return t == series.Int || t == series.Float
}

// HasNull reports whether a column contains null values
func (f *Frame) HasNull(name string) bool {
	return f.df.Col(name).HasNaN()
}

// UniqueStrings returns a column's distinct values in order of first
// appearance
func (f *Frame) UniqueStrings(name string) []string {
	recs := f.df.Col(name).Records()
	seen := make(map[string]bool, len(recs))
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// CountsBy returns the per-value row counts of a column
func (f *Frame) CountsBy(name string) map[string]int {
	counts := make(map[string]int)
	for _, r := range f.df.Col(name).Records() {
		counts[r]++
	}
	return counts
}

// WithFloatColumn returns a Frame with a float column added or replaced
func (f *Frame) WithFloatColumn(name string, vals []float64) *Frame {
	return &Frame{df: f.df.Mutate(series.New(vals, series.Float, name))}
}

// WithIntColumn returns a Frame with an int column added or replaced
func (f *Frame) WithIntColumn(name string, vals []int) *Frame {
	return &Frame{df: f.df.Mutate(series.New(vals, series.Int, name))}
}

// SortBy returns a Frame sorted ascending by the given columns
func (f *Frame) SortBy(cols ...string) *Frame {
	orders := make([]dataframe.Order, len(cols))
	for i, c := range cols {
		orders[i] = dataframe.Sort(c)
	}
	return &Frame{df: f.df.Arrange(orders...)}
}

// FilterIn keeps the rows whose column value belongs to the given set
func (f *Frame) FilterIn(name string, values []string) *Frame {
	return &Frame{df: f.df.Filter(dataframe.F{
		Colname:    name,
		Comparator: series.In,
		Comparando: values,
	})}
}

// Append vertically concatenates another Frame below the receiver
func (f *Frame) Append(other *Frame) *Frame {
	return &Frame{df: f.df.RBind(other.df)}
}

// SetColumnNames renames every column positionally
func (f *Frame) SetColumnNames(names []string) error {
	df := f.df
	if err := df.SetNames(names...); err != nil {
		return errors.Wrap(errors.TypeInternal, "renaming columns", err)
	}
	f.df = df
	return nil
}

// Dense exports the given columns as a row-major float64 matrix
func (f *Frame) Dense(cols []string) *mat.Dense {
	rows := f.df.Nrow()
	out := mat.NewDense(rows, len(cols), nil)
	for j, c := range cols {
		vals := f.df.Col(c).Float()
		for i := 0; i < rows; i++ {
			out.Set(i, j, vals[i])
		}
	}
	return out
}

// SparseSupported reports whether the given columns can be converted to
// a sparse coordinate representation, which requires a numeric backing
// for every column
func (f *Frame) SparseSupported(cols []string) bool {
	for _, c := range cols {
		if !f.IsNumeric(c) {
			return false
		}
	}
	return true
}

// CSR exports the given columns as a compressed sparse row matrix
func (f *Frame) CSR(cols []string) (*sparse.CSR, error) {
	if !f.SparseSupported(cols) {
		return nil, errors.Capability("sparse conversion requires numeric columns")
	}
	rows := f.df.Nrow()
	dok := sparse.NewDOK(rows, len(cols))
	for j, c := range cols {
		vals := f.df.Col(c).Float()
		for i := 0; i < rows; i++ {
			if vals[i] != 0 {
				dok.Set(i, j, vals[i])
			}
		}
	}
	return dok.ToCSR(), nil
}

// Pivot spreads a long (index, on, values) triple into one row per index
// value and one column per observed on value. Row keys are returned
// sorted ascending; columns are ordered by ascending on value, numeric
// when the on column is numeric, lexicographic otherwise. Cells without
// an observation hold the fill marker.
func (f *Frame) Pivot(index, on, values string, fill float64) ([]string, *mat.Dense) {
	idxRecs := f.df.Col(index).Records()
	onRecs := f.df.Col(on).Records()
	vals := f.df.Col(values).Float()

	keys := make([]string, 0)
	seenKey := make(map[string]bool)
	cols := make([]string, 0)
	seenCol := make(map[string]bool)
	for i := range idxRecs {
		if !seenKey[idxRecs[i]] {
			seenKey[idxRecs[i]] = true
			keys = append(keys, idxRecs[i])
		}
		if !seenCol[onRecs[i]] {
			seenCol[onRecs[i]] = true
			cols = append(cols, onRecs[i])
		}
	}
	sort.Strings(keys)
	sortRecords(cols, f.IsNumeric(on))

	keyPos := make(map[string]int, len(keys))
	for i, k := range keys {
		keyPos[k] = i
	}
	colPos := make(map[string]int, len(cols))
	for i, c := range cols {
		colPos[c] = i
	}

	out := mat.NewDense(len(keys), len(cols), nil)
	for i := 0; i < len(keys); i++ {
		for j := 0; j < len(cols); j++ {
			out.Set(i, j, fill)
		}
	}
	for i := range idxRecs {
		out.Set(keyPos[idxRecs[i]], colPos[onRecs[i]], vals[i])
	}
	return keys, out
}

// sortRecords orders record strings ascending, numerically when the
// source column is numeric
func sortRecords(recs []string, numeric bool) {
	if !numeric {
		sort.Strings(recs)
		return
	}
	sort.Slice(recs, func(i, j int) bool {
		a, errA := strconv.ParseFloat(recs[i], 64)
		b, errB := strconv.ParseFloat(recs[j], 64)
		if errA != nil || errB != nil {
			return recs[i] < recs[j]
		}
		return a < b
	})
}
