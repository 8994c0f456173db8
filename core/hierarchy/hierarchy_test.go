package hierarchy

import (
	"testing"

	"github.com/go-gota/gota/series"
	"github.com/google/go-cmp/cmp"

	"forecast-reconcile/core/frame"
	"forecast-reconcile/internal/errors"
)

func validSpec() *Spec {
	return &Spec{
		S: frame.New(
			series.New([]string{"total", "a", "b"}, series.String, "unique_id"),
			series.New([]float64{1, 1, 0}, series.Float, "a"),
			series.New([]float64{1, 0, 1}, series.Float, "b"),
		),
		IDCol: "unique_id",
	}
}

func TestBottomIdentityAccepted(t *testing.T) {
	if err := validSpec().CheckBottomIdentity(); err != nil {
		t.Fatalf("CheckBottomIdentity on a valid matrix: %v", err)
	}
}

func TestBottomIdentityViolationsRejected(t *testing.T) {
	tests := []struct {
		name string
		a    []float64
		b    []float64
	}{
		{
			name: "bottom rows swapped",
			a:    []float64{1, 0, 1},
			b:    []float64{1, 1, 0},
		},
		{
			name: "bottom block scaled",
			a:    []float64{1, 2, 0},
			b:    []float64{1, 0, 1},
		},
		{
			name: "aggregate row last",
			a:    []float64{1, 0, 1},
			b:    []float64{0, 1, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &Spec{
				S: frame.New(
					series.New([]string{"total", "a", "b"}, series.String, "unique_id"),
					series.New(tt.a, series.Float, "a"),
					series.New(tt.b, series.Float, "b"),
				),
				IDCol: "unique_id",
			}
			err := spec.CheckBottomIdentity()
			if err == nil {
				t.Fatal("CheckBottomIdentity accepted a non-identity bottom block")
			}
			if !errors.IsType(err, errors.TypeStructural) {
				t.Fatalf("error type = %v, want structural", err)
			}
		})
	}
}

func TestBottomIndicesAreTrailingBlock(t *testing.T) {
	got := validSpec().BottomIndices()
	if !cmp.Equal(got, []int{1, 2}) {
		t.Fatalf("BottomIndices = %v, want [1 2]", got)
	}
}

func TestTagIndices(t *testing.T) {
	spec := validSpec()
	got := spec.TagIndices(map[string][]string{
		"top":    {"total"},
		"bottom": {"a", "b"},
		"empty":  {"missing"},
	})
	want := map[string][]int{
		"top":    {0},
		"bottom": {1, 2},
		"empty":  {},
	}
	if !cmp.Equal(got, want) {
		t.Fatalf("TagIndices = %v, want %v", got, want)
	}
}

func TestRestrictKeepsRowOrder(t *testing.T) {
	spec := validSpec()
	restricted := spec.Restrict([]string{"a", "total"})
	if got := restricted.IDs(); !cmp.Equal(got, []string{"total", "a"}) {
		t.Fatalf("restricted ids = %v, want hierarchy order [total a]", got)
	}
}

func TestDenseShape(t *testing.T) {
	m := validSpec().Dense()
	rows, cols := m.Dims()
	if rows != 3 || cols != 2 {
		t.Fatalf("Dense dims = (%d, %d), want (3, 2)", rows, cols)
	}
	if m.At(0, 0) != 1 || m.At(0, 1) != 1 {
		t.Fatalf("aggregate row = [%v %v], want [1 1]", m.At(0, 0), m.At(0, 1))
	}
}
