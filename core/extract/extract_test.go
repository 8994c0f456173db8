package extract

import (
	"math"
	"testing"

	"github.com/go-gota/gota/series"

	"forecast-reconcile/core/frame"
	"forecast-reconcile/core/hierarchy"
)

func testSpec() *hierarchy.Spec {
	return &hierarchy.Spec{
		S: frame.New(
			series.New([]string{"total", "a", "b"}, series.String, "unique_id"),
			series.New([]float64{1, 1, 0}, series.Float, "a"),
			series.New([]float64{1, 0, 1}, series.Float, "b"),
		),
		IDCol: "unique_id",
	}
}

func TestBalancedReshape(t *testing.T) {
	// already in hierarchy row-major, time-minor order
	panel := frame.New(
		series.New([]string{"total", "total", "a", "a", "b", "b"}, series.String, "unique_id"),
		series.New([]int{1, 2, 1, 2, 1, 2}, series.Int, "ds"),
		series.New([]float64{9, 12, 4, 5, 5, 7}, series.Float, "y"),
	)
	m, err := Matrix(panel, testSpec(), "y", "ds", true, math.NaN())
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	rows, cols := m.Dims()
	if rows != 3 || cols != 2 {
		t.Fatalf("dims = (%d, %d), want (3, 2)", rows, cols)
	}
	want := [][]float64{{9, 12}, {4, 5}, {5, 7}}
	for i := range want {
		for j := range want[i] {
			if m.At(i, j) != want[i][j] {
				t.Errorf("m[%d][%d] = %v, want %v", i, j, m.At(i, j), want[i][j])
			}
		}
	}
}

func TestBalancedReshapeRejectsRaggedPanel(t *testing.T) {
	panel := frame.New(
		series.New([]string{"total", "a", "b", "total"}, series.String, "unique_id"),
		series.New([]int{1, 1, 1, 2}, series.Int, "ds"),
		series.New([]float64{9, 4, 5, 12}, series.Float, "y"),
	)
	if _, err := Matrix(panel, testSpec(), "y", "ds", true, math.NaN()); err == nil {
		t.Fatal("Matrix accepted a panel that does not divide into equal horizons")
	}
}

func TestUnbalancedExtractionKeepsHierarchyPositions(t *testing.T) {
	// series b misses timestamp 2; rows arrive in arbitrary order
	panel := frame.New(
		series.New([]string{"b", "a", "total", "a", "total", "b", "a", "total"}, series.String, "unique_id"),
		series.New([]int{1, 1, 1, 2, 2, 3, 3, 3}, series.Int, "ds"),
		series.New([]float64{5, 4, 9, 5, 5, 6, 7, 13}, series.Float, "y"),
	)
	m, err := Matrix(panel, testSpec(), "y", "ds", false, math.NaN())
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	rows, cols := m.Dims()
	if rows != 3 || cols != 3 {
		t.Fatalf("dims = (%d, %d), want (3, 3)", rows, cols)
	}

	// row 2 must be series b in its hierarchy position, with the gap
	// marked, not the row omitted
	if m.At(2, 0) != 5 || m.At(2, 2) != 6 {
		t.Fatalf("series b row = [%v %v %v]", m.At(2, 0), m.At(2, 1), m.At(2, 2))
	}
	if !math.IsNaN(m.At(2, 1)) {
		t.Fatalf("missing (b, 2) = %v, want NaN", m.At(2, 1))
	}

	// aggregate row stays first
	if m.At(0, 0) != 9 || m.At(0, 1) != 5 || m.At(0, 2) != 13 {
		t.Fatalf("total row = [%v %v %v]", m.At(0, 0), m.At(0, 1), m.At(0, 2))
	}
}

func TestUnbalancedExtractionHonorsFillPolicy(t *testing.T) {
	panel := frame.New(
		series.New([]string{"total", "a", "b", "total", "a"}, series.String, "unique_id"),
		series.New([]int{1, 1, 1, 2, 2}, series.Int, "ds"),
		series.New([]float64{9, 4, 5, 12, 5}, series.Float, "y"),
	)
	m, err := Matrix(panel, testSpec(), "y", "ds", false, 0)
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	if m.At(2, 1) != 0 {
		t.Fatalf("missing (b, 2) = %v, want fill 0", m.At(2, 1))
	}
}

func TestMissingSeriesRejected(t *testing.T) {
	panel := frame.New(
		series.New([]string{"total", "a"}, series.String, "unique_id"),
		series.New([]int{1, 1}, series.Int, "ds"),
		series.New([]float64{9, 4}, series.Float, "y"),
	)
	if _, err := Matrix(panel, testSpec(), "y", "ds", false, math.NaN()); err == nil {
		t.Fatal("Matrix accepted a panel missing a hierarchy series")
	}
}
