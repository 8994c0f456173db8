package strategy

import (
	"math"
	"testing"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

func csrFromDense(d *mat.Dense) *sparse.CSR {
	rows, cols := d.Dims()
	dok := sparse.NewDOK(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := d.At(i, j); v != 0 {
				dok.Set(i, j, v)
			}
		}
	}
	return dok.ToCSR()
}

// threeSeriesInputs builds the canonical 1 total + 2 bottom hierarchy
// with a 2-step horizon
func threeSeriesInputs() *Inputs {
	return &Inputs{
		S:         mat.NewDense(3, 2, []float64{1, 1, 1, 0, 0, 1}),
		YHat:      mat.NewDense(3, 2, []float64{10, 12, 4, 5, 5, 7}),
		IdxBottom: []int{1, 2},
	}
}

func coherenceCheck(t *testing.T, mean *mat.Dense) {
	t.Helper()
	_, horizon := mean.Dims()
	for h := 0; h < horizon; h++ {
		total := mean.At(0, h)
		sum := mean.At(1, h) + mean.At(2, h)
		if math.Abs(total-sum) > 1e-9 {
			t.Fatalf("horizon %d incoherent: total %v != %v", h, total, sum)
		}
	}
}

func TestBottomUpMean(t *testing.T) {
	in := threeSeriesInputs()
	res, err := NewBottomUp().FitPredict(in, nil)
	if err != nil {
		t.Fatalf("FitPredict: %v", err)
	}
	want := [][]float64{{9, 12}, {4, 5}, {5, 7}}
	for i := range want {
		for j := range want[i] {
			if got := res.Mean.At(i, j); math.Abs(got-want[i][j]) > 1e-12 {
				t.Errorf("mean[%d][%d] = %v, want %v", i, j, got, want[i][j])
			}
		}
	}
	if res.Quantiles != nil {
		t.Fatal("quantiles returned without levels")
	}
}

func TestBottomUpSparseMatchesDense(t *testing.T) {
	in := threeSeriesInputs()
	dense, err := NewBottomUp().FitPredict(in, nil)
	if err != nil {
		t.Fatalf("dense FitPredict: %v", err)
	}

	sparseIn := threeSeriesInputs()
	sparseIn.SSparse = csrFromDense(sparseIn.S)
	sparseIn.S = nil
	sp, err := NewBottomUpSparse().FitPredict(sparseIn, nil)
	if err != nil {
		t.Fatalf("sparse FitPredict: %v", err)
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(dense.Mean.At(i, j)-sp.Mean.At(i, j)) > 1e-12 {
				t.Fatalf("sparse mean[%d][%d] = %v, dense = %v", i, j, sp.Mean.At(i, j), dense.Mean.At(i, j))
			}
		}
	}
}

func TestTopDownForecastProportions(t *testing.T) {
	in := threeSeriesInputs()
	res, err := NewTopDown(ForecastProportions).FitPredict(in, nil)
	if err != nil {
		t.Fatalf("FitPredict: %v", err)
	}
	coherenceCheck(t, res.Mean)
	// the top forecast is preserved
	if got := res.Mean.At(0, 0); math.Abs(got-10) > 1e-9 {
		t.Fatalf("top mean = %v, want 10", got)
	}
	// bottom split follows the 4:5 base shares
	if got := res.Mean.At(1, 0); math.Abs(got-10*4.0/9.0) > 1e-9 {
		t.Fatalf("bottom a = %v, want %v", got, 10*4.0/9.0)
	}
}

func TestTopDownHistoricalMethodsRequireInsample(t *testing.T) {
	for _, method := range []string{AverageProportions, ProportionAverages} {
		rec := NewTopDown(method)
		if !rec.RequiresInsample() {
			t.Fatalf("method %q must declare an insample requirement", method)
		}
		if _, err := rec.FitPredict(threeSeriesInputs(), nil); err == nil {
			t.Fatalf("method %q accepted inputs without insample values", method)
		}
	}
}

func TestTopDownAverageProportions(t *testing.T) {
	in := threeSeriesInputs()
	// history where a is consistently 1/3 and b is 2/3 of the total
	in.YInsample = mat.NewDense(3, 4, []float64{
		9, 12, 6, 3,
		3, 4, 2, 1,
		6, 8, 4, 2,
	})
	res, err := NewTopDown(AverageProportions).FitPredict(in, nil)
	if err != nil {
		t.Fatalf("FitPredict: %v", err)
	}
	coherenceCheck(t, res.Mean)
	if got := res.Mean.At(1, 0); math.Abs(got-10.0/3.0) > 1e-9 {
		t.Fatalf("bottom a = %v, want %v", got, 10.0/3.0)
	}
}

func TestMinTraceMethods(t *testing.T) {
	residHistory := func() (*mat.Dense, *mat.Dense) {
		y := mat.NewDense(3, 5, []float64{
			9, 12, 6, 8, 10,
			3, 5, 2, 3, 4,
			6, 7, 4, 5, 6,
		})
		yHat := mat.NewDense(3, 5, []float64{
			9.5, 11, 6.5, 8.2, 9.4,
			2.8, 5.2, 2.1, 3.3, 3.6,
			6.2, 6.6, 4.4, 4.8, 6.3,
		})
		return y, yHat
	}

	tests := []struct {
		name     string
		method   string
		insample bool
	}{
		{name: "ols", method: MinTraceOLS},
		{name: "wls struct", method: MinTraceWLSStruct},
		{name: "wls var", method: MinTraceWLSVar, insample: true},
		{name: "mint shrink", method: MinTraceShrink, insample: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := threeSeriesInputs()
			if tt.insample {
				in.YInsample, in.YHatInsample = residHistory()
			}
			res, err := NewMinTrace(tt.method).FitPredict(in, nil)
			if err != nil {
				t.Fatalf("FitPredict: %v", err)
			}
			coherenceCheck(t, res.Mean)
		})
	}
}

func TestMinTraceInsampleMethodsRequireHistory(t *testing.T) {
	for _, method := range []string{MinTraceWLSVar, MinTraceShrink} {
		rec := NewMinTrace(method)
		if !rec.RequiresInsample() {
			t.Fatalf("method %q must declare an insample requirement", method)
		}
		if _, err := rec.FitPredict(threeSeriesInputs(), nil); err == nil {
			t.Fatalf("method %q accepted inputs without insample values", method)
		}
	}
}

func TestMinTraceNonnegativeClipsBottom(t *testing.T) {
	in := threeSeriesInputs()
	// drive one bottom base forecast strongly negative
	in.YHat.Set(1, 0, -40)
	rec := &MinTrace{Method: MinTraceOLS, Nonnegative: true, ShrinkRidge: defaultShrinkRidge, NumThreads: 1}
	res, err := rec.FitPredict(in, nil)
	if err != nil {
		t.Fatalf("FitPredict: %v", err)
	}
	coherenceCheck(t, res.Mean)
	for i := 0; i < 3; i++ {
		if res.Mean.At(i, 0) < 0 {
			t.Fatalf("nonnegative mean[%d][0] = %v", i, res.Mean.At(i, 0))
		}
	}
}

func TestNormalityQuantileShapeAndOrder(t *testing.T) {
	in := threeSeriesInputs()
	in.IntervalsMethod = Normality
	in.NumSamples = 200
	in.SigmaH = mat.NewDense(3, 2, []float64{2, 2, 1, 1, 1, 1})

	levels := []float64{95, 80}
	res, err := NewBottomUp().FitPredict(in, levels)
	if err != nil {
		t.Fatalf("FitPredict: %v", err)
	}
	if res.Quantiles == nil {
		t.Fatal("no quantiles returned")
	}
	rows, cols := res.Quantiles.Dims()
	if rows != 6 || cols != 4 {
		t.Fatalf("quantile dims = (%d, %d), want (6, 4)", rows, cols)
	}
	// ascending probability order: lo-95 < lo-80 < hi-80 < hi-95
	for r := 0; r < rows; r++ {
		for c := 1; c < cols; c++ {
			if res.Quantiles.At(r, c) < res.Quantiles.At(r, c-1) {
				t.Fatalf("row %d quantiles not ascending: col %d", r, c)
			}
		}
	}
}

func TestNormalityRequiresSigma(t *testing.T) {
	in := threeSeriesInputs()
	in.IntervalsMethod = Normality
	in.NumSamples = 200
	if _, err := NewBottomUp().FitPredict(in, []float64{80}); err == nil {
		t.Fatal("normality intervals accepted inputs without an error term")
	}
}

func TestStatefulPathProducesCoherentSamples(t *testing.T) {
	in := threeSeriesInputs()
	in.IntervalsMethod = Normality
	in.NumSamples = 200
	in.Seed = 7
	in.SigmaH = mat.NewDense(3, 2, []float64{2, 2, 1, 1, 1, 1})

	fitted, err := NewBottomUp().Fit(in)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	res, err := fitted.Predict(in.S, in.YHat, []float64{80})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Quantiles == nil {
		t.Fatal("no quantiles from stateful predict")
	}

	samples, err := fitted.Sample(5)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	rows, cols := samples.Dims()
	if rows != 6 || cols != 5 {
		t.Fatalf("sample dims = (%d, %d), want (6, 5)", rows, cols)
	}
	// every draw stays coherent: total row equals the bottom sum
	for s := 0; s < cols; s++ {
		for h := 0; h < 2; h++ {
			total := samples.At(0*2+h, s)
			sum := samples.At(1*2+h, s) + samples.At(2*2+h, s)
			if math.Abs(total-sum) > 1e-9 {
				t.Fatalf("sample %d horizon %d incoherent: %v != %v", s, h, total, sum)
			}
		}
	}
}

func TestSampleBeforePredictRejected(t *testing.T) {
	in := threeSeriesInputs()
	in.IntervalsMethod = Normality
	in.NumSamples = 200
	in.SigmaH = mat.NewDense(3, 2, []float64{2, 2, 1, 1, 1, 1})

	fitted, err := NewBottomUp().Fit(in)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if _, err := fitted.Sample(3); err == nil {
		t.Fatal("Sample succeeded without a prior Predict")
	}
}

func TestBootstrapIntervals(t *testing.T) {
	in := threeSeriesInputs()
	in.IntervalsMethod = Bootstrap
	in.NumSamples = 50
	in.Seed = 3
	in.YInsample = mat.NewDense(3, 4, []float64{
		9, 12, 6, 8,
		3, 5, 2, 3,
		6, 7, 4, 5,
	})
	in.YHatInsample = mat.NewDense(3, 4, []float64{
		9.5, 11, 6.5, 8.2,
		2.8, 5.2, 2.1, 3.3,
		6.2, 6.6, 4.4, 4.8,
	})

	res, err := NewBottomUp().FitPredict(in, []float64{80})
	if err != nil {
		t.Fatalf("FitPredict: %v", err)
	}
	rows, cols := res.Quantiles.Dims()
	if rows != 6 || cols != 2 {
		t.Fatalf("quantile dims = (%d, %d), want (6, 2)", rows, cols)
	}
	for r := 0; r < rows; r++ {
		if res.Quantiles.At(r, 0) > res.Quantiles.At(r, 1) {
			t.Fatalf("row %d: lo quantile above hi quantile", r)
		}
	}
}

func TestPermbuRejected(t *testing.T) {
	in := threeSeriesInputs()
	in.IntervalsMethod = PERMBU
	in.NumSamples = 200
	in.SigmaH = mat.NewDense(3, 2, []float64{2, 2, 1, 1, 1, 1})
	if _, err := NewBottomUp().FitPredict(in, []float64{80}); err == nil {
		t.Fatal("permbu intervals unexpectedly supported")
	}
}
