package forest

import (
	"math"
	"math/rand"
	"testing"
)

// two clusters separable on feature 0; feature 1 is noise
func separableData(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		class := i % 2
		center := -2.0
		if class == 1 {
			center = 2.0
		}
		x[i] = []float64{center + rng.NormFloat64()*0.3, rng.NormFloat64()}
		y[i] = class
	}
	return x, y
}

func TestFitRejectsBadInput(t *testing.T) {
	c := New(DefaultOptions())
	if err := c.Fit(nil, nil, 2); err == nil {
		t.Fatal("expected error for empty input")
	}
	if err := c.Fit([][]float64{{1}}, []int{0, 1}, 2); err == nil {
		t.Fatal("expected error for row/label mismatch")
	}
	if err := c.Fit([][]float64{{1}}, []int{0}, 1); err == nil {
		t.Fatal("expected error for single class")
	}
	if err := c.Fit([][]float64{{1}, {1, 2}}, []int{0, 1}, 2); err == nil {
		t.Fatal("expected error for ragged rows")
	}
	if err := c.Fit([][]float64{{1}}, []int{5}, 2); err == nil {
		t.Fatal("expected error for out-of-range label")
	}
}

func TestFitSeparatesClusters(t *testing.T) {
	x, y := separableData(200, 7)
	c := New(Options{Trees: 20, MaxDepth: 6, Seed: 1})
	if err := c.Fit(x, y, 2); err != nil {
		t.Fatalf("fit: %v", err)
	}

	predicted := c.Predict(x)
	correct := 0
	for i := range predicted {
		if predicted[i] == y[i] {
			correct++
		}
	}
	if acc := float64(correct) / float64(len(y)); acc < 0.95 {
		t.Fatalf("training accuracy %.2f, want >= 0.95", acc)
	}
}

func TestPredictProbaRowsSumToOne(t *testing.T) {
	x, y := separableData(100, 3)
	c := New(Options{Trees: 10, MaxDepth: 4, Seed: 1})
	if err := c.Fit(x, y, 2); err != nil {
		t.Fatalf("fit: %v", err)
	}

	probs := c.PredictProba(x[:10])
	for i, rowProbs := range probs {
		if len(rowProbs) != 2 {
			t.Fatalf("row %d has %d classes", i, len(rowProbs))
		}
		sum := 0.0
		for _, p := range rowProbs {
			if p < 0 || p > 1 {
				t.Fatalf("row %d probability %v out of range", i, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d probabilities sum to %v", i, sum)
		}
	}
}

func TestFeatureImportancesFavorInformativeColumn(t *testing.T) {
	x, y := separableData(200, 11)
	c := New(Options{Trees: 20, MaxDepth: 6, Seed: 1})
	if err := c.Fit(x, y, 2); err != nil {
		t.Fatalf("fit: %v", err)
	}

	imp := c.FeatureImportances()
	if len(imp) != 2 {
		t.Fatalf("expected 2 importances, got %d", len(imp))
	}
	sum := imp[0] + imp[1]
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("importances sum to %v", sum)
	}
	if imp[0] <= imp[1] {
		t.Fatalf("informative column should dominate: %v", imp)
	}
}

func TestFitIsDeterministicForFixedSeed(t *testing.T) {
	x, y := separableData(100, 5)

	a := New(Options{Trees: 8, MaxDepth: 5, Seed: 42})
	if err := a.Fit(x, y, 2); err != nil {
		t.Fatalf("fit a: %v", err)
	}
	b := New(Options{Trees: 8, MaxDepth: 5, Seed: 42})
	if err := b.Fit(x, y, 2); err != nil {
		t.Fatalf("fit b: %v", err)
	}

	pa := a.PredictProba(x)
	pb := b.PredictProba(x)
	for i := range pa {
		for class := range pa[i] {
			if pa[i][class] != pb[i][class] {
				t.Fatalf("row %d class %d: %v vs %v", i, class, pa[i][class], pb[i][class])
			}
		}
	}
}
