// Package forest implements a random-forest classifier over plain float64
// matrices: bootstrap-sampled entropy trees with a depth cap, per-class
// probability estimates and mean-decrease-impurity feature importances.
package forest

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

type Options struct {
	Trees    int
	MaxDepth int
	MinLeaf  int
	Seed     int64
}

func DefaultOptions() Options {
	return Options{Trees: 40, MaxDepth: 12, MinLeaf: 1, Seed: 1}
}

// Classifier holds a fitted forest. Fields are exported so a trained model
// can be persisted with encoding/gob.
type Classifier struct {
	Opts        Options
	NumClasses  int
	NumFeatures int
	Trees       []*Node
	Importances []float64
}

func New(opts Options) *Classifier {
	if opts.Trees <= 0 {
		opts.Trees = DefaultOptions().Trees
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultOptions().MaxDepth
	}
	if opts.MinLeaf <= 0 {
		opts.MinLeaf = 1
	}
	return &Classifier{Opts: opts}
}

// Fit trains the forest. Trees are independent, so they are built
// concurrently; the per-tree seed keeps results reproducible regardless of
// scheduling order.
func (c *Classifier) Fit(x [][]float64, y []int, numClasses int) error {
	if len(x) == 0 {
		return errors.New("no training samples")
	}
	if len(x) != len(y) {
		return fmt.Errorf("feature rows %d do not match labels %d", len(x), len(y))
	}
	if numClasses < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", numClasses)
	}
	numFeatures := len(x[0])
	if numFeatures == 0 {
		return errors.New("no feature columns")
	}
	for i, row := range x {
		if len(row) != numFeatures {
			return fmt.Errorf("row %d has %d columns, want %d", i, len(row), numFeatures)
		}
	}
	for i, label := range y {
		if label < 0 || label >= numClasses {
			return fmt.Errorf("label %d at row %d out of range [0,%d)", label, i, numClasses)
		}
	}

	c.NumClasses = numClasses
	c.NumFeatures = numFeatures
	c.Trees = make([]*Node, c.Opts.Trees)
	perTree := make([][]float64, c.Opts.Trees)

	var wg sync.WaitGroup
	for t := 0; t < c.Opts.Trees; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(c.Opts.Seed + int64(t)))
			indices := make([]int, len(x))
			for i := range indices {
				indices[i] = rng.Intn(len(x))
			}
			builder := &treeBuilder{
				x:           x,
				y:           y,
				numClasses:  numClasses,
				maxDepth:    c.Opts.MaxDepth,
				minLeaf:     c.Opts.MinLeaf,
				totalWeight: float64(len(indices)),
				importances: make([]float64, numFeatures),
			}
			c.Trees[t] = builder.build(indices, 0)
			perTree[t] = builder.importances
		}(t)
	}
	wg.Wait()

	c.Importances = make([]float64, numFeatures)
	for _, imp := range perTree {
		for i, v := range imp {
			c.Importances[i] += v
		}
	}
	var sum float64
	for _, v := range c.Importances {
		sum += v
	}
	if sum > 0 {
		for i := range c.Importances {
			c.Importances[i] /= sum
		}
	}
	return nil
}

// PredictProba returns the per-class probability for each row, averaged
// over the forest's leaf distributions.
func (c *Classifier) PredictProba(x [][]float64) [][]float64 {
	result := make([][]float64, len(x))
	for i, row := range x {
		probs := make([]float64, c.NumClasses)
		for _, tree := range c.Trees {
			dist := tree.predict(row)
			for class, p := range dist {
				probs[class] += p
			}
		}
		for class := range probs {
			probs[class] /= float64(len(c.Trees))
		}
		result[i] = probs
	}
	return result
}

func (c *Classifier) Predict(x [][]float64) []int {
	probs := c.PredictProba(x)
	labels := make([]int, len(x))
	for i, rowProbs := range probs {
		best := 0
		for class, p := range rowProbs {
			if p > rowProbs[best] {
				best = class
			}
		}
		labels[i] = best
	}
	return labels
}

// FeatureImportances reports the normalized mean decrease in impurity per
// expanded feature column. The values sum to 1 for any forest that found at
// least one useful split.
func (c *Classifier) FeatureImportances() []float64 {
	out := make([]float64, len(c.Importances))
	copy(out, c.Importances)
	return out
}
