package forest

import (
	"math"
	"sort"
)

// Node is one decision-tree node. Leaves carry the class distribution of
// the training samples that reached them; internal nodes route on
// value <= Threshold. Fields are exported for encoding/gob.
type Node struct {
	Feature   int
	Threshold float64
	Left      *Node
	Right     *Node
	Dist      []float64
}

func (n *Node) isLeaf() bool {
	return n.Dist != nil
}

func (n *Node) predict(row []float64) []float64 {
	node := n
	for !node.isLeaf() {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Dist
}

type treeBuilder struct {
	x           [][]float64
	y           []int
	numClasses  int
	maxDepth    int
	minLeaf     int
	totalWeight float64
	// impurity decrease accumulated per feature while building
	importances []float64
}

func (b *treeBuilder) build(indices []int, depth int) *Node {
	counts := make([]float64, b.numClasses)
	for _, idx := range indices {
		counts[b.y[idx]]++
	}
	total := float64(len(indices))

	parentEntropy := entropy(counts, total)
	if depth >= b.maxDepth || parentEntropy == 0 || len(indices) < 2*b.minLeaf {
		return leaf(counts, total)
	}

	feature, threshold, gain := b.bestSplit(indices, counts, parentEntropy)
	if gain <= 0 {
		return leaf(counts, total)
	}

	var left, right []int
	for _, idx := range indices {
		if b.x[idx][feature] <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	if len(left) < b.minLeaf || len(right) < b.minLeaf {
		return leaf(counts, total)
	}

	b.importances[feature] += total / b.totalWeight * gain

	return &Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      b.build(left, depth+1),
		Right:     b.build(right, depth+1),
	}
}

// bestSplit scans every feature and every boundary between distinct sorted
// values, keeping running class counts so each feature costs one sort plus
// one linear pass.
func (b *treeBuilder) bestSplit(indices []int, counts []float64, parentEntropy float64) (int, float64, float64) {
	bestFeature := -1
	bestThreshold := 0.0
	bestGain := 0.0
	total := float64(len(indices))

	order := make([]int, len(indices))
	leftCounts := make([]float64, b.numClasses)
	rightCounts := make([]float64, b.numClasses)

	numFeatures := len(b.x[indices[0]])
	for feature := 0; feature < numFeatures; feature++ {
		copy(order, indices)
		sort.Slice(order, func(i, j int) bool {
			return b.x[order[i]][feature] < b.x[order[j]][feature]
		})

		for i := range leftCounts {
			leftCounts[i] = 0
		}
		copy(rightCounts, counts)

		for i := 0; i < len(order)-1; i++ {
			class := b.y[order[i]]
			leftCounts[class]++
			rightCounts[class]--

			current := b.x[order[i]][feature]
			next := b.x[order[i+1]][feature]
			if current == next {
				continue
			}

			leftTotal := float64(i + 1)
			rightTotal := total - leftTotal
			childEntropy := leftTotal/total*entropy(leftCounts, leftTotal) +
				rightTotal/total*entropy(rightCounts, rightTotal)
			gain := parentEntropy - childEntropy
			if gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = (current + next) / 2
			}
		}
	}
	return bestFeature, bestThreshold, bestGain
}

func leaf(counts []float64, total float64) *Node {
	dist := make([]float64, len(counts))
	for i, c := range counts {
		dist[i] = c / total
	}
	return &Node{Dist: dist}
}

func entropy(counts []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := c / total
		h -= p * math.Log2(p)
	}
	return h
}
