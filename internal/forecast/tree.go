package forecast

import (
	"sort"
)

// treeNode - узел дерева регрессии. Feature < 0 означает лист.
type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

// RegressionTree - дерево, обученное на градиентах квадратичной ошибки
type RegressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

// Predict проходит дерево от корня до листа. x[f] < threshold - влево.
func (t *RegressionTree) Predict(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if n.Feature < len(x) && x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeBuilder struct {
	X              [][]float64
	residuals      []float64
	features       []int
	maxDepth       int
	minChildWeight float64
	lambda         float64
	nodes          []treeNode
}

type splitCandidate struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

// growTree строит дерево по индексам строк rows
func growTree(X [][]float64, residuals []float64, rows, features []int, maxDepth int, minChildWeight, lambda float64) RegressionTree {
	b := &treeBuilder{
		X:              X,
		residuals:      residuals,
		features:       features,
		maxDepth:       maxDepth,
		minChildWeight: minChildWeight,
		lambda:         lambda,
	}
	b.build(rows, 0)
	return RegressionTree{Nodes: b.nodes}
}

func (b *treeBuilder) leafValue(rows []int) float64 {
	g := 0.0
	for _, r := range rows {
		g += b.residuals[r]
	}
	return g / (float64(len(rows)) + b.lambda)
}

func (b *treeBuilder) build(rows []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Feature: -1})

	if depth >= b.maxDepth || float64(len(rows)) < 2*b.minChildWeight {
		b.nodes[idx].Value = b.leafValue(rows)
		return idx
	}

	best := b.bestSplit(rows)
	if best == nil {
		b.nodes[idx].Value = b.leafValue(rows)
		return idx
	}

	left := b.build(best.left, depth+1)
	right := b.build(best.right, depth+1)
	b.nodes[idx] = treeNode{
		Feature:   best.feature,
		Threshold: best.threshold,
		Left:      left,
		Right:     right,
	}
	return idx
}

// bestSplit - жадный точный перебор порогов по выбранным признакам (gain как в XGBoost)
func (b *treeBuilder) bestSplit(rows []int) *splitCandidate {
	total := 0.0
	for _, r := range rows {
		total += b.residuals[r]
	}
	n := float64(len(rows))
	parentScore := total * total / (n + b.lambda)

	var best *splitCandidate
	sorted := make([]int, len(rows))

	for _, f := range b.features {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.X[sorted[i]][f] < b.X[sorted[j]][f]
		})

		gl := 0.0
		for i := 0; i < len(sorted)-1; i++ {
			gl += b.residuals[sorted[i]]
			cur, next := b.X[sorted[i]][f], b.X[sorted[i+1]][f]
			if cur == next {
				continue
			}
			nl := float64(i + 1)
			nr := n - nl
			if nl < b.minChildWeight || nr < b.minChildWeight {
				continue
			}
			gr := total - gl
			gain := gl*gl/(nl+b.lambda) + gr*gr/(nr+b.lambda) - parentScore
			if gain <= 1e-12 {
				continue
			}
			if best == nil || gain > best.gain {
				best = &splitCandidate{
					feature:   f,
					threshold: (cur + next) / 2,
					gain:      gain,
				}
			}
		}
	}

	if best == nil {
		return nil
	}
	for _, r := range rows {
		if b.X[r][best.feature] < best.threshold {
			best.left = append(best.left, r)
		} else {
			best.right = append(best.right, r)
		}
	}
	if len(best.left) == 0 || len(best.right) == 0 {
		return nil
	}
	return best
}
