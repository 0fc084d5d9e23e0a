package model

import (
	"slices"
	"sort"
)

// Node is one tree node. Internal nodes send x to Left when
// x[Feature] <= Threshold.
type Node struct {
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

// Tree is a regression tree stored as a flat node list rooted at 0.
// Children always follow their parent.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict returns the leaf value reached by x.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Leaf {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// binner maps raw feature values onto at most maxBins histogram bins.
// Bin k holds values in (cuts[k-1], cuts[k]].
type binner struct {
	cuts [][]float64
}

func newBinner(X [][]float64, cols, maxBins int) *binner {
	b := &binner{cuts: make([][]float64, cols)}
	vals := make([]float64, len(X))
	for f := 0; f < cols; f++ {
		for i, row := range X {
			vals[i] = row[f]
		}
		b.cuts[f] = cutPoints(vals, maxBins)
	}
	return b
}

func cutPoints(vals []float64, maxBins int) []float64 {
	sorted := slices.Clone(vals)
	sort.Float64s(sorted)
	uniq := slices.Compact(slices.Clone(sorted))
	if len(uniq) < 2 {
		return nil
	}
	if len(uniq) <= maxBins {
		return uniq[:len(uniq)-1]
	}

	top := uniq[len(uniq)-1]
	cuts := make([]float64, 0, maxBins-1)
	for k := 1; k < maxBins; k++ {
		v := sorted[k*len(sorted)/maxBins]
		if v >= top {
			break
		}
		if len(cuts) == 0 || v > cuts[len(cuts)-1] {
			cuts = append(cuts, v)
		}
	}
	return cuts
}

// transform returns column-major bin indices.
func (b *binner) transform(X [][]float64) [][]uint8 {
	out := make([][]uint8, len(b.cuts))
	for f, cuts := range b.cuts {
		col := make([]uint8, len(X))
		for i, row := range X {
			col[i] = uint8(sort.SearchFloat64s(cuts, row[f]))
		}
		out[f] = col
	}
	return out
}

type split struct {
	feature int
	bin     int
	gain    float64
}

// grower builds one tree from gradient statistics using exact greedy
// search over histogram bins.
type grower struct {
	bins   [][]uint8
	cuts   [][]float64
	grad   []float64
	hess   []float64
	params Params
	cols   []int

	nodes []Node
	histG []float64
	histH []float64
}

func newGrower(bins [][]uint8, cuts [][]float64, params Params) *grower {
	return &grower{
		bins:   bins,
		cuts:   cuts,
		params: params,
		histG:  make([]float64, 256),
		histH:  make([]float64, 256),
	}
}

func (g *grower) grow(rows, cols []int, grad, hess []float64) Tree {
	g.grad, g.hess, g.cols = grad, hess, cols
	g.nodes = make([]Node, 0, 64)
	g.build(rows, 0)
	return Tree{Nodes: g.nodes}
}

func (g *grower) build(rows []int, depth int) int {
	var G, H float64
	for _, i := range rows {
		G += g.grad[i]
		H += g.hess[i]
	}

	idx := len(g.nodes)
	g.nodes = append(g.nodes, Node{})

	if depth < g.params.MaxDepth && len(rows) >= 2 {
		if s, ok := g.bestSplit(rows, G, H); ok {
			col := g.bins[s.feature]
			left := make([]int, 0, len(rows))
			right := make([]int, 0, len(rows))
			for _, i := range rows {
				if int(col[i]) <= s.bin {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			l := g.build(left, depth+1)
			r := g.build(right, depth+1)
			g.nodes[idx] = Node{
				Feature:   s.feature,
				Threshold: g.cuts[s.feature][s.bin],
				Left:      l,
				Right:     r,
			}
			return idx
		}
	}

	var value float64
	if denom := H + g.params.Lambda; denom > 0 {
		value = -G / denom * g.params.LearningRate
	}
	g.nodes[idx] = Node{Leaf: true, Value: value}
	return idx
}

func (g *grower) bestSplit(rows []int, G, H float64) (split, bool) {
	lambda := g.params.Lambda
	parent := G * G / (H + lambda)
	best := split{gain: 0}
	found := false

	for _, f := range g.cols {
		nb := len(g.cuts[f]) + 1
		if nb < 2 {
			continue
		}
		hg, hh := g.histG[:nb], g.histH[:nb]
		clear(hg)
		clear(hh)
		col := g.bins[f]
		for _, i := range rows {
			b := col[i]
			hg[b] += g.grad[i]
			hh[b] += g.hess[i]
		}

		var gl, hl float64
		for k := 0; k < nb-1; k++ {
			gl += hg[k]
			hl += hh[k]
			gr, hr := G-gl, H-hl
			if hl < g.params.MinChildWeight || hr < g.params.MinChildWeight || hl <= 0 || hr <= 0 {
				continue
			}
			gain := 0.5*(gl*gl/(hl+lambda)+gr*gr/(hr+lambda)-parent) - g.params.Gamma
			if gain > best.gain {
				best = split{feature: f, bin: k, gain: gain}
				found = true
			}
		}
	}
	return best, found
}
