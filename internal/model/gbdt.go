// Package model implements histogram gradient-boosted decision trees for
// the delay regressor and the delayed/on-time classifier.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/transitx/transitx/internal/features"
)

// Objective selects the training loss.
type Objective string

const (
	ObjectiveSquaredError Objective = "reg:squarederror"
	ObjectiveLogistic     Objective = "binary:logistic"
)

var (
	// ErrSchemaMismatch is features.ErrSchemaMismatch, re-exported for callers
	// that only deal with models.
	ErrSchemaMismatch = features.ErrSchemaMismatch

	ErrEmptyDataset      = errors.New("empty training set")
	ErrDimension         = errors.New("feature vector has wrong length")
	ErrObjectiveMismatch = errors.New("model objective mismatch")
	ErrInvalidLabel      = errors.New("classifier labels must be 0 or 1")
	ErrUnknownObjective  = errors.New("unknown objective")
)

// Model is a fitted booster. Predictions are BaseScore plus the sum of
// tree outputs, passed through the sigmoid for the logistic objective.
type Model struct {
	Objective Objective       `json:"objective"`
	Params    Params          `json:"params"`
	Schema    features.Schema `json:"schema"`
	BaseScore float64         `json:"base_score"`
	Trees     []Tree          `json:"trees"`
	TrainedAt time.Time       `json:"trained_at"`
	Rows      int             `json:"rows"`
}

// Train fits a model on X (one row per sample, columns in schema order).
// For the logistic objective y must hold 0 or 1.
func Train(ctx context.Context, objective Objective, params Params, schema features.Schema, X [][]float64, y []float64) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if objective != ObjectiveSquaredError && objective != ObjectiveLogistic {
		return nil, fmt.Errorf("%w: %q", ErrUnknownObjective, objective)
	}
	n := len(X)
	if n == 0 {
		return nil, ErrEmptyDataset
	}
	if len(y) != n {
		return nil, fmt.Errorf("%d rows but %d targets", n, len(y))
	}
	width := schema.Len()
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d values, schema has %d", ErrDimension, i, len(row), width)
		}
	}
	if objective == ObjectiveLogistic {
		for i, v := range y {
			if v != 0 && v != 1 {
				return nil, fmt.Errorf("%w: row %d is %v", ErrInvalidLabel, i, v)
			}
		}
	}

	rng := rand.New(rand.NewPCG(params.Seed, params.Seed))
	bnr := newBinner(X, width, params.MaxBins)
	bins := bnr.transform(X)
	gr := newGrower(bins, bnr.cuts, params)

	m := &Model{
		Objective: objective,
		Params:    params,
		Schema:    schema,
		BaseScore: baseScore(objective, y),
		Trees:     make([]Tree, 0, params.NEstimators),
		TrainedAt: time.Now().UTC(),
		Rows:      n,
	}

	margin := make([]float64, n)
	for i := range margin {
		margin[i] = m.BaseScore
	}
	grad := make([]float64, n)
	hess := make([]float64, n)

	for t := 0; t < params.NEstimators; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		gradients(objective, margin, y, grad, hess)

		rows := sample(rng, n, params.Subsample)
		cols := sample(rng, width, params.ColsampleByTree)
		tree := gr.grow(rows, cols, grad, hess)
		m.Trees = append(m.Trees, tree)

		for i, row := range X {
			margin[i] += tree.Predict(row)
		}
	}
	return m, nil
}

func baseScore(objective Objective, y []float64) float64 {
	var sum float64
	for _, v := range y {
		sum += v
	}
	mean := sum / float64(len(y))
	if objective == ObjectiveLogistic {
		p := math.Min(math.Max(mean, 1e-6), 1-1e-6)
		return math.Log(p / (1 - p))
	}
	return mean
}

func gradients(objective Objective, margin, y, grad, hess []float64) {
	switch objective {
	case ObjectiveLogistic:
		for i, m := range margin {
			p := sigmoid(m)
			grad[i] = p - y[i]
			hess[i] = p * (1 - p)
		}
	default:
		for i, m := range margin {
			grad[i] = m - y[i]
			hess[i] = 1
		}
	}
}

// sample returns a sorted random subset of [0, n) of size ceil(frac*n).
func sample(rng *rand.Rand, n int, frac float64) []int {
	k := int(math.Ceil(frac * float64(n)))
	if k >= n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	k = max(k, 1)
	picked := make([]bool, n)
	for _, i := range rng.Perm(n)[:k] {
		picked[i] = true
	}
	out := make([]int, 0, k)
	for i, ok := range picked {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Margin returns the untransformed score for x.
func (m *Model) Margin(x []float64) (float64, error) {
	if len(x) != m.Schema.Len() {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(x), m.Schema.Len())
	}
	s := m.BaseScore
	for i := range m.Trees {
		s += m.Trees[i].Predict(x)
	}
	return s, nil
}

// Predict returns delay minutes for a regressor, or the probability of a
// delay for a classifier.
func (m *Model) Predict(x []float64) (float64, error) {
	s, err := m.Margin(x)
	if err != nil {
		return 0, err
	}
	if m.Objective == ObjectiveLogistic {
		return sigmoid(s), nil
	}
	return s, nil
}

// PredictBatch predicts every row of X.
func (m *Model) PredictBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		v, err := m.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Classify thresholds the classifier probability at 0.5.
func (m *Model) Classify(x []float64) (bool, error) {
	if m.Objective != ObjectiveLogistic {
		return false, fmt.Errorf("%w: %s cannot classify", ErrObjectiveMismatch, m.Objective)
	}
	p, err := m.Predict(x)
	if err != nil {
		return false, err
	}
	return p >= 0.5, nil
}
