package training

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/model"
)

// SearchSpace lists candidate values per hyperparameter.
type SearchSpace struct {
	NEstimators     []int     `yaml:"n_estimators" validate:"required,dive,gte=1"`
	MaxDepth        []int     `yaml:"max_depth" validate:"required,dive,gte=1,lte=16"`
	LearningRate    []float64 `yaml:"learning_rate" validate:"required,dive,gt=0,lte=1"`
	Subsample       []float64 `yaml:"subsample" validate:"required,dive,gt=0,lte=1"`
	ColsampleByTree []float64 `yaml:"colsample_bytree" validate:"required,dive,gt=0,lte=1"`
	Gamma           []float64 `yaml:"gamma" validate:"required,dive,gte=0"`
}

// DefaultSearchSpace is the grid both models are tuned over.
func DefaultSearchSpace() SearchSpace {
	return SearchSpace{
		NEstimators:     []int{200, 300, 500},
		MaxDepth:        []int{4, 6, 8, 10},
		LearningRate:    []float64{0.01, 0.05, 0.1},
		Subsample:       []float64{0.7, 0.9, 1.0},
		ColsampleByTree: []float64{0.7, 1.0},
		Gamma:           []float64{0, 2, 5},
	}
}

// Size is the number of distinct combinations.
func (s SearchSpace) Size() int {
	return len(s.NEstimators) * len(s.MaxDepth) * len(s.LearningRate) *
		len(s.Subsample) * len(s.ColsampleByTree) * len(s.Gamma)
}

// At decodes combination i (mixed radix, Gamma varying fastest) on top of base.
func (s SearchSpace) At(i int, base model.Params) model.Params {
	p := base
	pick := func(n int) int {
		k := i % n
		i /= n
		return k
	}
	p.Gamma = s.Gamma[pick(len(s.Gamma))]
	p.ColsampleByTree = s.ColsampleByTree[pick(len(s.ColsampleByTree))]
	p.Subsample = s.Subsample[pick(len(s.Subsample))]
	p.LearningRate = s.LearningRate[pick(len(s.LearningRate))]
	p.MaxDepth = s.MaxDepth[pick(len(s.MaxDepth))]
	p.NEstimators = s.NEstimators[pick(len(s.NEstimators))]
	return p
}

// Candidates draws n distinct combinations, or the whole grid when it has
// no more than n.
func (s SearchSpace) Candidates(n int, base model.Params, rng *rand.Rand) []model.Params {
	size := s.Size()
	var idx []int
	if n >= size {
		idx = make([]int, size)
		for i := range idx {
			idx[i] = i
		}
	} else {
		idx = rng.Perm(size)[:n]
	}
	out := make([]model.Params, len(idx))
	for k, i := range idx {
		out[k] = s.At(i, base)
	}
	return out
}

// Scorer rates predictions against targets; higher is better.
type Scorer func(y, pred []float64) float64

// NegMAE scores regressors.
func NegMAE(y, pred []float64) float64 {
	return -model.EvaluateRegression(y, pred).MAE
}

// Accuracy scores classifier probabilities thresholded at 0.5.
func Accuracy(y, prob []float64) float64 {
	labels := make([]bool, len(prob))
	for i, p := range prob {
		labels[i] = p >= 0.5
	}
	return model.EvaluateClassification(y, labels).Accuracy
}

// Trial is one evaluated candidate.
type Trial struct {
	Params model.Params
	Score  float64
}

// Searcher runs randomized search with k-fold cross-validation.
type Searcher struct {
	Objective model.Objective
	Schema    features.Schema
	Scorer    Scorer
	Folds     int
	Workers   int
}

// Search returns every trial and the best one. Ties keep the earlier trial.
func (s *Searcher) Search(ctx context.Context, candidates []model.Params, X [][]float64, y []float64, rng *rand.Rand) ([]Trial, Trial, error) {
	if len(candidates) == 0 {
		return nil, Trial{}, errors.New("no candidates to search")
	}
	if s.Folds < 2 || s.Folds > len(X) {
		return nil, Trial{}, fmt.Errorf("cannot run %d-fold cross-validation on %d rows", s.Folds, len(X))
	}
	folds := KFold(len(X), s.Folds, rng)

	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trials := make([]Trial, len(candidates))
	scores := make([][]float64, len(candidates))
	for i := range scores {
		scores[i] = make([]float64, len(folds))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for c, params := range candidates {
		for f, held := range folds {
			g.Go(func() error {
				score, err := s.foldScore(gctx, params, X, y, held)
				if err != nil {
					return fmt.Errorf("candidate %d fold %d: %w", c, f, err)
				}
				scores[c][f] = score
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, Trial{}, err
	}

	best := 0
	for c, params := range candidates {
		var sum float64
		for _, v := range scores[c] {
			sum += v
		}
		trials[c] = Trial{Params: params, Score: sum / float64(len(folds))}
		if trials[c].Score > trials[best].Score {
			best = c
		}
	}
	return trials, trials[best], nil
}

func (s *Searcher) foldScore(ctx context.Context, params model.Params, X [][]float64, y []float64, held []int) (float64, error) {
	trainX, trainY, testX, testY := partition(X, y, held)
	m, err := model.Train(ctx, s.Objective, params, s.Schema, trainX, trainY)
	if err != nil {
		return 0, err
	}
	pred, err := m.PredictBatch(testX)
	if err != nil {
		return 0, err
	}
	return s.Scorer(testY, pred), nil
}

// partition splits rows into those not in held and those in held.
func partition(X [][]float64, y []float64, held []int) (trainX [][]float64, trainY []float64, testX [][]float64, testY []float64) {
	in := make([]bool, len(X))
	for _, i := range held {
		in[i] = true
	}
	for i := range X {
		if in[i] {
			testX = append(testX, X[i])
			testY = append(testY, y[i])
		} else {
			trainX = append(trainX, X[i])
			trainY = append(trainY, y[i])
		}
	}
	return trainX, trainY, testX, testY
}
