// Package training tunes, fits and evaluates the delay regressor and the
// delayed/on-time classifier, and persists them as artifacts.
package training

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/model"
	"github.com/transitx/transitx/internal/telemetry"
)

// Config controls the search and the holdout split.
type Config struct {
	Space SearchSpace

	// Base supplies the parameters the search does not vary.
	Base model.Params

	NIter    int
	Folds    int
	TestSize float64
	Seed     uint64

	// Workers bounds concurrent fold fits. Zero uses GOMAXPROCS.
	Workers int

	Logger  zerolog.Logger
	Metrics *telemetry.Collectors
}

// DefaultConfig returns 20 candidates, 3 folds, a 20% holdout and seed 42.
func DefaultConfig() Config {
	return Config{
		Space:    DefaultSearchSpace(),
		Base:     model.DefaultParams(),
		NIter:    20,
		Folds:    3,
		TestSize: 0.2,
		Seed:     42,
	}
}

// Dataset is the encoded feature table with both targets.
type Dataset struct {
	Schema  features.Schema
	X       [][]float64
	Delay   []float64
	Delayed []float64
}

// Validate checks the targets line up with the rows.
func (d Dataset) Validate() error {
	if len(d.X) == 0 {
		return model.ErrEmptyDataset
	}
	if len(d.Delay) != len(d.X) || len(d.Delayed) != len(d.X) {
		return fmt.Errorf("dataset has %d rows, %d delays, %d labels", len(d.X), len(d.Delay), len(d.Delayed))
	}
	return nil
}

// Result is the outcome of a training run.
type Result struct {
	Regressor  *model.Model
	Classifier *model.Model

	RegressorTrials  []Trial
	ClassifierTrials []Trial

	Regression     model.RegressionReport
	Classification model.ClassificationReport

	TrainRows int
	TestRows  int
}

// Run splits the data, tunes each model on the training split with
// cross-validation, refits the best candidate and scores it on the holdout.
func Run(ctx context.Context, cfg Config, ds Dataset) (*Result, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if cfg.NIter <= 0 {
		return nil, errors.New("n_iter must be positive")
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	trainIdx, testIdx := Split(len(ds.X), cfg.TestSize, rng)
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, fmt.Errorf("split of %d rows left an empty side", len(ds.X))
	}

	trainX, trainDelay := pick(ds.X, ds.Delay, trainIdx)
	testX, testDelay := pick(ds.X, ds.Delay, testIdx)
	_, trainDelayed := pick(ds.X, ds.Delayed, trainIdx)
	_, testDelayed := pick(ds.X, ds.Delayed, testIdx)

	cfg.Logger.Info().
		Int("train_rows", len(trainIdx)).
		Int("test_rows", len(testIdx)).
		Int("candidates", min(cfg.NIter, cfg.Space.Size())).
		Int("folds", cfg.Folds).
		Msg("starting hyperparameter search")

	base := cfg.Base
	base.Seed = cfg.Seed

	res := &Result{TrainRows: len(trainIdx), TestRows: len(testIdx)}

	var err error
	res.Regressor, res.RegressorTrials, err = tune(ctx, cfg, rng, base, ds.Schema,
		model.ObjectiveSquaredError, NegMAE, trainX, trainDelay)
	if err != nil {
		return nil, fmt.Errorf("tuning regressor: %w", err)
	}
	res.Classifier, res.ClassifierTrials, err = tune(ctx, cfg, rng, base, ds.Schema,
		model.ObjectiveLogistic, Accuracy, trainX, trainDelayed)
	if err != nil {
		return nil, fmt.Errorf("tuning classifier: %w", err)
	}

	predDelay, err := res.Regressor.PredictBatch(testX)
	if err != nil {
		return nil, err
	}
	res.Regression = model.EvaluateRegression(testDelay, predDelay)

	labels := make([]bool, len(testX))
	for i, row := range testX {
		if labels[i], err = res.Classifier.Classify(row); err != nil {
			return nil, err
		}
	}
	res.Classification = model.EvaluateClassification(testDelayed, labels)

	cfg.Logger.Info().
		Float64("mae", res.Regression.MAE).
		Float64("mse", res.Regression.MSE).
		Float64("r2", res.Regression.R2).
		Msg("regressor holdout metrics")
	cfg.Logger.Info().
		Float64("accuracy", res.Classification.Accuracy).
		Float64("f1", res.Classification.F1).
		Interface("confusion", res.Classification.Confusion.Matrix()).
		Msg("classifier holdout metrics")

	cfg.Metrics.SetModelMetric("regressor", "mae", res.Regression.MAE)
	cfg.Metrics.SetModelMetric("regressor", "mse", res.Regression.MSE)
	cfg.Metrics.SetModelMetric("regressor", "r2", res.Regression.R2)
	cfg.Metrics.SetModelMetric("classifier", "accuracy", res.Classification.Accuracy)
	cfg.Metrics.SetModelMetric("classifier", "f1", res.Classification.F1)

	return res, nil
}

func tune(ctx context.Context, cfg Config, rng *rand.Rand, base model.Params, schema features.Schema,
	objective model.Objective, scorer Scorer, X [][]float64, y []float64) (*model.Model, []Trial, error) {
	start := time.Now()
	searcher := &Searcher{
		Objective: objective,
		Schema:    schema,
		Scorer:    scorer,
		Folds:     cfg.Folds,
		Workers:   cfg.Workers,
	}
	candidates := cfg.Space.Candidates(cfg.NIter, base, rng)

	trials, best, err := searcher.Search(ctx, candidates, X, y, rng)
	if err != nil {
		return nil, nil, err
	}

	cfg.Logger.Info().
		Str("objective", string(objective)).
		Float64("cv_score", best.Score).
		Int("n_estimators", best.Params.NEstimators).
		Int("max_depth", best.Params.MaxDepth).
		Float64("learning_rate", best.Params.LearningRate).
		Float64("subsample", best.Params.Subsample).
		Float64("colsample_bytree", best.Params.ColsampleByTree).
		Float64("gamma", best.Params.Gamma).
		Dur("duration", time.Since(start)).
		Msg("best candidate")

	m, err := model.Train(ctx, objective, best.Params, schema, X, y)
	if err != nil {
		return nil, nil, fmt.Errorf("refitting best candidate: %w", err)
	}
	return m, trials, nil
}
