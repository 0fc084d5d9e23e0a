package model

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Params are the booster hyperparameters. Names follow the XGBoost
// conventions so search spaces read the same.
type Params struct {
	NEstimators     int     `json:"n_estimators" yaml:"n_estimators" validate:"gte=1,lte=5000"`
	MaxDepth        int     `json:"max_depth" yaml:"max_depth" validate:"gte=1,lte=16"`
	LearningRate    float64 `json:"learning_rate" yaml:"learning_rate" validate:"gt=0,lte=1"`
	Subsample       float64 `json:"subsample" yaml:"subsample" validate:"gt=0,lte=1"`
	ColsampleByTree float64 `json:"colsample_bytree" yaml:"colsample_bytree" validate:"gt=0,lte=1"`
	Gamma           float64 `json:"gamma" yaml:"gamma" validate:"gte=0"`
	Lambda          float64 `json:"lambda" yaml:"lambda" validate:"gte=0"`
	MinChildWeight  float64 `json:"min_child_weight" yaml:"min_child_weight" validate:"gte=0"`
	MaxBins         int     `json:"max_bins" yaml:"max_bins" validate:"gte=2,lte=256"`
	Seed            uint64  `json:"seed" yaml:"seed"`
}

// DefaultParams returns XGBoost's defaults with histogram binning.
func DefaultParams() Params {
	return Params{
		NEstimators:     100,
		MaxDepth:        6,
		LearningRate:    0.3,
		Subsample:       1,
		ColsampleByTree: 1,
		Gamma:           0,
		Lambda:          1,
		MinChildWeight:  1,
		MaxBins:         256,
		Seed:            42,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every parameter range.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid booster params: %w", err)
	}
	return nil
}
