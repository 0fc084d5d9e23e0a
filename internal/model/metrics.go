package model

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RegressionReport holds holdout metrics for the delay regressor.
type RegressionReport struct {
	MAE float64 `json:"mae"`
	MSE float64 `json:"mse"`
	R2  float64 `json:"r2"`
}

// EvaluateRegression compares predictions against targets.
func EvaluateRegression(y, pred []float64) RegressionReport {
	abs := make([]float64, len(y))
	sq := make([]float64, len(y))
	for i := range y {
		d := pred[i] - y[i]
		abs[i] = math.Abs(d)
		sq[i] = d * d
	}
	return RegressionReport{
		MAE: stat.Mean(abs, nil),
		MSE: stat.Mean(sq, nil),
		R2:  stat.RSquaredFrom(pred, y, nil),
	}
}

// Confusion counts binary outcomes with "delayed" as the positive class.
type Confusion struct {
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TP int `json:"tp"`
}

// Total returns the number of samples.
func (c Confusion) Total() int { return c.TN + c.FP + c.FN + c.TP }

// Accuracy is the share of correct labels.
func (c Confusion) Accuracy() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.TP+c.TN) / float64(c.Total())
}

func (c Confusion) Precision() float64 {
	if c.TP+c.FP == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FP)
}

func (c Confusion) Recall() float64 {
	if c.TP+c.FN == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FN)
}

// F1 is the harmonic mean of precision and recall, 0 when both are 0.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Matrix returns [[TN, FP], [FN, TP]].
func (c Confusion) Matrix() [2][2]int {
	return [2][2]int{{c.TN, c.FP}, {c.FN, c.TP}}
}

// ClassificationReport holds holdout metrics for the classifier.
type ClassificationReport struct {
	Accuracy  float64   `json:"accuracy"`
	F1        float64   `json:"f1"`
	Confusion Confusion `json:"confusion"`
}

// EvaluateClassification compares predicted labels against 0/1 targets.
func EvaluateClassification(y []float64, pred []bool) ClassificationReport {
	var c Confusion
	for i, v := range y {
		actual := v >= 0.5
		switch {
		case actual && pred[i]:
			c.TP++
		case actual:
			c.FN++
		case pred[i]:
			c.FP++
		default:
			c.TN++
		}
	}
	return ClassificationReport{Accuracy: c.Accuracy(), F1: c.F1(), Confusion: c}
}
