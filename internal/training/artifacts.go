package training

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/transitx/transitx/internal/artifact"
	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/model"
)

// Artifact names inside the models container.
const (
	RegressorFile  = "gbdt_regressor.json"
	ClassifierFile = "gbdt_classifier.json"
	EncodersFile   = "encoders.json"
	ReportFile     = "training_report.json"
)

// Report is the persisted summary of a training run.
type Report struct {
	TrainRows         int                        `json:"train_rows"`
	TestRows          int                        `json:"test_rows"`
	SchemaFingerprint string                     `json:"schema_fingerprint"`
	RegressorParams   model.Params               `json:"regressor_params"`
	ClassifierParams  model.Params               `json:"classifier_params"`
	Regression        model.RegressionReport     `json:"regression"`
	Classification    model.ClassificationReport `json:"classification"`
}

// Persist writes both models and the run report.
func Persist(ctx context.Context, store artifact.Store, res *Result) error {
	for name, m := range map[string]*model.Model{
		RegressorFile:  res.Regressor,
		ClassifierFile: res.Classifier,
	} {
		var buf bytes.Buffer
		if err := m.Save(&buf); err != nil {
			return fmt.Errorf("encoding %s: %w", name, err)
		}
		if err := store.Put(ctx, artifact.ContainerModels, name, &buf); err != nil {
			return err
		}
	}

	report, err := json.MarshalIndent(Report{
		TrainRows:         res.TrainRows,
		TestRows:          res.TestRows,
		SchemaFingerprint: res.Regressor.Schema.Fingerprint(),
		RegressorParams:   res.Regressor.Params,
		ClassifierParams:  res.Classifier.Params,
		Regression:        res.Regression,
		Classification:    res.Classification,
	}, "", "  ")
	if err != nil {
		return err
	}
	return artifact.PutBytes(ctx, store, artifact.ContainerModels, ReportFile, report)
}

// LoadModels reads both models and checks them against schema.
func LoadModels(ctx context.Context, store artifact.Store, schema features.Schema) (regressor, classifier *model.Model, err error) {
	regressor, err = loadModel(ctx, store, RegressorFile, schema, model.ObjectiveSquaredError)
	if err != nil {
		return nil, nil, err
	}
	classifier, err = loadModel(ctx, store, ClassifierFile, schema, model.ObjectiveLogistic)
	if err != nil {
		return nil, nil, err
	}
	return regressor, classifier, nil
}

func loadModel(ctx context.Context, store artifact.Store, name string, schema features.Schema, objective model.Objective) (*model.Model, error) {
	rc, err := store.Get(ctx, artifact.ContainerModels, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	m, err := model.Load(rc, schema, objective)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}
	return m, nil
}

// SaveEncoders persists the registry.
func SaveEncoders(ctx context.Context, store artifact.Store, reg *features.Registry) error {
	var buf bytes.Buffer
	if err := reg.Save(&buf); err != nil {
		return err
	}
	return store.Put(ctx, artifact.ContainerModels, EncodersFile, &buf)
}

// LoadEncoders reads the registry.
func LoadEncoders(ctx context.Context, store artifact.Store) (*features.Registry, error) {
	rc, err := store.Get(ctx, artifact.ContainerModels, EncodersFile)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	reg, err := features.LoadRegistry(rc)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", EncodersFile, err)
	}
	return reg, nil
}
