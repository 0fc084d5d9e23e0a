package prediction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/model"
)

// Event is one batch prediction as published to the prediction stream.
type Event struct {
	ID               string    `json:"id"`
	Row              int       `json:"row"`
	PredDelayMinutes int       `json:"pred_delay_minutes"`
	PredIsDelayed    bool      `json:"pred_is_delayed"`
	DelayProbability float64   `json:"delay_probability"`
	ModelTrainedAt   time.Time `json:"model_trained_at"`
	PredictedAt      time.Time `json:"predicted_at"`
}

// Publisher sends prediction events downstream.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// BatchConfig holds the models and optional publisher for batch scoring.
type BatchConfig struct {
	Regressor  *model.Model
	Classifier *model.Model
	Schema     features.Schema

	// Publisher is optional; nil disables streaming.
	Publisher Publisher

	// PublishBatchSize bounds the events sent per Publish call.
	PublishBatchSize int

	Logger zerolog.Logger
	Clock  clockwork.Clock
}

// Batch scores a full feature table with both models.
type Batch struct {
	regressor  *model.Model
	classifier *model.Model
	publisher  Publisher
	batchSize  int
	logger     zerolog.Logger
	clock      clockwork.Clock
}

// NewBatch checks both models against schema.
func NewBatch(cfg BatchConfig) (*Batch, error) {
	if cfg.Regressor == nil || cfg.Classifier == nil {
		return nil, errors.New("both regressor and classifier are required")
	}
	if cfg.Regressor.Objective != model.ObjectiveSquaredError {
		return nil, fmt.Errorf("%w: regressor is %s", model.ErrObjectiveMismatch, cfg.Regressor.Objective)
	}
	if cfg.Classifier.Objective != model.ObjectiveLogistic {
		return nil, fmt.Errorf("%w: classifier is %s", model.ErrObjectiveMismatch, cfg.Classifier.Objective)
	}
	if err := cfg.Schema.Compatible(cfg.Regressor.Schema); err != nil {
		return nil, fmt.Errorf("regressor: %w", err)
	}
	if err := cfg.Schema.Compatible(cfg.Classifier.Schema); err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	if cfg.PublishBatchSize <= 0 {
		cfg.PublishBatchSize = 500
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Batch{
		regressor:  cfg.Regressor,
		classifier: cfg.Classifier,
		publisher:  cfg.Publisher,
		batchSize:  cfg.PublishBatchSize,
		logger:     cfg.Logger.With().Str("component", "batch_predictor").Logger(),
		clock:      cfg.Clock,
	}, nil
}

// Predict scores every row of X and publishes the results when a publisher
// is configured. Rows are returned in input order.
func (b *Batch) Predict(ctx context.Context, X [][]float64) ([]Event, error) {
	now := b.clock.Now().UTC()
	events := make([]Event, len(X))
	for i, x := range X {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw, err := b.regressor.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		p, err := b.classifier.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		events[i] = Event{
			ID:               uuid.NewString(),
			Row:              i,
			PredDelayMinutes: DelayMinutes(raw),
			PredIsDelayed:    p >= 0.5,
			DelayProbability: p,
			ModelTrainedAt:   b.regressor.TrainedAt,
			PredictedAt:      now,
		}
	}

	if b.publisher != nil {
		if err := b.publish(ctx, events); err != nil {
			return nil, err
		}
	}

	b.logger.Info().Int("rows", len(events)).Bool("published", b.publisher != nil).Msg("batch predictions complete")
	return events, nil
}

func (b *Batch) publish(ctx context.Context, events []Event) error {
	for start := 0; start < len(events); start += b.batchSize {
		end := min(start+b.batchSize, len(events))
		if err := b.publisher.Publish(ctx, events[start:end]); err != nil {
			return fmt.Errorf("publishing predictions %d-%d: %w", start, end-1, err)
		}
	}
	return nil
}
