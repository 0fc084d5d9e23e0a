package worker

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Subscriber feeds Pub/Sub messages to a Dispatcher.
type Subscriber struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// SubscriberConfig holds configuration for the Pub/Sub subscriber.
type SubscriberConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// NewSubscriber creates a subscriber. Pipeline runs can take minutes, so
// leases are extended for up to an hour and few messages are held at once.
func NewSubscriber(ctx context.Context, cfg SubscriberConfig) (*Subscriber, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	sub := client.Subscriber(cfg.SubscriptionName)
	sub.ReceiveSettings.MaxOutstandingMessages = 2
	sub.ReceiveSettings.MaxExtension = time.Hour

	return &Subscriber{
		client:           client,
		subscriber:       sub,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start processes messages until ctx is done.
func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info().
		Str("subscription", s.subscriptionName).
		Msg("starting pubsub subscriber")

	return s.subscriber.Receive(ctx, s.handleMessage)
}

// Close closes the Pub/Sub client.
func (s *Subscriber) Close() error {
	return s.client.Close()
}

func (s *Subscriber) handleMessage(ctx context.Context, msg *pubsub.Message) {
	start := time.Now()
	logger := s.logger.With().
		Str("message_id", msg.ID).
		Time("publish_time", msg.PublishTime).
		Logger()

	jobType, err := s.dispatcher.Handle(ctx, msg.Data)
	logger = logger.With().Str("job_type", jobType).Logger()

	switch {
	case err == nil:
		logger.Info().Dur("duration", time.Since(start)).Msg("job completed")
		msg.Ack()
	case Permanent(err):
		// Redelivery would fail the same way.
		logger.Warn().Err(err).Msg("dropping job")
		msg.Ack()
	default:
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
		msg.Nack()
	}
}
