// Package notify announces record changes made through this client. Notices
// are informational: receiving one never invalidates anything by itself.
package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// Publisher sends one message at a time.
type Publisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes pending messages, bounded by ctx.
	Stop(ctx context.Context) error
}

// GooglePublisherConfig holds configuration for the Pub/Sub publisher.
type GooglePublisherConfig struct {
	TopicID            string        `yaml:"topic_id"`
	TopicExistsTimeout time.Duration `yaml:"topic_exists_timeout"`
	ConfirmTimeout     time.Duration `yaml:"confirm_timeout"`
}

// NewGooglePublisherDefaults returns a config for topicID with default
// timeouts. RECORDVIEW_NOTICE_TOPIC and RECORDVIEW_NOTICE_CONFIRM_TIMEOUT
// override the topic and confirmation timeout.
func NewGooglePublisherDefaults(topicID string) *GooglePublisherConfig {
	cfg := &GooglePublisherConfig{
		TopicID:            topicID,
		TopicExistsTimeout: 15 * time.Second,
		ConfirmTimeout:     30 * time.Second,
	}
	if topic := os.Getenv("RECORDVIEW_NOTICE_TOPIC"); topic != "" {
		cfg.TopicID = topic
	}
	if ct := os.Getenv("RECORDVIEW_NOTICE_CONFIRM_TIMEOUT"); ct != "" {
		if val, err := time.ParseDuration(ct); err == nil {
			cfg.ConfirmTimeout = val
		}
	}
	return cfg
}

// GooglePublisher publishes directly to a Pub/Sub topic without batching.
type GooglePublisher struct {
	topic          *pubsub.Topic
	confirmTimeout time.Duration
	logger         zerolog.Logger
}

// NewGooglePublisher creates a publisher for cfg.TopicID after checking that
// the topic exists.
func NewGooglePublisher(ctx context.Context, cfg *GooglePublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*GooglePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(cfg.TopicID)

	existsCtx := ctx
	if cfg.TopicExistsTimeout > 0 {
		var cancel context.CancelFunc
		existsCtx, cancel = context.WithTimeout(ctx, cfg.TopicExistsTimeout)
		defer cancel()
	}
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 30 * time.Second
	}
	return &GooglePublisher{
		topic:          topic,
		confirmTimeout: confirmTimeout,
		logger:         logger.With().Str("component", "GooglePublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish queues a message and returns. The publish result is logged
// asynchronously.
func (p *GooglePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	go func() {
		// A fresh context, the caller's may already be done.
		getCtx, cancel := context.WithTimeout(context.Background(), p.confirmTimeout)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Msg("Failed to publish notice")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Msg("Notice published.")
	}()

	return nil
}

// Stop flushes pending messages for the topic, respecting the context's timeout.
func (p *GooglePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}

	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogPublisher writes every message to a logger. It is the publisher used when
// no topic is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "LogPublisher").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, payload []byte, attributes map[string]string) error {
	ev := p.logger.Info().RawJSON("payload", payload)
	for k, v := range attributes {
		ev = ev.Str("attr_"+k, v)
	}
	ev.Msg("Notice.")
	return nil
}

func (p *LogPublisher) Stop(context.Context) error {
	return nil
}
