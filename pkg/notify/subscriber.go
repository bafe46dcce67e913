package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-recordview/pkg/records"
	"github.com/rs/zerolog"
)

// NoticeHandler reacts to a change notice. Returning an error redelivers the
// notice later.
type NoticeHandler func(ctx context.Context, n Notice) error

// GoogleSubscriberConfig configures a GoogleSubscriber.
type GoogleSubscriberConfig struct {
	SubscriptionID         string `yaml:"subscription_id"`
	MaxOutstandingMessages int    `yaml:"max_outstanding_messages"`
	NumGoroutines          int    `yaml:"num_goroutines"`
}

// NewGoogleSubscriberDefaults returns a config for subID.
// RECORDVIEW_NOTICE_SUBSCRIPTION and RECORDVIEW_NOTICE_GOROUTINES override
// the subscription and receive concurrency.
func NewGoogleSubscriberDefaults(subID string) *GoogleSubscriberConfig {
	cfg := &GoogleSubscriberConfig{
		SubscriptionID:         subID,
		MaxOutstandingMessages: 100,
		NumGoroutines:          2,
	}
	if sub := os.Getenv("RECORDVIEW_NOTICE_SUBSCRIPTION"); sub != "" {
		cfg.SubscriptionID = sub
	}
	if n := os.Getenv("RECORDVIEW_NOTICE_GOROUTINES"); n != "" {
		if val, err := strconv.Atoi(n); err == nil && val > 0 {
			cfg.NumGoroutines = val
		}
	}
	return cfg
}

// GoogleSubscriber receives change notices from a Pub/Sub subscription and
// hands each one to a NoticeHandler.
type GoogleSubscriber struct {
	subscription *pubsub.Subscription
	handler      NoticeHandler
	logger       zerolog.Logger

	stopOnce sync.Once
	cancel   context.CancelFunc
	doneChan chan struct{}
}

// NewGoogleSubscriber creates a subscriber after checking that the
// subscription exists.
func NewGoogleSubscriber(ctx context.Context, cfg *GoogleSubscriberConfig, client *pubsub.Client, handler NoticeHandler, logger zerolog.Logger) (*GoogleSubscriber, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if handler == nil {
		return nil, errors.New("notice handler cannot be nil")
	}
	sub := client.Subscription(cfg.SubscriptionID)

	existsCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check existence of subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub subscription %s does not exist", cfg.SubscriptionID)
	}

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	return &GoogleSubscriber{
		subscription: sub,
		handler:      handler,
		logger:       logger.With().Str("component", "GoogleSubscriber").Str("subscription_id", cfg.SubscriptionID).Logger(),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start begins receiving in the background until ctx is done or Stop is called.
func (s *GoogleSubscriber) Start(ctx context.Context) error {
	receiveCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer close(s.doneChan)
		defer s.logger.Info().Msg("Notice receiver stopped.")

		s.logger.Info().Msg("Notice receiver started.")
		err := s.subscription.Receive(receiveCtx, s.receive)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

func (s *GoogleSubscriber) receive(ctx context.Context, msg *pubsub.Message) {
	var n Notice
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		// Redelivery cannot fix a malformed notice.
		s.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Dropping malformed notice.")
		msg.Ack()
		return
	}
	kind, err := records.ParseKind(string(n.Kind))
	if err != nil || n.ID == "" {
		s.logger.Warn().Str("msg_id", msg.ID).Str("kind", string(n.Kind)).Msg("Dropping notice for an unknown record.")
		msg.Ack()
		return
	}
	n.Kind = kind

	if err := s.handler(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("msg_id", msg.ID).Str("entity", records.EntityID{Kind: kind, ID: n.ID}.String()).Msg("Notice handler failed, nacking.")
		msg.Nack()
		return
	}
	msg.Ack()
}

// Stop cancels receiving and waits for the receiver to return.
func (s *GoogleSubscriber) Stop() error {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		select {
		case <-s.doneChan:
		case <-time.After(30 * time.Second):
			s.logger.Error().Msg("Timeout waiting for the notice receiver to stop.")
		}
	})
	return nil
}

// Done is closed once the receiver has returned.
func (s *GoogleSubscriber) Done() <-chan struct{} {
	return s.doneChan
}
