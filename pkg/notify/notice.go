package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/records"
	"github.com/rs/zerolog"
)

// Notice announces that a record was changed by a user of this client.
type Notice struct {
	Kind        records.Kind `json:"kind"`
	ID          string       `json:"id"`
	SessionUser string       `json:"session_user,omitempty"`
	ChangedAt   time.Time    `json:"changed_at"`
}

// Attributes are the message attributes a subscriber can filter on.
func (n Notice) Attributes() map[string]string {
	return map[string]string{
		"kind":      string(n.Kind),
		"entity_id": records.EntityID{Kind: n.Kind, ID: n.ID}.String(),
	}
}

// Notifier encodes notices and hands them to a Publisher.
type Notifier struct {
	publisher Publisher
	now       func() time.Time
	logger    zerolog.Logger
}

// NewNotifier creates a Notifier publishing through publisher.
func NewNotifier(publisher Publisher, logger zerolog.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With().Str("component", "Notifier").Logger(),
	}
}

// Changed publishes a notice for id on behalf of sessionUser.
func (n *Notifier) Changed(ctx context.Context, id records.EntityID, sessionUser string) error {
	notice := Notice{Kind: id.Kind, ID: id.ID, SessionUser: sessionUser, ChangedAt: n.now().UTC()}
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice for %s: %w", id, err)
	}
	if err := n.publisher.Publish(ctx, payload, notice.Attributes()); err != nil {
		n.logger.Error().Err(err).Str("entity", id.String()).Msg("Failed to publish change notice.")
		return fmt.Errorf("failed to publish notice for %s: %w", id, err)
	}
	return nil
}

// Stop flushes the underlying publisher.
func (n *Notifier) Stop(ctx context.Context) error {
	return n.publisher.Stop(ctx)
}
