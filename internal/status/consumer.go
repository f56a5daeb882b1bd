package status

import (
	"context"
	"encoding/json"

	"chat4all/internal/logger"
	"chat4all/pkg/logging"
	"chat4all/pkg/metrics"
	"chat4all/pkg/models"

	apperrors "chat4all/pkg/errors"
)

// Notifier receives status updates that passed validation so they can be
// pushed to connected clients.
type Notifier interface {
	Publish(userID string, update models.StatusUpdate)
}

// Consumer applies incoming status updates against the message store. The
// status lifecycle only moves forward: an update that would move a message
// backwards, duplicate its current state, or leave a terminal state is
// dropped, as is an update for an unknown message id. Dropped updates are
// acknowledged so they are not redelivered.
type Consumer struct {
	repository Repository
	notifier   Notifier
	logger     logger.Logger
}

func NewConsumer(repository Repository, notifier Notifier, log logger.Logger) *Consumer {
	return &Consumer{
		repository: repository,
		notifier:   notifier,
		logger:     log,
	}
}

// HandleMessage is the broker handler for the status topic.
func (c *Consumer) HandleMessage(ctx context.Context, key string, value []byte) error {
	var update models.StatusUpdate
	if err := json.Unmarshal(value, &update); err != nil {
		metrics.StatusUpdatesTotal.WithLabelValues("unknown", "malformed").Inc()
		c.logger.ErrorwCtx(ctx, "Dropping malformed status update", "error", err, "key", key)
		return nil
	}
	return c.Apply(ctx, update)
}

func (c *Consumer) Apply(ctx context.Context, update models.StatusUpdate) error {
	ctx = logging.WithMessageID(ctx, update.MessageID)
	statusLabel := string(update.NewStatus)

	if !update.NewStatus.Valid() {
		metrics.StatusUpdatesTotal.WithLabelValues(statusLabel, "invalid").Inc()
		c.logger.WarnwCtx(ctx, "Dropping status update with unknown status",
			"status", update.NewStatus,
			"source", update.Source,
		)
		return nil
	}

	stored, err := c.repository.GetMessage(ctx, update.MessageID)
	if apperrors.IsNotFound(err) {
		metrics.StatusUpdatesTotal.WithLabelValues(statusLabel, "unknown_message").Inc()
		c.logger.WarnwCtx(ctx, "Dropping status update for unknown message",
			"status", update.NewStatus,
			"source", update.Source,
		)
		return nil
	}
	if err != nil {
		return err
	}

	if !stored.Status.CanTransitionTo(update.NewStatus) {
		metrics.StatusUpdatesTotal.WithLabelValues(statusLabel, "illegal_transition").Inc()
		c.logger.WarnwCtx(ctx, "Dropping illegal status transition",
			"current_status", stored.Status,
			"new_status", update.NewStatus,
			"source", update.Source,
		)
		return nil
	}

	if err := c.repository.UpdateStatus(ctx, update.MessageID, update.NewStatus, update.Timestamp); err != nil {
		metrics.StatusUpdatesTotal.WithLabelValues(statusLabel, "store_error").Inc()
		return err
	}

	metrics.StatusUpdatesTotal.WithLabelValues(statusLabel, "applied").Inc()
	c.logger.InfowCtx(ctx, "Applied status update",
		"previous_status", stored.Status,
		"new_status", update.NewStatus,
		"source", update.Source,
	)

	if c.notifier != nil {
		c.notifier.Publish(stored.SenderID, update)
		for _, recipientID := range stored.RecipientIDs {
			c.notifier.Publish(recipientID, update)
		}
	}
	return nil
}
