package dlq

import (
	"context"
	"time"

	"chat4all/internal/broker"
	"chat4all/internal/logger"
	"chat4all/pkg/metrics"
	"chat4all/pkg/models"
)

// Handler routes undeliverable events to the dead-letter topic. When the
// topic itself is unavailable the event is written to the Postgres fallback
// table instead, so a dead-lettered event is never silently dropped.
type Handler struct {
	producer broker.Producer
	fallback FallbackRepository
	topic    string
	logger   logger.Logger
}

func NewHandler(producer broker.Producer, fallback FallbackRepository, topic string, log logger.Logger) *Handler {
	return &Handler{
		producer: producer,
		fallback: fallback,
		topic:    topic,
		logger:   log,
	}
}

// DeadLetter records the event with the reason it became undeliverable and
// how many delivery attempts were made before giving up.
func (h *Handler) DeadLetter(ctx context.Context, event models.MessageEvent, reason string, attemptsMade int) {
	metrics.DLQMessagesTotal.WithLabelValues(reason).Inc()

	deadLetter := models.DeadLetterEvent{
		Event:        event,
		Reason:       reason,
		AttemptsMade: attemptsMade,
		FailedAt:     time.Now(),
	}

	err := h.producer.Publish(ctx, h.topic, event.MessageID, deadLetter)
	if err == nil {
		h.logger.WarnwCtx(ctx, "Dead-lettered message",
			"reason", reason,
			"attempts_made", attemptsMade,
		)
		return
	}

	h.logger.ErrorwCtx(ctx, "Failed to publish to dead letter topic, using fallback store",
		"reason", reason,
		"error", err,
	)

	if fallbackErr := h.fallback.Save(ctx, deadLetter); fallbackErr != nil {
		metrics.DLQFallbackWritesTotal.WithLabelValues("error").Inc()
		h.logger.ErrorwCtx(ctx, "Failed to save dead letter event to fallback store",
			"reason", reason,
			"error", fallbackErr,
		)
		return
	}
	metrics.DLQFallbackWritesTotal.WithLabelValues("success").Inc()
}
