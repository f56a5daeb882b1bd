package status

import (
	"context"
	"time"

	"chat4all/internal/broker"
	"chat4all/internal/logger"
	"chat4all/pkg/metrics"
	"chat4all/pkg/models"
)

// Publisher emits StatusUpdate records keyed by message id, which keeps the
// updates for one message on a single partition and therefore ordered.
// Publishing is fire-and-forget: a failed publish is logged and counted but
// never blocks or fails delivery.
type Publisher struct {
	producer broker.Producer
	topic    string
	source   string
	logger   logger.Logger
}

func NewPublisher(producer broker.Producer, topic, source string, log logger.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		source:   source,
		logger:   log,
	}
}

func (p *Publisher) Publish(ctx context.Context, messageID string, newStatus models.MessageStatus, errorMessage string) {
	update := models.StatusUpdate{
		MessageID:    messageID,
		NewStatus:    newStatus,
		Timestamp:    time.Now(),
		Source:       p.source,
		ErrorMessage: errorMessage,
	}

	if err := p.producer.Publish(ctx, p.topic, messageID, update); err != nil {
		metrics.StatusPublishFailuresTotal.Inc()
		p.logger.WarnwCtx(ctx, "Failed to publish status update",
			"status", newStatus,
			"error", err,
		)
		return
	}

	p.logger.DebugwCtx(ctx, "Published status update",
		"status", newStatus,
	)
}
