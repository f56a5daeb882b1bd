package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"chat4all/internal/dedup"
	"chat4all/internal/logger"
	"chat4all/pkg/logging"
	"chat4all/pkg/metrics"
	"chat4all/pkg/models"
)

// Router is the downstream delivery stage.
type Router interface {
	Route(ctx context.Context, event models.MessageEvent) error
}

// Dispatcher is the consume loop handler for the messages topic. It drops
// duplicates, hands the event to the router and records the message id as
// processed before the offset is committed. A non-nil return leaves the
// offset uncommitted so the broker redelivers the event.
type Dispatcher struct {
	store  *dedup.Store
	router Router
	logger logger.Logger
}

func New(store *dedup.Store, router Router, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		router: router,
		logger: log,
	}
}

// HandleMessage implements broker.HandlerFunc.
func (d *Dispatcher) HandleMessage(ctx context.Context, key string, value []byte) error {
	start := time.Now()

	var event models.MessageEvent
	if err := json.Unmarshal(value, &event); err != nil {
		metrics.MessagesProcessedTotal.WithLabelValues("malformed").Inc()
		d.logger.ErrorwCtx(ctx, "Dropping malformed message event", "error", err, "key", key)
		return nil
	}

	ctx = logging.WithMessageID(ctx, event.MessageID)
	ctx = logging.WithConversationID(ctx, event.ConversationID)

	if d.store.IsDuplicate(ctx, event.MessageID) {
		metrics.MessagesProcessedTotal.WithLabelValues("duplicate").Inc()
		d.logger.InfowCtx(ctx, "Dropping duplicate message event")
		return nil
	}

	if err := d.router.Route(ctx, event); err != nil {
		metrics.MessagesProcessedTotal.WithLabelValues("error").Inc()
		d.logger.ErrorwCtx(ctx, "Message processing failed, leaving event for redelivery",
			"error", err,
		)
		return err
	}

	// Mark before the commit so a crash between the two yields a duplicate
	// that the next run drops, never a lost message.
	d.store.MarkProcessed(ctx, event.MessageID)

	metrics.MessagesProcessedTotal.WithLabelValues("processed").Inc()
	metrics.ObserveProcessingDuration(time.Since(start), "processed")
	d.logger.InfowCtx(ctx, "Processed message event",
		"channel", event.Channel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
