package dlq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"chat4all/internal/constants"
	"chat4all/internal/logger"
	"chat4all/pkg/models"
)

// FallbackRepository stores dead-letter events that could not be published
// to the dead-letter topic. Rows are flagged for manual intervention so an
// operator can replay or discard them.
type FallbackRepository interface {
	Save(ctx context.Context, event models.DeadLetterEvent) error
}

// LoggingFallbackRepository is the last resort when no Postgres fallback is
// configured: it dumps the full event into the log stream so the record can
// still be recovered from log storage.
type LoggingFallbackRepository struct {
	logger logger.Logger
}

func NewLoggingFallbackRepository(log logger.Logger) *LoggingFallbackRepository {
	return &LoggingFallbackRepository{logger: log}
}

func (r *LoggingFallbackRepository) Save(ctx context.Context, event models.DeadLetterEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter event: %w", err)
	}
	r.logger.ErrorwCtx(ctx, "Dead letter event could not be stored durably",
		"reason", event.Reason,
		"attempts_made", event.AttemptsMade,
		"event", string(payload),
	)
	return nil
}

type PostgresFallbackRepository struct {
	db *sql.DB
}

func NewPostgresFallbackRepository(db *sql.DB) *PostgresFallbackRepository {
	return &PostgresFallbackRepository{db: db}
}

// EnsureSchema creates the fallback table when it does not exist yet. It is
// safe to call on every startup.
func (r *PostgresFallbackRepository) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			message_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			attempts_made INT NOT NULL,
			event JSONB NOT NULL,
			failed_at TIMESTAMPTZ NOT NULL,
			manual_intervention BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, constants.DeadLetterFallbackTableName)

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure dead letter fallback table: %w", err)
	}
	return nil
}

func (r *PostgresFallbackRepository) Save(ctx context.Context, event models.DeadLetterEvent) error {
	payload, err := json.Marshal(event.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter event: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (message_id, conversation_id, reason, attempts_made, event, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, constants.DeadLetterFallbackTableName)

	_, err = r.db.ExecContext(ctx, query,
		event.Event.MessageID,
		event.Event.ConversationID,
		event.Reason,
		event.AttemptsMade,
		payload,
		event.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save dead letter fallback row: %w", err)
	}
	return nil
}
