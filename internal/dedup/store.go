package dedup

import (
	"context"
	"time"

	"chat4all/internal/config"
	"chat4all/internal/constants"
	"chat4all/internal/logger"
	"chat4all/pkg/metrics"
)

// Store answers idempotency checks for the dispatcher. Absence of a key means
// "not yet processed by this consumer group"; presence means processed or in
// flight. The store fails open: a Redis error is never allowed to block the
// pipeline, trading a small chance of duplicate delivery for availability.
// Channel connectors dedupe by message id, which covers that gap.
type Store struct {
	repo   Repository
	ttl    time.Duration
	logger logger.Logger
}

func NewStore(repo Repository, cfg config.DeduplicationConfig, log logger.Logger) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = constants.DefaultDedupTTL
	}
	return &Store{
		repo:   repo,
		ttl:    ttl,
		logger: log,
	}
}

// IsDuplicate reports whether the message id was already marked processed.
func (s *Store) IsDuplicate(ctx context.Context, messageID string) bool {
	key := constants.CacheKeyPrefixDedup + messageID

	start := time.Now()
	found, err := s.repo.Exists(ctx, key)
	duration := time.Since(start)

	if err != nil {
		metrics.DedupChecksTotal.WithLabelValues("error").Inc()
		metrics.ObserveDedupDuration(duration, "error")
		metrics.FallbackUsageTotal.WithLabelValues("deduplication", "allow_on_error").Inc()
		s.logger.WarnwCtx(ctx, "Dedup store unavailable, failing open",
			"error", err,
		)
		return false
	}

	status := "unique"
	if found {
		status = "duplicate"
	}
	metrics.DedupChecksTotal.WithLabelValues(status).Inc()
	metrics.ObserveDedupDuration(duration, status)
	return found
}

// MarkProcessed records the message id before the event-log offset is
// acknowledged. Failures are logged only: the worst case is one redelivery
// that the connectors' idempotent sends absorb.
func (s *Store) MarkProcessed(ctx context.Context, messageID string) {
	key := constants.CacheKeyPrefixDedup + messageID

	if _, err := s.repo.SetNX(ctx, key, time.Now().Unix(), s.ttl); err != nil {
		metrics.FallbackUsageTotal.WithLabelValues("deduplication", "skip_mark_on_error").Inc()
		s.logger.WarnwCtx(ctx, "Failed to mark message processed in dedup store",
			"error", err,
		)
	}
}
