package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"chat4all/internal/config"
	"chat4all/internal/constants"
	"chat4all/internal/logger"
	apperrors "chat4all/pkg/errors"
	"chat4all/pkg/metrics"
	"chat4all/pkg/models"
	"chat4all/pkg/retry"
)

// Resolver maps a recipient id to the external identities a message can be
// delivered to. Recipient ids that parse as UUIDs are internal user
// references looked up in the directory service; anything else is taken
// verbatim as a platform identifier on the event's channel, which keeps
// direct-addressing callers working.
type Resolver struct {
	client      *http.Client
	baseURL     string
	maxAttempts int
	logger      logger.Logger
}

func NewResolver(cfg config.ResolverConfig, log logger.Logger) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultResolverTimeout
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultResolverMaxAttempts
	}
	return &Resolver{
		client:      &http.Client{Timeout: timeout},
		baseURL:     cfg.BaseURL,
		maxAttempts: maxAttempts,
		logger:      log,
	}
}

// IsInternalReference classifies a recipient id.
func IsInternalReference(recipientID string) bool {
	_, err := uuid.Parse(recipientID)
	return err == nil
}

// Resolve returns the delivery targets for one recipient. A directory lookup
// that finds a user with no linked identities is a non-retryable failure;
// directory unavailability is retried under a short bounded budget before
// surfacing as transient.
func (r *Resolver) Resolve(ctx context.Context, recipientID string, channel models.Channel) ([]models.ExternalIdentity, error) {
	if !IsInternalReference(recipientID) {
		return []models.ExternalIdentity{{
			Platform:       channel,
			PlatformUserID: recipientID,
			Verified:       true,
		}}, nil
	}

	var profile *models.UserProfile
	policy := retry.Policy{
		MaxAttempts:     r.maxAttempts,
		InitialInterval: constants.DefaultResolverRetryInterval,
		MaxInterval:     constants.DefaultResolverTimeout,
		Multiplier:      2.0,
	}

	_, err := retry.Do(ctx, policy, func() error {
		p, err := r.fetchProfile(ctx, recipientID)
		if err != nil {
			return err
		}
		profile = p
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("resolve", string(channel)).Inc()
		r.logger.WarnwCtx(ctx, "Retrying identity resolution",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		return nil, err
	}

	if len(profile.ExternalIdentities) == 0 {
		return nil, apperrors.ErrNotFound.
			WithDetail("message", fmt.Sprintf("user %s has no linked identity", recipientID)).
			AsFatal()
	}

	return profile.ExternalIdentities, nil
}

func (r *Resolver) fetchProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	url := fmt.Sprintf("%s/users/%s", r.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.NewFatalError(fmt.Errorf("failed to create resolver request: %w", err))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, retry.NewRetryableError(fmt.Errorf("resolver request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.ErrNotFound.
			WithDetail("message", fmt.Sprintf("unknown user %s", userID)).
			AsFatal()
	case resp.StatusCode >= 500:
		return nil, retry.NewRetryableError(fmt.Errorf("resolver returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, retry.NewFatalError(fmt.Errorf("resolver returned status %d", resp.StatusCode))
	}

	var profile models.UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, retry.NewFatalError(fmt.Errorf("failed to decode resolver response: %w", err))
	}

	return &profile, nil
}
