package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chat4all/internal/channel"
	"chat4all/internal/config"
	"chat4all/internal/constants"
	"chat4all/internal/logger"
	"chat4all/pkg/metrics"
	"chat4all/pkg/models"
	"chat4all/pkg/retry"
)

// TargetResolver maps a recipient reference to the external identities a
// message must be delivered to.
type TargetResolver interface {
	Resolve(ctx context.Context, recipientID string, channel models.Channel) ([]models.ExternalIdentity, error)
}

// StatusPublisher reports the outcome of a delivery to the status topic.
type StatusPublisher interface {
	Publish(ctx context.Context, messageID string, newStatus models.MessageStatus, errorMessage string)
}

// DeadLetterer records events that could not be delivered.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, event models.MessageEvent, reason string, attemptsMade int)
}

// Router delivers one event to every resolved external identity. Identities
// are delivered concurrently with a bounded degree of parallelism, each under
// its own retry budget and per-attempt timeout. A message counts as sent when
// at least one identity received it; partial failures are logged and counted
// but do not fail the message.
type Router struct {
	resolver TargetResolver
	adapters *channel.Registry
	statuses StatusPublisher
	dlq      DeadLetterer
	policy   retry.Policy
	timeout  time.Duration
	maxInFly int
	logger   logger.Logger
}

func NewRouter(
	cfg config.DeliveryConfig,
	resolver TargetResolver,
	adapters *channel.Registry,
	statuses StatusPublisher,
	dlq DeadLetterer,
	log logger.Logger,
) *Router {
	policy := retry.Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
	}
	if policy.MaxAttempts <= 0 {
		policy = retry.DeliveryPolicy()
	}

	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = constants.DefaultDeliveryTimeout
	}
	maxInFly := cfg.MaxParallelism
	if maxInFly <= 0 {
		maxInFly = constants.DefaultFanOutParallelism
	}

	return &Router{
		resolver: resolver,
		adapters: adapters,
		statuses: statuses,
		dlq:      dlq,
		policy:   policy,
		timeout:  timeout,
		maxInFly: maxInFly,
		logger:   log,
	}
}

// Route validates the event, resolves its targets and fans the delivery out.
// The returned error is nil for every terminal outcome, including dead
// lettering; a non-nil error means the event should be redelivered.
func (r *Router) Route(ctx context.Context, event models.MessageEvent) error {
	if err := r.validate(event); err != nil {
		r.logger.WarnwCtx(ctx, "Rejecting invalid message event", "error", err)
		r.dlq.DeadLetter(ctx, event, constants.DLQReasonValidation, 0)
		r.statuses.Publish(ctx, event.MessageID, models.StatusFailed, err.Error())
		return nil
	}

	if event.Channel == models.ChannelInternal {
		// Internal messages have no external leg. Persistence and fan-out
		// happen downstream of the status topic.
		r.statuses.Publish(ctx, event.MessageID, models.StatusSent, "")
		return nil
	}

	targets, err := r.resolveTargets(ctx, event)
	if err != nil {
		if retry.IsFatal(err) {
			r.dlq.DeadLetter(ctx, event, constants.DLQReasonNoLinkedIdentity, 0)
			r.statuses.Publish(ctx, event.MessageID, models.StatusFailed, err.Error())
			return nil
		}
		// Directory outage after retries: let the broker redeliver.
		return err
	}

	delivered, attemptsMade, lastErr := r.fanOut(ctx, event, targets)

	if delivered == 0 {
		r.dlq.DeadLetter(ctx, event, constants.DLQReasonRetriesExhausted, attemptsMade)
		errMsg := "delivery retries exhausted"
		if lastErr != nil {
			errMsg = lastErr.Error()
		}
		r.statuses.Publish(ctx, event.MessageID, models.StatusFailed, errMsg)
		return nil
	}

	if delivered < len(targets) {
		metrics.DeliveryPartialFailuresTotal.Inc()
		r.logger.WarnwCtx(ctx, "Message delivered to a subset of targets",
			"delivered", delivered,
			"targets", len(targets),
		)
	}

	r.statuses.Publish(ctx, event.MessageID, models.StatusSent, "")
	return nil
}

func (r *Router) validate(event models.MessageEvent) error {
	if event.MessageID == "" {
		return fmt.Errorf("missing message id")
	}
	if event.ConversationID == "" {
		return fmt.Errorf("missing conversation id")
	}
	if event.SenderID == "" {
		return fmt.Errorf("missing sender id")
	}
	if len(event.RecipientIDs) == 0 {
		return fmt.Errorf("no recipients")
	}
	if !event.Channel.Valid() {
		return fmt.Errorf("unknown channel %q", event.Channel)
	}
	if event.Content == "" {
		return fmt.Errorf("empty content")
	}
	return nil
}

// resolveTargets collects the external identities of every recipient. A
// recipient with no linked identity is skipped; when no recipient at all
// resolves, the whole event is fatal.
func (r *Router) resolveTargets(ctx context.Context, event models.MessageEvent) ([]models.ExternalIdentity, error) {
	var targets []models.ExternalIdentity
	var lastResolveErr error

	for _, recipientID := range event.RecipientIDs {
		identities, err := r.resolver.Resolve(ctx, recipientID, event.Channel)
		if err != nil {
			if !retry.IsFatal(err) {
				return nil, err
			}
			r.logger.WarnwCtx(ctx, "Recipient has no deliverable identity",
				"recipient_id", recipientID,
				"error", err,
			)
			lastResolveErr = err
			continue
		}
		targets = append(targets, identities...)
	}

	if len(targets) == 0 {
		if lastResolveErr != nil {
			return nil, lastResolveErr
		}
		return nil, retry.NewFatalError(fmt.Errorf("no linked identity for any recipient"))
	}
	return targets, nil
}

// fanOut delivers to every target concurrently and reports how many targets
// succeeded along with the total attempts spent and the last delivery error.
func (r *Router) fanOut(ctx context.Context, event models.MessageEvent, targets []models.ExternalIdentity) (int, int, error) {
	var mu sync.Mutex
	delivered := 0
	attemptsMade := 0
	var lastErr error

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.maxInFly)

	for _, target := range targets {
		target := target
		group.Go(func() error {
			attempts, err := r.deliverOne(groupCtx, event, target)

			mu.Lock()
			defer mu.Unlock()
			attemptsMade += attempts
			if err != nil {
				lastErr = err
				return nil
			}
			delivered++
			return nil
		})
	}

	// Workers never return errors; Wait only observes context cancellation.
	_ = group.Wait()
	return delivered, attemptsMade, lastErr
}

// deliverOne sends to a single identity on the identity's own platform. A
// resolved identity may live on a different channel than the event arrived on.
func (r *Router) deliverOne(ctx context.Context, event models.MessageEvent, target models.ExternalIdentity) (int, error) {
	adapter, ok := r.adapters.Adapter(target.Platform)
	if !ok {
		r.logger.ErrorwCtx(ctx, "No adapter configured for target platform",
			"platform", target.Platform,
			"target", target.PlatformUserID,
		)
		return 0, fmt.Errorf("no adapter configured for platform %s", target.Platform)
	}

	channelLabel := string(target.Platform)

	attempts, err := retry.Do(ctx, r.policy, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		outcome, sendErr := adapter.Send(attemptCtx, event, target)
		if sendErr != nil {
			metrics.DeliveryAttemptsTotal.WithLabelValues(channelLabel, "failure").Inc()
			return sendErr
		}

		metrics.DeliveryAttemptsTotal.WithLabelValues(channelLabel, "success").Inc()
		r.logger.InfowCtx(ctx, "Delivered message to external identity",
			"channel", target.Platform,
			"external_message_id", outcome.ExternalMessageID,
		)
		return nil
	}, func(attempt int, retryErr error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("deliver", channelLabel).Inc()
		r.logger.WarnwCtx(ctx, "Delivery attempt failed, retrying",
			"channel", target.Platform,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", retryErr,
		)
	})

	if err != nil {
		r.logger.ErrorwCtx(ctx, "Delivery to external identity failed",
			"channel", target.Platform,
			"attempts", attempts,
			"error", err,
		)
	}
	return attempts, err
}
