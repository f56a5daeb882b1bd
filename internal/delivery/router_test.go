package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat4all/internal/channel"
	"chat4all/internal/config"
	"chat4all/internal/logger"
	"chat4all/pkg/models"
	"chat4all/pkg/retry"
)

type fakeResolver struct {
	identities map[string][]models.ExternalIdentity
	errs       map[string]error
}

func (f *fakeResolver) Resolve(_ context.Context, recipientID string, ch models.Channel) ([]models.ExternalIdentity, error) {
	if err, ok := f.errs[recipientID]; ok {
		return nil, err
	}
	return f.identities[recipientID], nil
}

type fakeStatusPublisher struct {
	mu      sync.Mutex
	updates []models.StatusUpdate
}

func (f *fakeStatusPublisher) Publish(_ context.Context, messageID string, newStatus models.MessageStatus, errorMessage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, models.StatusUpdate{
		MessageID:    messageID,
		NewStatus:    newStatus,
		ErrorMessage: errorMessage,
	})
}

func (f *fakeStatusPublisher) last(t *testing.T) models.StatusUpdate {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.updates)
	return f.updates[len(f.updates)-1]
}

type fakeDeadLetterer struct {
	mu      sync.Mutex
	reasons []string
	atts    []int
}

func (f *fakeDeadLetterer) DeadLetter(_ context.Context, _ models.MessageEvent, reason string, attemptsMade int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	f.atts = append(f.atts, attemptsMade)
}

type scriptedAdapter struct {
	mu      sync.Mutex
	ch      models.Channel
	failFor map[string]error
	sendLog []string
}

func (a *scriptedAdapter) Name() models.Channel { return a.ch }

func (a *scriptedAdapter) Send(_ context.Context, event models.MessageEvent, target models.ExternalIdentity) (models.DeliveryOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendLog = append(a.sendLog, target.PlatformUserID)
	if err, ok := a.failFor[target.PlatformUserID]; ok {
		return models.DeliveryOutcome{}, err
	}
	return models.DeliveryOutcome{
		MessageID:         event.MessageID,
		ExternalMessageID: "ext-" + target.PlatformUserID,
		Delivered:         true,
		CompletedAt:       time.Now(),
	}, nil
}

func (a *scriptedAdapter) ValidateCredentials(context.Context) error { return nil }

func (a *scriptedAdapter) sends() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sendLog...)
}

func fastConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		AttemptTimeout:  time.Second,
		MaxParallelism:  4,
	}
}

func validEvent() models.MessageEvent {
	return models.MessageEvent{
		MessageID:      "msg-1",
		ConversationID: "conv-1",
		SenderID:       "alice",
		RecipientIDs:   []string{"bob"},
		Channel:        models.ChannelWhatsApp,
		Content:        "hello",
		ContentType:    "text/plain",
		Timestamp:      time.Now(),
	}
}

func newTestRouter(resolver *fakeResolver, adapters ...*scriptedAdapter) (*Router, *fakeStatusPublisher, *fakeDeadLetterer) {
	statuses := &fakeStatusPublisher{}
	dlq := &fakeDeadLetterer{}
	all := make([]channel.Adapter, len(adapters))
	for i, a := range adapters {
		all[i] = a
	}
	registry := channel.NewRegistryFromAdapters(all...)
	router := NewRouter(fastConfig(), resolver, registry, statuses, dlq, logger.NopLogger())
	return router, statuses, dlq
}

func TestRouteDeliversToAllTargets(t *testing.T) {
	resolver := &fakeResolver{identities: map[string][]models.ExternalIdentity{
		"bob": {
			{Platform: models.ChannelWhatsApp, PlatformUserID: "wa-bob-1"},
			{Platform: models.ChannelWhatsApp, PlatformUserID: "wa-bob-2"},
		},
	}}
	adapter := &scriptedAdapter{ch: models.ChannelWhatsApp}
	router, statuses, dlq := newTestRouter(resolver, adapter)

	require.NoError(t, router.Route(context.Background(), validEvent()))

	assert.ElementsMatch(t, []string{"wa-bob-1", "wa-bob-2"}, adapter.sends())
	assert.Equal(t, models.StatusSent, statuses.last(t).NewStatus)
	assert.Empty(t, dlq.reasons)
}

func TestRouteSelectsAdapterByTargetPlatform(t *testing.T) {
	// A resolved identity is delivered on its own platform, not on the
	// channel the event arrived on.
	resolver := &fakeResolver{identities: map[string][]models.ExternalIdentity{
		"bob": {{Platform: models.ChannelTelegram, PlatformUserID: "tg-bob"}},
	}}
	whatsapp := &scriptedAdapter{ch: models.ChannelWhatsApp}
	telegram := &scriptedAdapter{ch: models.ChannelTelegram}
	router, statuses, dlq := newTestRouter(resolver, whatsapp, telegram)

	require.NoError(t, router.Route(context.Background(), validEvent()))

	assert.Empty(t, whatsapp.sends())
	assert.Equal(t, []string{"tg-bob"}, telegram.sends())
	assert.Equal(t, models.StatusSent, statuses.last(t).NewStatus)
	assert.Empty(t, dlq.reasons)
}

func TestRouteUnconfiguredPlatformIsDeadLettered(t *testing.T) {
	resolver := &fakeResolver{identities: map[string][]models.ExternalIdentity{
		"bob": {{Platform: models.ChannelInstagram, PlatformUserID: "ig-bob"}},
	}}
	whatsapp := &scriptedAdapter{ch: models.ChannelWhatsApp}
	router, statuses, dlq := newTestRouter(resolver, whatsapp)

	require.NoError(t, router.Route(context.Background(), validEvent()))

	assert.Empty(t, whatsapp.sends())
	require.Equal(t, []string{"delivery retries exhausted"}, dlq.reasons)
	assert.Equal(t, 0, dlq.atts[0])
	update := statuses.last(t)
	assert.Equal(t, models.StatusFailed, update.NewStatus)
	assert.Contains(t, update.ErrorMessage, "no adapter configured")
}

func TestRouteInvalidEventIsDeadLettered(t *testing.T) {
	adapter := &scriptedAdapter{ch: models.ChannelWhatsApp}
	router, statuses, dlq := newTestRouter(&fakeResolver{}, adapter)

	event := validEvent()
	event.Channel = models.Channel("PIGEON")

	require.NoError(t, router.Route(context.Background(), event))

	require.Equal(t, []string{"validation_failed"}, dlq.reasons)
	assert.Equal(t, 0, dlq.atts[0])
	assert.Equal(t, models.StatusFailed, statuses.last(t).NewStatus)
	assert.Empty(t, adapter.sends())
}

func TestRouteNoLinkedIdentityIsDeadLettered(t *testing.T) {
	resolver := &fakeResolver{errs: map[string]error{
		"bob": retry.NewFatalError(errors.New("no linked identity")),
	}}
	adapter := &scriptedAdapter{ch: models.ChannelWhatsApp}
	router, statuses, dlq := newTestRouter(resolver, adapter)

	require.NoError(t, router.Route(context.Background(), validEvent()))

	require.Equal(t, []string{"no linked identity"}, dlq.reasons)
	assert.Equal(t, models.StatusFailed, statuses.last(t).NewStatus)
}

func TestRouteResolverOutageIsRedelivered(t *testing.T) {
	resolver := &fakeResolver{errs: map[string]error{
		"bob": retry.NewRetryableError(errors.New("directory unavailable")),
	}}
	adapter := &scriptedAdapter{ch: models.ChannelWhatsApp}
	router, statuses, dlq := newTestRouter(resolver, adapter)

	err := router.Route(context.Background(), validEvent())

	assert.Error(t, err)
	assert.Empty(t, dlq.reasons)
	assert.Empty(t, statuses.updates)
}

func TestRoutePartialFailureStillSent(t *testing.T) {
	resolver := &fakeResolver{identities: map[string][]models.ExternalIdentity{
		"bob": {
			{Platform: models.ChannelWhatsApp, PlatformUserID: "wa-ok"},
			{Platform: models.ChannelWhatsApp, PlatformUserID: "wa-broken"},
		},
	}}
	adapter := &scriptedAdapter{
		ch: models.ChannelWhatsApp,
		failFor: map[string]error{
			"wa-broken": retry.NewFatalError(errors.New("invalid recipient")),
		},
	}
	router, statuses, dlq := newTestRouter(resolver, adapter)

	require.NoError(t, router.Route(context.Background(), validEvent()))

	assert.Equal(t, models.StatusSent, statuses.last(t).NewStatus)
	assert.Empty(t, dlq.reasons)
}

func TestRouteTotalFailureExhaustsRetries(t *testing.T) {
	resolver := &fakeResolver{identities: map[string][]models.ExternalIdentity{
		"bob": {{Platform: models.ChannelWhatsApp, PlatformUserID: "wa-down"}},
	}}
	adapter := &scriptedAdapter{
		ch: models.ChannelWhatsApp,
		failFor: map[string]error{
			"wa-down": retry.NewRetryableError(errors.New("connector unavailable")),
		},
	}
	router, statuses, dlq := newTestRouter(resolver, adapter)

	require.NoError(t, router.Route(context.Background(), validEvent()))

	// Full budget spent before dead lettering.
	assert.Len(t, adapter.sends(), 3)
	require.Equal(t, []string{"delivery retries exhausted"}, dlq.reasons)
	assert.Equal(t, 3, dlq.atts[0])
	assert.Equal(t, models.StatusFailed, statuses.last(t).NewStatus)
}

func TestRouteInternalChannelSkipsConnectors(t *testing.T) {
	adapter := &scriptedAdapter{ch: models.ChannelWhatsApp}
	router, statuses, dlq := newTestRouter(&fakeResolver{}, adapter)

	event := validEvent()
	event.Channel = models.ChannelInternal

	require.NoError(t, router.Route(context.Background(), event))

	assert.Empty(t, adapter.sends())
	assert.Equal(t, models.StatusSent, statuses.last(t).NewStatus)
	assert.Empty(t, dlq.reasons)
}
