package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat4all/internal/config"
	"chat4all/internal/logger"
	"chat4all/pkg/models"
	"chat4all/pkg/retry"
)

func testEvent() models.MessageEvent {
	return models.MessageEvent{
		MessageID:      "m1",
		ConversationID: "c1",
		SenderID:       "sender-1",
		Channel:        models.ChannelWhatsApp,
		Content:        "hello",
		ContentType:    "text/plain",
		Status:         models.StatusPending,
		Timestamp:      time.Now(),
	}
}

func testTarget() models.ExternalIdentity {
	return models.ExternalIdentity{
		Platform:       models.ChannelWhatsApp,
		PlatformUserID: "+5511999990001",
		Verified:       true,
	}
}

func TestHTTPAdapter_SendAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/messages", req.URL.Path)
		assert.Equal(t, http.MethodPost, req.Method)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "m1", body["messageId"])
		assert.Equal(t, "+5511999990001", body["recipient"])

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messageId":         "m1",
			"externalMessageId": "wa-ext-1",
			"status":            "accepted",
			"timestamp":         time.Now(),
		})
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(models.ChannelWhatsApp, config.ChannelConfig{BaseURL: srv.URL}, logger.NopLogger())

	outcome, err := adapter.Send(context.Background(), testEvent(), testTarget())
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)
	assert.Equal(t, "wa-ext-1", outcome.ExternalMessageID)
	assert.Equal(t, models.ChannelWhatsApp, outcome.Channel)
}

func TestHTTPAdapter_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(models.ChannelTelegram, config.ChannelConfig{BaseURL: srv.URL}, logger.NopLogger())

	_, err := adapter.Send(context.Background(), testEvent(), testTarget())
	require.Error(t, err)

	var retryable retry.RetryableError
	assert.True(t, errors.As(err, &retryable))
}

func TestHTTPAdapter_BadRequestIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(models.ChannelWhatsApp, config.ChannelConfig{BaseURL: srv.URL}, logger.NopLogger())

	_, err := adapter.Send(context.Background(), testEvent(), testTarget())
	require.Error(t, err)

	var fatal retry.FatalError
	assert.True(t, errors.As(err, &fatal))
}

func TestHTTPAdapter_ValidateCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/credentials", req.URL.Path)
		assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(models.ChannelWhatsApp, config.ChannelConfig{BaseURL: srv.URL, APIKey: "secret"}, logger.NopLogger())
	assert.NoError(t, adapter.ValidateCredentials(context.Background()))
}

func TestMockAdapter_EmitsDelayedReceipt(t *testing.T) {
	var mu sync.Mutex
	var received []models.MessageStatus
	done := make(chan struct{})

	adapter := NewMockAdapter(models.ChannelWhatsApp, func(messageID string, status models.MessageStatus) {
		mu.Lock()
		received = append(received, status)
		mu.Unlock()
		close(done)
	}, logger.NopLogger())
	adapter.SetReceiptDelay(10 * time.Millisecond)
	defer adapter.Close()

	outcome, err := adapter.Send(context.Background(), testEvent(), testTarget())
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receipt was never emitted")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, models.StatusDelivered, received[0])
}

func TestMockAdapter_CloseCancelsPendingReceipts(t *testing.T) {
	fired := make(chan struct{}, 1)

	adapter := NewMockAdapter(models.ChannelWhatsApp, func(messageID string, status models.MessageStatus) {
		fired <- struct{}{}
	}, logger.NopLogger())
	adapter.SetReceiptDelay(50 * time.Millisecond)

	_, err := adapter.Send(context.Background(), testEvent(), testTarget())
	require.NoError(t, err)

	adapter.Close()

	select {
	case <-fired:
		t.Fatal("receipt fired after Close")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRegistry_SelectsAdapterByChannel(t *testing.T) {
	wa := NewMockAdapter(models.ChannelWhatsApp, nil, logger.NopLogger())
	tg := NewMockAdapter(models.ChannelTelegram, nil, logger.NopLogger())
	registry := NewRegistryFromAdapters(wa, tg)

	a, ok := registry.Adapter(models.ChannelTelegram)
	require.True(t, ok)
	assert.Equal(t, models.ChannelTelegram, a.Name())

	_, ok = registry.Adapter(models.ChannelInstagram)
	assert.False(t, ok)
}

func TestRegistry_ValidateCredentialsReportsFailures(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer bad.Close()

	registry := NewRegistryFromAdapters(
		NewHTTPAdapter(models.ChannelWhatsApp, config.ChannelConfig{BaseURL: good.URL}, logger.NopLogger()),
		NewHTTPAdapter(models.ChannelTelegram, config.ChannelConfig{BaseURL: bad.URL}, logger.NopLogger()),
	)

	failures := registry.ValidateCredentials(context.Background())
	require.Len(t, failures, 1)
	assert.Contains(t, failures[models.ChannelTelegram].Error(), "credentials invalid")
}

func TestNewRegistry_RequiresConnectorPerChannel(t *testing.T) {
	_, err := NewRegistry(config.ChannelsConfig{
		Connectors: map[string]config.ChannelConfig{
			"WHATSAPP": {BaseURL: "http://wa-connector:8080"},
		},
	}, nil, logger.NopLogger())
	require.Error(t, err)

	registry, err := NewRegistry(config.ChannelsConfig{Mock: true}, nil, logger.NopLogger())
	require.NoError(t, err)
	for _, ch := range models.ExternalChannels() {
		_, ok := registry.Adapter(ch)
		assert.True(t, ok, "expected adapter for %s", ch)
	}
}
