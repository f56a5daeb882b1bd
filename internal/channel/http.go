package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chat4all/internal/config"
	"chat4all/internal/constants"
	"chat4all/internal/logger"
	"chat4all/pkg/models"
	"chat4all/pkg/retry"
)

// HTTPAdapter speaks the connector contract: POST /v1/messages answers 202
// with the external message id. Connectors dedupe by message id, so a
// redelivered send is safe.
type HTTPAdapter struct {
	channel models.Channel
	client  *http.Client
	baseURL string
	apiKey  string
	logger  logger.Logger
}

type connectorSendRequest struct {
	MessageID      string `json:"messageId"`
	Recipient      string `json:"recipient"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId,omitempty"`
	SenderID       string `json:"senderId,omitempty"`
}

type connectorSendResponse struct {
	MessageID         string    `json:"messageId"`
	ExternalMessageID string    `json:"externalMessageId"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
}

func NewHTTPAdapter(ch models.Channel, cfg config.ChannelConfig, log logger.Logger) *HTTPAdapter {
	return &HTTPAdapter{
		channel: ch,
		client:  &http.Client{Timeout: constants.DefaultDeliveryTimeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  log,
	}
}

func (a *HTTPAdapter) Name() models.Channel {
	return a.channel
}

func (a *HTTPAdapter) Send(ctx context.Context, event models.MessageEvent, target models.ExternalIdentity) (models.DeliveryOutcome, error) {
	outcome := models.DeliveryOutcome{
		MessageID:      event.MessageID,
		Channel:        a.channel,
		TargetIdentity: target.PlatformUserID,
	}

	body, err := json.Marshal(connectorSendRequest{
		MessageID:      event.MessageID,
		Recipient:      target.PlatformUserID,
		Content:        event.Content,
		ConversationID: event.ConversationID,
		SenderID:       event.SenderID,
	})
	if err != nil {
		return outcome, retry.NewFatalError(fmt.Errorf("failed to marshal connector request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return outcome, retry.NewFatalError(fmt.Errorf("failed to create connector request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return outcome, retry.NewRetryableError(fmt.Errorf("connector %s request failed: %w", a.channel, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return outcome, retry.NewRetryableError(fmt.Errorf("connector %s returned status %d", a.channel, resp.StatusCode))
	default:
		return outcome, retry.NewFatalError(fmt.Errorf("connector %s rejected message: status %d", a.channel, resp.StatusCode))
	}

	var sendResp connectorSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		// The connector accepted the message; a malformed body is not
		// worth a duplicate send.
		a.logger.WarnwCtx(ctx, "Connector accepted message but response body was unreadable",
			"channel", a.channel,
			"error", err,
		)
	}

	outcome.ExternalMessageID = sendResp.ExternalMessageID
	outcome.Delivered = true
	outcome.CompletedAt = time.Now()
	return outcome, nil
}

func (a *HTTPAdapter) ValidateCredentials(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/credentials", nil)
	if err != nil {
		return fmt.Errorf("failed to create credentials request: %w", err)
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("connector %s credentials check failed: %w", a.channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("connector %s credentials invalid: status %d", a.channel, resp.StatusCode)
	}
	return nil
}
