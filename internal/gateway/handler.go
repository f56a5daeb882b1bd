package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat4all/internal/broker"
	"chat4all/internal/logger"
	"chat4all/internal/status"
	apperrors "chat4all/pkg/errors"
	"chat4all/pkg/logging"
	"chat4all/pkg/metrics"
	"chat4all/pkg/models"
)

// SendMessageRequest is the ingress payload. The message id is optional;
// clients that retry with the same id get idempotent acceptance.
type SendMessageRequest struct {
	MessageID      string            `json:"messageId"`
	ConversationID string            `json:"conversationId" binding:"required"`
	SenderID       string            `json:"senderId" binding:"required"`
	RecipientIDs   []string          `json:"recipientIds" binding:"required,min=1"`
	Channel        models.Channel    `json:"channel" binding:"required"`
	Content        string            `json:"content" binding:"required"`
	ContentType    string            `json:"contentType"`
	Metadata       map[string]string `json:"metadata"`
}

// Handler accepts messages at the edge: persist a PENDING record, publish
// the event to the partitioned log keyed by conversation id, answer 202.
// Durability comes from the log, not from the HTTP response.
type Handler struct {
	producer   broker.Producer
	repository status.Repository
	topic      string
	logger     logger.Logger
}

func NewHandler(producer broker.Producer, repository status.Repository, topic string, log logger.Logger) *Handler {
	return &Handler{
		producer:   producer,
		repository: repository,
		topic:      topic,
		logger:     log,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/v1")
	v1.POST("/messages", h.SendMessage)
	v1.GET("/messages/:id/status", h.GetMessageStatus)
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
			apperrors.ErrValidation.WithDetail("reason", err.Error())))
		return
	}
	if !req.Channel.Valid() {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
			apperrors.ErrValidation.WithDetail("reason", "unknown channel")))
		return
	}

	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	event := models.MessageEvent{
		MessageID:      req.MessageID,
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		RecipientIDs:   req.RecipientIDs,
		Channel:        req.Channel,
		Content:        req.Content,
		ContentType:    contentType,
		Status:         models.StatusPending,
		Timestamp:      time.Now(),
		Metadata:       req.Metadata,
	}

	ctx := logging.WithMessageID(c.Request.Context(), event.MessageID)
	ctx = logging.WithConversationID(ctx, event.ConversationID)

	if err := h.repository.InsertPending(ctx, event); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to persist pending message", "error", err)
		c.JSON(http.StatusServiceUnavailable, apperrors.ToErrorResponse(apperrors.ErrUnavailable))
		return
	}

	if err := h.producer.Publish(ctx, h.topic, event.ConversationID, event); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to publish message event", "error", err)
		c.JSON(http.StatusServiceUnavailable, apperrors.ToErrorResponse(apperrors.ErrUnavailable))
		return
	}

	metrics.MessagesAcceptedTotal.WithLabelValues(string(event.Channel)).Inc()
	h.logger.InfowCtx(ctx, "Accepted message",
		"channel", event.Channel,
		"recipients", len(event.RecipientIDs),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"messageId": event.MessageID,
		"status":    models.StatusPending,
	})
}

func (h *Handler) GetMessageStatus(c *gin.Context) {
	messageID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stored, err := h.repository.GetMessage(ctx, messageID)
	if apperrors.IsNotFound(err) {
		c.JSON(http.StatusNotFound, apperrors.ToErrorResponse(apperrors.ErrNotFound))
		return
	}
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to load message status", "error", err)
		c.JSON(http.StatusServiceUnavailable, apperrors.ToErrorResponse(apperrors.ErrUnavailable))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messageId":       stored.MessageID,
		"conversationId":  stored.ConversationID,
		"status":          stored.Status,
		"statusUpdatedAt": stored.StatusUpdatedAt,
	})
}
