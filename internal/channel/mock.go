package channel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat4all/internal/constants"
	"chat4all/internal/logger"
	"chat4all/pkg/models"
)

// ReceiptFunc receives simulated delivery receipts from the mock adapter.
type ReceiptFunc func(messageID string, status models.MessageStatus)

// MockAdapter simulates a connector for local runs and tests. It accepts
// every send and schedules a DELIVERED receipt after a short delay; the
// timers are tracked so shutdown cancels pending receipts instead of leaking
// them.
type MockAdapter struct {
	channel  models.Channel
	receipts ReceiptFunc
	delay    time.Duration
	logger   logger.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func NewMockAdapter(ch models.Channel, receipts ReceiptFunc, log logger.Logger) *MockAdapter {
	return &MockAdapter{
		channel:  ch,
		receipts: receipts,
		delay:    constants.MockReadReceiptDelay,
		logger:   log,
		timers:   make(map[*time.Timer]struct{}),
	}
}

func (a *MockAdapter) Name() models.Channel {
	return a.channel
}

func (a *MockAdapter) SetReceiptDelay(d time.Duration) {
	a.delay = d
}

func (a *MockAdapter) Send(ctx context.Context, event models.MessageEvent, target models.ExternalIdentity) (models.DeliveryOutcome, error) {
	outcome := models.DeliveryOutcome{
		MessageID:         event.MessageID,
		ExternalMessageID: "mock-" + uuid.New().String(),
		Channel:           a.channel,
		TargetIdentity:    target.PlatformUserID,
		Delivered:         true,
		CompletedAt:       time.Now(),
	}

	a.scheduleReceipt(event.MessageID)
	return outcome, nil
}

func (a *MockAdapter) ValidateCredentials(ctx context.Context) error {
	return nil
}

func (a *MockAdapter) scheduleReceipt(messageID string) {
	if a.receipts == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(a.delay, func() {
		a.mu.Lock()
		delete(a.timers, timer)
		a.mu.Unlock()
		a.receipts(messageID, models.StatusDelivered)
	})
	a.timers[timer] = struct{}{}
}

// Close cancels all pending receipt timers.
func (a *MockAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for timer := range a.timers {
		timer.Stop()
		delete(a.timers, timer)
	}
}

var _ Adapter = (*MockAdapter)(nil)
