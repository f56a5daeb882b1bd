package channel

import (
	"context"
	"fmt"

	"chat4all/internal/config"
	"chat4all/internal/logger"
	"chat4all/pkg/models"
)

// Adapter is the uniform client for one external channel. Concrete adapters
// own the channel-specific transformation and credential handling; the
// pipeline only ever talks to this interface. Connectors must treat repeated
// sends with the same message id as idempotent.
type Adapter interface {
	Send(ctx context.Context, event models.MessageEvent, target models.ExternalIdentity) (models.DeliveryOutcome, error)
	ValidateCredentials(ctx context.Context) error
	Name() models.Channel
}

// Registry holds the closed set of adapters, selected by the target's
// platform. No reflection: unknown channels are a validation failure.
type Registry struct {
	adapters map[models.Channel]Adapter
}

func NewRegistry(cfg config.ChannelsConfig, receipts ReceiptFunc, log logger.Logger) (*Registry, error) {
	adapters := make(map[models.Channel]Adapter, len(models.ExternalChannels()))

	for _, ch := range models.ExternalChannels() {
		if cfg.Mock {
			adapters[ch] = NewMockAdapter(ch, receipts, log)
			continue
		}

		connector, ok := cfg.Connectors[string(ch)]
		if !ok || connector.BaseURL == "" {
			return nil, fmt.Errorf("no connector configured for channel %s", ch)
		}
		adapters[ch] = NewHTTPAdapter(ch, connector, log)
	}

	return &Registry{adapters: adapters}, nil
}

// NewRegistryFromAdapters wires pre-built adapters, used by tests.
func NewRegistryFromAdapters(adapters ...Adapter) *Registry {
	m := make(map[models.Channel]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Adapter(ch models.Channel) (Adapter, bool) {
	a, ok := r.adapters[ch]
	return a, ok
}

// ValidateCredentials checks every adapter's connector credentials and
// returns the failures keyed by channel. Ran at startup so a misconfigured
// connector shows up before its first delivery fails.
func (r *Registry) ValidateCredentials(ctx context.Context) map[models.Channel]error {
	failures := map[models.Channel]error{}
	for ch, a := range r.adapters {
		if err := a.ValidateCredentials(ctx); err != nil {
			failures[ch] = err
		}
	}
	return failures
}

// Close tears down adapters that hold background state (mock receipt timers).
func (r *Registry) Close() {
	for _, a := range r.adapters {
		if closer, ok := a.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}
