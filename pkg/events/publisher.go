package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeclash-io/codeclash/pkg/store"
)

// Publisher pushes outbound events onto the pub/sub bus. Every process runs a
// Listener on the matching pattern, so an event published here reaches local
// and remote subscribers alike.
type Publisher struct {
	store *store.Store
}

// NewPublisher creates a publisher over the given store.
func NewPublisher(s *store.Store) *Publisher {
	return &Publisher{store: s}
}

// Publish marshals the event and sends it on the target's channel. target is
// a room name or a user target.
func (p *Publisher) Publish(ctx context.Context, target string, event ServerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event.Type, err)
	}
	if err := p.store.Publish(ctx, store.EventChannel(target), payload); err != nil {
		return fmt.Errorf("publishing %s event: %w", event.Type, err)
	}
	return nil
}

// PublishRaw sends a pre-marshaled payload, for the coalescing throttle.
func (p *Publisher) PublishRaw(ctx context.Context, target string, payload []byte) error {
	return p.store.Publish(ctx, store.EventChannel(target), payload)
}
