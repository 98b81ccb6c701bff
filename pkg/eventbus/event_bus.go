// Package eventbus carries engine events over watermill publishers and subscribers.
package eventbus

import (
	"context"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, key string, event events.Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event events.Event) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, events.Event) error { return nil }
