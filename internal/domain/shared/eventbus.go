package shared

import "context"

// EventHandler processes domain events
type EventHandler interface {
	// Handle processes an event; errors are logged by the bus, never fatal
	Handle(ctx context.Context, event DomainEvent) error
	// EventTypes returns the event types this handler is interested in
	EventTypes() []string
}

// EventBus publishes domain events to registered handlers.
// Delivery is best-effort; the engine never blocks on notification I/O.
type EventBus interface {
	Publish(ctx context.Context, events ...DomainEvent) error
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
