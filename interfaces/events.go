package interfaces

import (
	"context"

	"github.com/customeros/mailstack/internal/utils"
)

// Event is one change notification fanned out alongside the orchestrator's
// client responses — account-level bookkeeping (sync state, connectivity)
// that other parts of the system subscribe to independently of a single
// action's Response stream.
type Event struct {
	Tenant  string
	Topic   string
	Key     string
	Details *utils.EventCompletedDetails
	Payload any
}

// EventPublisher fans out Events to whatever transport backs it (rabbitmq
// in production, an in-memory fanout in tests).
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// EventListener handles one consumed Event. Returning an error requeues or
// dead-letters the event, depending on the subscriber's policy.
type EventListener func(ctx context.Context, event Event) error

// EventSubscriber attaches listeners to a topic.
type EventSubscriber interface {
	Subscribe(ctx context.Context, topic string, listener EventListener) (unsubscribe func(), err error)
	Close() error
}
