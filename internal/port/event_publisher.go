package port

import (
	"context"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
)

// EventPublisher delivers one event to a broker.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// EventSink receives events of a committed unit of work. It must not block.
type EventSink interface {
	Committed(ctx context.Context, events ...domain.Event)
}
