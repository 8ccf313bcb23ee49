package domain

import "time"

type EventType string

const (
	EventOrderCreated          EventType = "order.created"
	EventOrderStatusChanged    EventType = "order.status_changed"
	EventStockMovementRecorded EventType = "stock.movement_recorded"
	EventStockLow              EventType = "stock.low"
)

// Event is emitted after a unit of work commits.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	OrderID    string         `json:"order_id,omitempty"`
	ProductID  string         `json:"product_id,omitempty"`
	Status     OrderStatus    `json:"status,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Key is the partition / routing key for brokers.
func (e Event) Key() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.ProductID
}
