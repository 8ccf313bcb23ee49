// Package lifecycle validates order status changes and keeps the status
// history. It performs no I/O; the inventory effect of a transition is
// reported by EffectOf and applied by the caller.
package lifecycle

import (
	"time"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
)

var transitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed: {domain.OrderStatusPreparing, domain.OrderStatusCancelled},
	domain.OrderStatusPreparing: {domain.OrderStatusReady, domain.OrderStatusCancelled},
	domain.OrderStatusReady:     {domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:   {domain.OrderStatusDelivered, domain.OrderStatusRefunded},
	domain.OrderStatusDelivered: {domain.OrderStatusRefunded},
}

// Effect is the inventory side effect of a transition.
type Effect int

const (
	EffectNone Effect = iota
	EffectRelease
	EffectCommitOutbound
)

func (e Effect) String() string {
	switch e {
	case EffectRelease:
		return "release"
	case EffectCommitOutbound:
		return "commit_outbound"
	default:
		return "none"
	}
}

func CanTransition(from, to domain.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Allowed lists the statuses reachable from from. Terminal statuses return nil.
func Allowed(from domain.OrderStatus) []domain.OrderStatus {
	next := transitions[from]
	if len(next) == 0 {
		return nil
	}
	return append([]domain.OrderStatus(nil), next...)
}

func IsTerminal(s domain.OrderStatus) bool {
	return len(transitions[s]) == 0
}

// Start records the creation status of a new order.
func Start(o *domain.Order, status domain.OrderStatus, actor, note string, at time.Time) error {
	if !status.Valid() {
		return domain.InvalidArgument("unknown order status %q", status)
	}
	if len(o.StatusHistory) > 0 {
		return domain.InvalidArgument("order %s already started", o.ID)
	}
	o.Status = status
	o.StatusHistory = []domain.StatusEntry{{Status: status, At: at, ChangedBy: actor, Note: note}}
	o.UpdatedAt = at
	return nil
}

// Transition moves o to status to and appends exactly one history entry.
func Transition(o *domain.Order, to domain.OrderStatus, actor, note string, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return domain.InvalidTransition(o.ID, o.Status, to)
	}
	o.Status = to
	o.StatusHistory = append(o.StatusHistory, domain.StatusEntry{Status: to, At: at, ChangedBy: actor, Note: note})
	o.UpdatedAt = at
	return nil
}

// EffectOf reports what moving o to status to does to inventory. Only an
// order still holding a reservation has anything to release or commit.
// Refunds never restock.
func EffectOf(o *domain.Order, to domain.OrderStatus) Effect {
	if o.InventoryState != domain.InventoryReserved {
		return EffectNone
	}
	switch to {
	case domain.OrderStatusCancelled:
		return EffectRelease
	case domain.OrderStatusPreparing, domain.OrderStatusReady, domain.OrderStatusShipped, domain.OrderStatusDelivered:
		return EffectCommitOutbound
	default:
		return EffectNone
	}
}

// StateAfter is the inventory state an order holds once effect is applied.
func StateAfter(current domain.InventoryState, effect Effect) domain.InventoryState {
	switch effect {
	case EffectRelease:
		return domain.InventoryReleased
	case EffectCommitOutbound:
		return domain.InventoryCommitted
	default:
		return current
	}
}
