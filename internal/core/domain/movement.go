package domain

import "time"

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
	MovementTransfer   MovementType = "transfer"
	MovementReturn     MovementType = "return"
	MovementDamage     MovementType = "damage"
	MovementExpiry     MovementType = "expiry"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjustment, MovementTransfer,
		MovementReturn, MovementDamage, MovementExpiry:
		return true
	}
	return false
}

// Inbound reports whether the type always adds units. Adjustment goes either way.
func (t MovementType) Inbound() bool {
	return t == MovementIn || t == MovementReturn
}

// Outbound reports whether the type always removes units.
func (t MovementType) Outbound() bool {
	switch t {
	case MovementOut, MovementTransfer, MovementDamage, MovementExpiry:
		return true
	}
	return false
}

type MovementReason string

const (
	ReasonSale             MovementReason = "sale"
	ReasonOrderFulfillment MovementReason = "order_fulfillment"
	ReasonPurchaseReceipt  MovementReason = "purchase_receipt"
	ReasonCustomerReturn   MovementReason = "customer_return"
	ReasonInventoryCount   MovementReason = "inventory_count"
	ReasonDamaged          MovementReason = "damaged"
	ReasonExpired          MovementReason = "expired"
	ReasonTransferOut      MovementReason = "transfer_out"
	ReasonInitialStock     MovementReason = "initial_stock"
	ReasonCorrection       MovementReason = "correction"
)

func (r MovementReason) Valid() bool {
	switch r {
	case ReasonSale, ReasonOrderFulfillment, ReasonPurchaseReceipt, ReasonCustomerReturn,
		ReasonInventoryCount, ReasonDamaged, ReasonExpired, ReasonTransferOut,
		ReasonInitialStock, ReasonCorrection:
		return true
	}
	return false
}

// Movement is an immutable record of one committed on-hand change.
type Movement struct {
	ID          string
	ProductID   string
	Type        MovementType
	Quantity    int
	StockBefore int
	StockAfter  int
	Reason      MovementReason
	Reference   string
	CreatedBy   string
	CreatedAt   time.Time
}

// Delta is the signed on-hand change the movement records.
func (m Movement) Delta() int {
	switch {
	case m.Type.Inbound():
		return m.Quantity
	case m.Type.Outbound():
		return -m.Quantity
	default:
		return m.StockAfter - m.StockBefore
	}
}

// Validate checks the before/after arithmetic against the movement type.
func (m Movement) Validate() error {
	if m.ProductID == "" {
		return InvalidArgument("movement product id is required")
	}
	if !m.Type.Valid() {
		return InvalidArgument("unknown movement type %q", m.Type)
	}
	if !m.Reason.Valid() {
		return InvalidArgument("unknown movement reason %q", m.Reason)
	}
	if m.Quantity < 0 || m.StockBefore < 0 || m.StockAfter < 0 {
		return LedgerInconsistency(m.ProductID, "negative quantity or stock in movement")
	}

	var ok bool
	switch {
	case m.Type.Inbound():
		ok = m.StockAfter == m.StockBefore+m.Quantity
	case m.Type.Outbound():
		ok = m.StockAfter == m.StockBefore-m.Quantity
	default:
		ok = m.StockAfter == m.StockBefore+m.Quantity || m.StockAfter == m.StockBefore-m.Quantity
	}
	if !ok {
		return LedgerInconsistency(m.ProductID, "%s movement of %d cannot take stock from %d to %d",
			m.Type, m.Quantity, m.StockBefore, m.StockAfter)
	}
	return nil
}

// MovementFilter narrows a ledger query. Zero fields match everything.
type MovementFilter struct {
	ProductID string
	Types     []MovementType
	Reference string
	From      time.Time
	To        time.Time
	Limit     int
}

func (f MovementFilter) Match(m Movement) bool {
	if f.ProductID != "" && m.ProductID != f.ProductID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == m.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Reference != "" && m.Reference != f.Reference {
		return false
	}
	if !f.From.IsZero() && m.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && m.CreatedAt.After(f.To) {
		return false
	}
	return true
}
