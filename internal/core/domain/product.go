package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog entry the core reads. Stock is owned by the tracker;
// catalog writes never touch it.
type Product struct {
	ID                   string
	Name                 string
	Active               bool
	PriceTTC             decimal.Decimal
	TaxRate              decimal.Decimal // percent, e.g. 20 for 20%
	PrescriptionRequired bool
	Stock                Stock
	UpdatedAt            time.Time
}

// Stock holds the per-product counters.
type Stock struct {
	OnHand         int
	Reserved       int
	ThresholdAlert int
	Version        int64 // optimistic locking
}

func (s Stock) Available() int {
	if s.OnHand <= s.Reserved {
		return 0
	}
	return s.OnHand - s.Reserved
}

func (s Stock) IsLow() bool {
	return s.Available() < s.ThresholdAlert
}

func (s Stock) Valid() bool {
	return s.Reserved >= 0 && s.Reserved <= s.OnHand && s.ThresholdAlert >= 0
}

// Reserve promises qty units to an order.
func (s Stock) Reserve(productID string, qty int) (Stock, error) {
	if qty < 1 {
		return s, InvalidArgument("reserve quantity must be positive, got %d", qty)
	}
	if s.Available() < qty {
		return s, InsufficientStock(productID, qty, s.Available())
	}
	s.Reserved += qty
	return s, nil
}

// Release returns up to qty reserved units. It never drives Reserved below zero.
func (s Stock) Release(qty int) (Stock, error) {
	if qty < 1 {
		return s, InvalidArgument("release quantity must be positive, got %d", qty)
	}
	s.Reserved -= min(qty, s.Reserved)
	return s, nil
}

// Outbound removes qty physical units and consumes the matching reservation.
func (s Stock) Outbound(productID string, qty int) (Stock, error) {
	if qty < 1 {
		return s, InvalidArgument("outbound quantity must be positive, got %d", qty)
	}
	if s.OnHand < qty {
		return s, InsufficientStock(productID, qty, s.OnHand)
	}
	next := s
	next.OnHand -= qty
	next.Reserved -= min(qty, s.Reserved)
	return next, nil
}

// Remove takes qty physical units that nobody has been promised, as for a
// counter sale or a write-off. Reservations are left intact.
func (s Stock) Remove(productID string, qty int) (Stock, error) {
	if qty < 1 {
		return s, InvalidArgument("remove quantity must be positive, got %d", qty)
	}
	if s.Available() < qty {
		return s, InsufficientStock(productID, qty, s.Available())
	}
	s.OnHand -= qty
	return s, nil
}

// Inbound adds qty physical units.
func (s Stock) Inbound(qty int) (Stock, error) {
	if qty < 1 {
		return s, InvalidArgument("inbound quantity must be positive, got %d", qty)
	}
	s.OnHand += qty
	return s, nil
}
