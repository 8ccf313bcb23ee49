package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
	OrderStatusFailed    OrderStatus = "failed"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded,
		OrderStatusFailed:
		return true
	}
	return false
}

type OrderType string

const (
	OrderTypeOnline      OrderType = "en_ligne"
	OrderTypePointOfSale OrderType = "vente_pos"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeOnline || t == OrderTypePointOfSale
}

type DeliveryMethod string

const (
	DeliveryPickup   DeliveryMethod = "pickup"
	DeliveryShipping DeliveryMethod = "delivery"
)

func (d DeliveryMethod) Valid() bool {
	return d == DeliveryPickup || d == DeliveryShipping
}

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentCard      PaymentMethod = "card"
	PaymentInsurance PaymentMethod = "insurance"
	PaymentTransfer  PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentInsurance, PaymentTransfer:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentRefunded, PaymentFailed:
		return true
	}
	return false
}

// Payment is tracked as a flag only.
type Payment struct {
	Method    PaymentMethod
	Status    PaymentStatus
	Reference string
}

// InventoryState records which stock effect an order currently holds.
type InventoryState string

const (
	InventoryReserved  InventoryState = "reserved"
	InventoryCommitted InventoryState = "committed"
	InventoryReleased  InventoryState = "released"
)

type CouponKind string

const (
	CouponPercent CouponKind = "percent"
	CouponFixed   CouponKind = "fixed"
)

type Coupon struct {
	Code  string
	Kind  CouponKind
	Value decimal.Decimal
}

type OrderItem struct {
	ProductID       string
	ProductName     string
	Quantity        int
	PriceHT         decimal.Decimal
	PriceTTC        decimal.Decimal
	TaxRate         decimal.Decimal
	Discount        decimal.Decimal
	LineHT          decimal.Decimal
	LineTTC         decimal.Decimal
	PrescriptionRef string
}

type StatusEntry struct {
	Status    OrderStatus
	At        time.Time
	ChangedBy string
	Note      string
}

type Order struct {
	ID             string
	Number         string
	CustomerID     string
	Type           OrderType
	DeliveryMethod DeliveryMethod
	Payment        Payment
	Coupon         *Coupon
	Items          []OrderItem
	Status         OrderStatus
	StatusHistory  []StatusEntry
	InventoryState InventoryState

	ShippingCost  decimal.Decimal
	SubtotalHT    decimal.Decimal
	SubtotalTTC   decimal.Decimal
	TaxTotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	TotalHT       decimal.Decimal
	TotalTTC      decimal.Decimal

	Version   int64 // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so stored orders never alias caller-held slices.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.StatusHistory = append([]StatusEntry(nil), o.StatusHistory...)
	if o.Coupon != nil {
		coupon := *o.Coupon
		c.Coupon = &coupon
	}
	return &c
}

// ItemRequest is one requested line of a new order. Prices come from the catalog.
type ItemRequest struct {
	ProductID       string
	Quantity        int
	Discount        decimal.Decimal
	PrescriptionRef string
}

type CreateOrderRequest struct {
	RequestID      string
	CustomerID     string
	Type           OrderType
	DeliveryMethod DeliveryMethod
	Payment        Payment
	ShippingCost   decimal.Decimal
	Coupon         *Coupon
	Items          []ItemRequest
}

// Validate checks the request shape. Catalog and stock checks happen later.
func (r CreateOrderRequest) Validate() error {
	if len(r.Items) == 0 {
		return InvalidArgument("order must have at least one item")
	}
	if !r.Type.Valid() {
		return InvalidArgument("unknown order type %q", r.Type)
	}
	if !r.DeliveryMethod.Valid() {
		return InvalidArgument("unknown delivery method %q", r.DeliveryMethod)
	}
	if !r.Payment.Method.Valid() {
		return InvalidArgument("unknown payment method %q", r.Payment.Method)
	}
	if r.Payment.Status != "" && !r.Payment.Status.Valid() {
		return InvalidArgument("unknown payment status %q", r.Payment.Status)
	}
	if r.Type == OrderTypePointOfSale && r.Payment.Status != PaymentPaid {
		return InvalidArgument("point of sale orders must be paid at creation")
	}
	if r.ShippingCost.IsNegative() {
		return InvalidArgument("shipping cost cannot be negative")
	}
	if r.Coupon != nil {
		if r.Coupon.Kind != CouponPercent && r.Coupon.Kind != CouponFixed {
			return InvalidArgument("unknown coupon kind %q", r.Coupon.Kind)
		}
		if r.Coupon.Value.IsNegative() {
			return InvalidArgument("coupon value cannot be negative")
		}
		if r.Coupon.Kind == CouponPercent && r.Coupon.Value.GreaterThan(decimal.NewFromInt(100)) {
			return InvalidArgument("coupon percentage cannot exceed 100")
		}
	}
	seen := make(map[string]bool, len(r.Items))
	for _, item := range r.Items {
		if item.ProductID == "" {
			return InvalidArgument("item product id is required")
		}
		if seen[item.ProductID] {
			return InvalidArgument("product %s appears more than once", item.ProductID)
		}
		seen[item.ProductID] = true
		if item.Quantity < 1 {
			return InvalidArgument("item quantity must be at least 1, got %d", item.Quantity)
		}
		if item.Discount.IsNegative() {
			return InvalidArgument("item discount cannot be negative")
		}
	}
	return nil
}
