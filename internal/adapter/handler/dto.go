package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/service"
)

// Wire shapes shared by the HTTP and gRPC handlers. Money is encoded as a
// decimal string.

type paymentDTO struct {
	Method    string `json:"method"`
	Status    string `json:"status,omitempty"`
	Reference string `json:"reference,omitempty"`
}

type couponDTO struct {
	Code  string          `json:"code"`
	Kind  string          `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type itemRequestDTO struct {
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	Discount        decimal.Decimal `json:"discount"`
	PrescriptionRef string          `json:"prescription_ref,omitempty"`
}

type CreateOrderRequest struct {
	RequestID      string           `json:"request_id"`
	CustomerID     string           `json:"customer_id"`
	Type           string           `json:"type"`
	DeliveryMethod string           `json:"delivery_method"`
	Payment        paymentDTO       `json:"payment"`
	ShippingCost   decimal.Decimal  `json:"shipping_cost"`
	Coupon         *couponDTO       `json:"coupon,omitempty"`
	Items          []itemRequestDTO `json:"items"`
}

func (r CreateOrderRequest) toDomain() domain.CreateOrderRequest {
	req := domain.CreateOrderRequest{
		RequestID:      r.RequestID,
		CustomerID:     r.CustomerID,
		Type:           domain.OrderType(r.Type),
		DeliveryMethod: domain.DeliveryMethod(r.DeliveryMethod),
		Payment: domain.Payment{
			Method:    domain.PaymentMethod(r.Payment.Method),
			Status:    domain.PaymentStatus(r.Payment.Status),
			Reference: r.Payment.Reference,
		},
		ShippingCost: r.ShippingCost,
	}
	if req.Type == "" {
		req.Type = domain.OrderTypeOnline
	}
	if req.DeliveryMethod == "" {
		req.DeliveryMethod = domain.DeliveryPickup
	}
	if r.Coupon != nil {
		req.Coupon = &domain.Coupon{Code: r.Coupon.Code, Kind: domain.CouponKind(r.Coupon.Kind), Value: r.Coupon.Value}
	}
	for _, item := range r.Items {
		req.Items = append(req.Items, domain.ItemRequest{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			Discount:        item.Discount,
			PrescriptionRef: item.PrescriptionRef,
		})
	}
	return req
}

type TransitionRequest struct {
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status"`
	Actor   string `json:"actor"`
	Note    string `json:"note,omitempty"`
}

type StockChangeRequest struct {
	ProductID string `json:"product_id,omitempty"`
	Quantity  int    `json:"quantity"`
	Type      string `json:"type,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference,omitempty"`
	Actor     string `json:"actor"`
}

func (r StockChangeRequest) toChange(productID string) service.StockChange {
	return service.StockChange{
		ProductID: productID,
		Quantity:  r.Quantity,
		Type:      domain.MovementType(r.Type),
		Reason:    domain.MovementReason(r.Reason),
		Reference: r.Reference,
		Actor:     r.Actor,
	}
}

// MovementQuery mirrors the query string of the movements endpoint.
type MovementQuery struct {
	ProductID string   `json:"product_id,omitempty"`
	Types     []string `json:"types,omitempty"`
	Reference string   `json:"reference,omitempty"`
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

func (q MovementQuery) toFilter() (domain.MovementFilter, error) {
	filter := domain.MovementFilter{Reference: q.Reference, Limit: q.Limit}
	for _, raw := range q.Types {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t == "" {
				continue
			}
			typ := domain.MovementType(t)
			if !typ.Valid() {
				return filter, domain.InvalidArgument("unknown movement type %q", t)
			}
			filter.Types = append(filter.Types, typ)
		}
	}
	var err error
	if filter.From, err = parseTime("from", q.From); err != nil {
		return filter, err
	}
	if filter.To, err = parseTime("to", q.To); err != nil {
		return filter, err
	}
	if filter.Limit < 0 {
		return filter, domain.InvalidArgument("limit cannot be negative")
	}
	return filter, nil
}

func parseTime(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, domain.InvalidArgument("%s must be RFC3339: %v", field, err)
	}
	return t, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.InvalidArgument("limit must be an integer")
	}
	return n, nil
}

type OrderItemResponse struct {
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	Quantity        int    `json:"quantity"`
	PriceHT         string `json:"price_ht"`
	PriceTTC        string `json:"price_ttc"`
	TaxRate         string `json:"tax_rate"`
	Discount        string `json:"discount"`
	LineHT          string `json:"line_ht"`
	LineTTC         string `json:"line_ttc"`
	PrescriptionRef string `json:"prescription_ref,omitempty"`
}

type StatusEntryResponse struct {
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
	ChangedBy string    `json:"changed_by"`
	Note      string    `json:"note,omitempty"`
}

type OrderResponse struct {
	ID             string                `json:"id"`
	Number         string                `json:"number"`
	CustomerID     string                `json:"customer_id"`
	Type           string                `json:"type"`
	DeliveryMethod string                `json:"delivery_method"`
	Payment        paymentDTO            `json:"payment"`
	Coupon         *couponDTO            `json:"coupon,omitempty"`
	Status         string                `json:"status"`
	InventoryState string                `json:"inventory_state"`
	Items          []OrderItemResponse   `json:"items"`
	StatusHistory  []StatusEntryResponse `json:"status_history"`
	ShippingCost   string                `json:"shipping_cost"`
	SubtotalHT     string                `json:"subtotal_ht"`
	SubtotalTTC    string                `json:"subtotal_ttc"`
	TaxTotal       string                `json:"tax_total"`
	DiscountTotal  string                `json:"discount_total"`
	TotalHT        string                `json:"total_ht"`
	TotalTTC       string                `json:"total_ttc"`
	Version        int64                 `json:"version"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func newOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:             o.ID,
		Number:         o.Number,
		CustomerID:     o.CustomerID,
		Type:           string(o.Type),
		DeliveryMethod: string(o.DeliveryMethod),
		Payment: paymentDTO{
			Method:    string(o.Payment.Method),
			Status:    string(o.Payment.Status),
			Reference: o.Payment.Reference,
		},
		Status:         string(o.Status),
		InventoryState: string(o.InventoryState),
		Items:          make([]OrderItemResponse, 0, len(o.Items)),
		StatusHistory:  make([]StatusEntryResponse, 0, len(o.StatusHistory)),
		ShippingCost:   money(o.ShippingCost),
		SubtotalHT:     money(o.SubtotalHT),
		SubtotalTTC:    money(o.SubtotalTTC),
		TaxTotal:       money(o.TaxTotal),
		DiscountTotal:  money(o.DiscountTotal),
		TotalHT:        money(o.TotalHT),
		TotalTTC:       money(o.TotalTTC),
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.Coupon != nil {
		resp.Coupon = &couponDTO{Code: o.Coupon.Code, Kind: string(o.Coupon.Kind), Value: o.Coupon.Value}
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			Quantity:        item.Quantity,
			PriceHT:         money(item.PriceHT),
			PriceTTC:        money(item.PriceTTC),
			TaxRate:         item.TaxRate.String(),
			Discount:        money(item.Discount),
			LineHT:          money(item.LineHT),
			LineTTC:         money(item.LineTTC),
			PrescriptionRef: item.PrescriptionRef,
		})
	}
	for _, entry := range o.StatusHistory {
		resp.StatusHistory = append(resp.StatusHistory, StatusEntryResponse{
			Status:    string(entry.Status),
			At:        entry.At,
			ChangedBy: entry.ChangedBy,
			Note:      entry.Note,
		})
	}
	return resp
}

type MovementResponse struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	Type        string    `json:"type"`
	Quantity    int       `json:"quantity"`
	StockBefore int       `json:"stock_before"`
	StockAfter  int       `json:"stock_after"`
	Reason      string    `json:"reason"`
	Reference   string    `json:"reference,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type MovementsResponse struct {
	Movements []MovementResponse `json:"movements"`
}

func newMovementsResponse(movements []domain.Movement) MovementsResponse {
	resp := MovementsResponse{Movements: make([]MovementResponse, 0, len(movements))}
	for _, m := range movements {
		resp.Movements = append(resp.Movements, MovementResponse{
			ID:          m.ID,
			ProductID:   m.ProductID,
			Type:        string(m.Type),
			Quantity:    m.Quantity,
			StockBefore: m.StockBefore,
			StockAfter:  m.StockAfter,
			Reason:      string(m.Reason),
			Reference:   m.Reference,
			CreatedBy:   m.CreatedBy,
			CreatedAt:   m.CreatedAt,
		})
	}
	return resp
}

type AvailabilityResponse struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

type StockResponse struct {
	ProductID      string `json:"product_id"`
	OnHand         int    `json:"on_hand"`
	Reserved       int    `json:"reserved"`
	Available      int    `json:"available"`
	ThresholdAlert int    `json:"threshold_alert"`
	Low            bool   `json:"low"`
	Version        int64  `json:"version"`
}

func newStockResponse(productID string, s domain.Stock) StockResponse {
	return StockResponse{
		ProductID:      productID,
		OnHand:         s.OnHand,
		Reserved:       s.Reserved,
		Available:      s.Available(),
		ThresholdAlert: s.ThresholdAlert,
		Low:            s.IsLow(),
		Version:        s.Version,
	}
}

type ReconciliationResponse struct {
	ProductID    string `json:"product_id"`
	OnHand       int    `json:"on_hand"`
	LedgerOnHand int    `json:"ledger_on_hand"`
	Consistent   bool   `json:"consistent"`
}

func newReconciliationResponse(r service.Reconciliation) ReconciliationResponse {
	return ReconciliationResponse{
		ProductID:    r.ProductID,
		OnHand:       r.OnHand,
		LedgerOnHand: r.LedgerOnHand,
		Consistent:   r.Consistent,
	}
}

type StockValueResponse struct {
	At     time.Time      `json:"at"`
	OnHand map[string]int `json:"on_hand"`
}

type ErrorBody struct {
	Kind      string `json:"kind"`
	Class     string `json:"class"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	ProductID string `json:"product_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func newErrorResponse(err error) ErrorResponse {
	kind := domain.KindOf(err)
	body := ErrorBody{
		Kind:      kind.String(),
		Class:     string(kind.Class()),
		Retryable: kind.Retryable(),
		Message:   publicMessage(err),
	}
	if e, ok := asDomainError(err); ok {
		body.ProductID = e.ProductID
		body.OrderID = e.OrderID
		body.From = string(e.From)
		body.To = string(e.To)
		if e.Kind == domain.KindInsufficientStock {
			available := e.Available
			body.Requested = e.Requested
			body.Available = &available
		}
	}
	return ErrorResponse{Error: body}
}

// publicMessage hides infrastructure detail behind internal errors.
func publicMessage(err error) string {
	if domain.KindOf(err) == domain.KindUnknown {
		return "internal error"
	}
	return err.Error()
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.InvalidArgument("%s is required", name)
	}
	return nil
}

func badBody(err error) error {
	return domain.InvalidArgument("invalid request body: %v", err)
}
