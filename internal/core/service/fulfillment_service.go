package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/ledger"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/lifecycle"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/pricing"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/stock"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

const idempotencyKeyPrefix = "order:request:"

type Option func(*FulfillmentService)

// WithStockCache enables the read-through available-stock cache and request
// idempotency keys.
func WithStockCache(cache port.StockCache) Option {
	return func(s *FulfillmentService) { s.cache = cache }
}

// WithEventSink receives the events of every committed unit of work.
func WithEventSink(sink port.EventSink) Option {
	return func(s *FulfillmentService) { s.sink = sink }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *FulfillmentService) { s.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *FulfillmentService) { s.tracer = tracer }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *FulfillmentService) { s.retry = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *FulfillmentService) { s.now = now }
}

// FulfillmentService decides which stock mutations and ledger entries an order
// operation needs and commits them as one unit of work.
type FulfillmentService struct {
	repo    port.InventoryRepository
	tracker *stock.Tracker
	ledger  *ledger.Ledger
	cache   port.StockCache
	sink    port.EventSink
	logger  *zap.Logger
	tracer  trace.Tracer
	retry   RetryPolicy
	now     func() time.Time
	reads   singleflight.Group
}

func NewFulfillmentService(repo port.InventoryRepository, opts ...Option) *FulfillmentService {
	s := &FulfillmentService{
		repo:    repo,
		tracker: stock.NewTracker(),
		logger:  zap.NewNop(),
		tracer:  noop.NewTracerProvider().Tracer(""),
		retry:   DefaultRetryPolicy(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = ledger.New(repo, s.tracker).WithClock(s.now)
	return s
}

// unitResult collects what a committed unit of work changed.
type unitResult struct {
	stock  map[string]domain.Stock
	events []domain.Event
}

func newUnitResult() *unitResult {
	return &unitResult{stock: make(map[string]domain.Stock)}
}

func (s *FulfillmentService) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentService.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.type", string(req.Type)), attribute.Int("order.items", len(req.Items)))

	if err := req.Validate(); err != nil {
		return nil, s.fail(span, err)
	}

	var idemKey string
	if req.RequestID != "" && s.cache != nil {
		idemKey = idempotencyKeyPrefix + req.RequestID
		ok, err := s.cache.SetIdempotency(ctx, idemKey)
		if err != nil {
			return nil, s.fail(span, fmt.Errorf("idempotency check failed: %w", err))
		}
		if !ok {
			return nil, s.fail(span, &domain.Error{Kind: domain.KindDuplicateRequest, Detail: req.RequestID})
		}
	}

	var (
		order  *domain.Order
		result *unitResult
	)
	err := s.withRetry(ctx, "create_order", func() error {
		result = newUnitResult()
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			var err error
			order, err = s.createOrderTx(ctx, tx, req, result)
			return err
		})
	})
	if err != nil {
		if idemKey != "" {
			// The request ctx may be what failed; the key must still go.
			if clearErr := s.cache.ClearIdempotency(context.WithoutCancel(ctx), idemKey); clearErr != nil {
				s.logger.Warn("failed to clear idempotency key", zap.String("key", idemKey), zap.Error(clearErr))
			}
		}
		s.logger.Info("order rejected", zap.String("customer_id", req.CustomerID), zap.Error(err))
		return nil, s.fail(span, err)
	}

	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.status", string(order.Status)))
	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.Number),
		zap.String("status", string(order.Status)),
		zap.String("total_ttc", order.TotalTTC.StringFixed(2)),
	)
	s.afterCommit(ctx, result)
	return order, nil
}

func (s *FulfillmentService) createOrderTx(
	ctx context.Context,
	tx port.InventoryTx,
	req domain.CreateOrderRequest,
	result *unitResult,
) (*domain.Order, error) {
	// Every item is checked before anything is written.
	products := make([]*domain.Product, len(req.Items))
	for i, item := range req.Items {
		p, err := tx.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", item.ProductID, err)
		}
		if p == nil {
			return nil, domain.ProductNotFound(item.ProductID)
		}
		if !p.Active {
			return nil, domain.ProductInactive(item.ProductID)
		}
		if available := p.Stock.Available(); available < item.Quantity {
			return nil, domain.InsufficientStock(item.ProductID, item.Quantity, available)
		}
		if p.PrescriptionRequired && strings.TrimSpace(item.PrescriptionRef) == "" {
			return nil, domain.PrescriptionRequired(item.ProductID)
		}
		products[i] = p
	}

	now := s.now().UTC()
	id := uuid.NewString()
	order := &domain.Order{
		ID:             id,
		Number:         fmt.Sprintf("CMD-%s-%s", now.Format("20060102"), strings.ToUpper(id[:8])),
		CustomerID:     req.CustomerID,
		Type:           req.Type,
		DeliveryMethod: req.DeliveryMethod,
		Payment:        req.Payment,
		Coupon:         req.Coupon,
		ShippingCost:   req.ShippingCost,
		Items:          make([]domain.OrderItem, len(req.Items)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if order.Payment.Status == "" {
		order.Payment.Status = domain.PaymentPending
	}
	for i, item := range req.Items {
		order.Items[i] = domain.OrderItem{
			ProductID:       item.ProductID,
			ProductName:     products[i].Name,
			Quantity:        item.Quantity,
			PriceTTC:        products[i].PriceTTC,
			TaxRate:         products[i].TaxRate,
			Discount:        item.Discount,
			PrescriptionRef: item.PrescriptionRef,
		}
	}
	if err := pricing.Price(order); err != nil {
		return nil, err
	}

	pos := req.Type == domain.OrderTypePointOfSale
	initial, state := domain.OrderStatusPending, domain.InventoryReserved
	if pos {
		initial, state = domain.OrderStatusDelivered, domain.InventoryCommitted
	}
	if err := lifecycle.Start(order, initial, req.CustomerID, "", now); err != nil {
		return nil, err
	}
	order.InventoryState = state

	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		var err error
		if pos {
			err = s.commitOutbound(ctx, tx, item.ProductID, item.Quantity, false, domain.MovementOut, domain.ReasonSale,
				order.Number, req.CustomerID, result)
		} else {
			err = s.reserve(ctx, tx, item.ProductID, item.Quantity, result)
		}
		if err != nil {
			return nil, err
		}
	}

	result.events = append([]domain.Event{s.event(domain.EventOrderCreated, order.ID, "", order.Status, map[string]any{
		"number":    order.Number,
		"type":      string(order.Type),
		"total_ttc": order.TotalTTC.StringFixed(2),
		"items":     len(order.Items),
	})}, result.events...)
	return order, nil
}

func (s *FulfillmentService) TransitionOrder(ctx context.Context, orderID string, to domain.OrderStatus, actor, note string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentService.TransitionOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status", string(to)))

	if !to.Valid() {
		return nil, s.fail(span, domain.InvalidArgument("unknown order status %q", to))
	}

	var (
		order  *domain.Order
		from   domain.OrderStatus
		result *unitResult
	)
	err := s.withRetry(ctx, "transition_order", func() error {
		result = newUnitResult()
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			var err error
			order, from, err = s.transitionTx(ctx, tx, orderID, to, actor, note, result)
			return err
		})
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.logger.Info("order transitioned",
		zap.String("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor),
		zap.String("inventory_state", string(order.InventoryState)),
	)
	s.afterCommit(ctx, result)
	return order, nil
}

func (s *FulfillmentService) transitionTx(
	ctx context.Context,
	tx port.InventoryTx,
	orderID string,
	to domain.OrderStatus,
	actor, note string,
	result *unitResult,
) (*domain.Order, domain.OrderStatus, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, "", fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil {
		return nil, "", domain.OrderNotFound(orderID)
	}
	from, expected := order.Status, order.Version

	effect := lifecycle.EffectOf(order, to)
	if err := lifecycle.Transition(order, to, actor, note, s.now().UTC()); err != nil {
		return nil, from, err
	}

	for _, item := range order.Items {
		switch effect {
		case lifecycle.EffectRelease:
			err = s.release(ctx, tx, item.ProductID, item.Quantity, result)
		case lifecycle.EffectCommitOutbound:
			err = s.commitOutbound(ctx, tx, item.ProductID, item.Quantity, true, domain.MovementOut,
				domain.ReasonOrderFulfillment, order.Number, actor, result)
		}
		if err != nil {
			return nil, from, err
		}
	}
	order.InventoryState = lifecycle.StateAfter(order.InventoryState, effect)
	if to == domain.OrderStatusRefunded {
		order.Payment.Status = domain.PaymentRefunded
	}

	if err := tx.UpdateOrder(ctx, order, expected); err != nil {
		if errors.Is(err, port.ErrOptimisticLock) {
			return nil, from, domain.Contention(err)
		}
		return nil, from, fmt.Errorf("update order %s: %w", orderID, err)
	}
	order.Version = expected + 1

	result.events = append([]domain.Event{s.event(domain.EventOrderStatusChanged, order.ID, "", to, map[string]any{
		"from":   string(from),
		"to":     string(to),
		"actor":  actor,
		"effect": effect.String(),
	})}, result.events...)
	return order, from, nil
}

func (s *FulfillmentService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentService.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("load order %s: %w", orderID, err))
	}
	if order == nil {
		return nil, s.fail(span, domain.OrderNotFound(orderID))
	}
	return order, nil
}

func (s *FulfillmentService) reserve(ctx context.Context, tx port.InventoryTx, productID string, qty int, result *unitResult) error {
	before, err := s.tracker.Snapshot(ctx, tx, productID)
	if err != nil {
		return err
	}
	after, err := s.tracker.Reserve(ctx, tx, productID, qty)
	if err != nil {
		return err
	}
	s.noteStock(productID, before, after, result)
	return nil
}

func (s *FulfillmentService) release(ctx context.Context, tx port.InventoryTx, productID string, qty int, result *unitResult) error {
	before, err := s.tracker.Snapshot(ctx, tx, productID)
	if err != nil {
		return err
	}
	after, err := s.tracker.Release(ctx, tx, productID, qty)
	if err != nil {
		return err
	}
	s.noteStock(productID, before, after, result)
	return nil
}

// commitOutbound removes stock and writes the paired ledger entry in tx.
// fromReservation consumes the order's reservation; otherwise only
// unpromised units may leave.
func (s *FulfillmentService) commitOutbound(
	ctx context.Context,
	tx port.InventoryTx,
	productID string,
	qty int,
	fromReservation bool,
	typ domain.MovementType,
	reason domain.MovementReason,
	reference, actor string,
	result *unitResult,
) error {
	var (
		before domain.Stock
		after  domain.Stock
		err    error
	)
	record := s.recorder(ctx, tx, productID, qty, typ, reason, reference, actor, &before, result)
	if fromReservation {
		after, err = s.tracker.CommitOutbound(ctx, tx, productID, qty, record)
	} else {
		after, err = s.tracker.CommitUnreserved(ctx, tx, productID, qty, record)
	}
	if err != nil {
		return err
	}
	s.noteStock(productID, before, after, result)
	return nil
}

func (s *FulfillmentService) commitInbound(
	ctx context.Context,
	tx port.InventoryTx,
	productID string,
	qty int,
	typ domain.MovementType,
	reason domain.MovementReason,
	reference, actor string,
	result *unitResult,
) (domain.Stock, error) {
	var before domain.Stock
	after, err := s.tracker.CommitInbound(ctx, tx, productID, qty, s.recorder(ctx, tx, productID, qty, typ, reason, reference, actor, &before, result))
	if err != nil {
		return domain.Stock{}, err
	}
	s.noteStock(productID, before, after, result)
	return after, nil
}

func (s *FulfillmentService) recorder(
	ctx context.Context,
	tx port.InventoryTx,
	productID string,
	qty int,
	typ domain.MovementType,
	reason domain.MovementReason,
	reference, actor string,
	before *domain.Stock,
	result *unitResult,
) stock.RecordFunc {
	return func(b, a domain.Stock) error {
		*before = b
		m, err := s.ledger.Record(ctx, tx, domain.Movement{
			ProductID:   productID,
			Type:        typ,
			Quantity:    qty,
			StockBefore: b.OnHand,
			StockAfter:  a.OnHand,
			Reason:      reason,
			Reference:   reference,
			CreatedBy:   actor,
		})
		if err != nil {
			return err
		}
		result.events = append(result.events, s.event(domain.EventStockMovementRecorded, "", productID, "", map[string]any{
			"movement_id":  m.ID,
			"type":         string(m.Type),
			"reason":       string(m.Reason),
			"quantity":     m.Quantity,
			"stock_before": m.StockBefore,
			"stock_after":  m.StockAfter,
			"reference":    m.Reference,
		}))
		return nil
	}
}

// noteStock remembers the committed counters for the cache refresh and emits
// a low-stock event when available stock crosses below the alert threshold.
func (s *FulfillmentService) noteStock(productID string, before, after domain.Stock, result *unitResult) {
	result.stock[productID] = after
	if !before.IsLow() && after.IsLow() {
		result.events = append(result.events, s.event(domain.EventStockLow, "", productID, "", map[string]any{
			"available":       after.Available(),
			"on_hand":         after.OnHand,
			"threshold_alert": after.ThresholdAlert,
		}))
	}
}

func (s *FulfillmentService) event(typ domain.EventType, orderID, productID string, status domain.OrderStatus, payload map[string]any) domain.Event {
	return domain.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: s.now().UTC(),
		OrderID:    orderID,
		ProductID:  productID,
		Status:     status,
		Payload:    payload,
	}
}

// afterCommit refreshes cached availability and hands events to the sink.
// Neither can fail the already committed operation.
func (s *FulfillmentService) afterCommit(ctx context.Context, result *unitResult) {
	if s.cache != nil {
		for productID, st := range result.stock {
			if err := s.cache.SetAvailable(ctx, productID, st.Available(), st.Version); err != nil {
				s.logger.Warn("failed to refresh stock cache", zap.String("product_id", productID), zap.Error(err))
			}
		}
	}
	if s.sink != nil && len(result.events) > 0 {
		s.sink.Committed(ctx, result.events...)
	}
}

func (s *FulfillmentService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if kind := domain.KindOf(err); kind != domain.KindUnknown {
		span.SetAttributes(attribute.String("error.kind", kind.String()))
	}
	return err
}
