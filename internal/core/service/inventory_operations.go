package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

// StockChange describes a stock receipt or write-off outside any order.
type StockChange struct {
	ProductID string
	Quantity  int
	Type      domain.MovementType
	Reason    domain.MovementReason
	Reference string
	Actor     string
}

// Reconciliation compares the tracker's on-hand with the ledger replay.
type Reconciliation struct {
	ProductID    string
	OnHand       int
	LedgerOnHand int
	Consistent   bool
}

var defaultReasons = map[domain.MovementType]domain.MovementReason{
	domain.MovementIn:         domain.ReasonPurchaseReceipt,
	domain.MovementReturn:     domain.ReasonCustomerReturn,
	domain.MovementAdjustment: domain.ReasonInventoryCount,
	domain.MovementDamage:     domain.ReasonDamaged,
	domain.MovementExpiry:     domain.ReasonExpired,
	domain.MovementTransfer:   domain.ReasonTransferOut,
}

func (c *StockChange) normalize(defaultType domain.MovementType) error {
	if c.ProductID == "" {
		return domain.InvalidArgument("product id is required")
	}
	if c.Quantity < 1 {
		return domain.InvalidArgument("quantity must be at least 1, got %d", c.Quantity)
	}
	if c.Type == "" {
		c.Type = defaultType
	}
	if c.Reason == "" {
		c.Reason = defaultReasons[c.Type]
	}
	if !c.Reason.Valid() {
		return domain.InvalidArgument("unknown movement reason %q", c.Reason)
	}
	return nil
}

// GetAvailableStock reads through the cache. Concurrent misses for one product
// share a single store read.
func (s *FulfillmentService) GetAvailableStock(ctx context.Context, productID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentService.GetAvailableStock")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID))

	if s.cache != nil {
		available, found, err := s.cache.GetAvailable(ctx, productID)
		if err != nil {
			s.logger.Warn("stock cache read failed, using store", zap.String("product_id", productID), zap.Error(err))
		} else if found {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return available, nil
		}
	}

	// Callers share one flight, so one caller giving up must not fail the rest.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.reads.Do(productID, func() (any, error) {
		p, err := s.repo.GetProduct(flightCtx, productID)
		if err != nil {
			return 0, fmt.Errorf("load product %s: %w", productID, err)
		}
		if p == nil {
			return 0, domain.ProductNotFound(productID)
		}
		if s.cache != nil {
			if err := s.cache.SetAvailable(flightCtx, productID, p.Stock.Available(), p.Stock.Version); err != nil {
				s.logger.Warn("failed to fill stock cache", zap.String("product_id", productID), zap.Error(err))
			}
		}
		return p.Stock.Available(), nil
	})
	if err != nil {
		return 0, s.fail(span, err)
	}
	return v.(int), nil
}

func (s *FulfillmentService) GetMovementHistory(ctx context.Context, productID string, filter domain.MovementFilter) ([]domain.Movement, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentService.GetMovementHistory")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID))

	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("load product %s: %w", productID, err))
	}
	if p == nil {
		return nil, s.fail(span, domain.ProductNotFound(productID))
	}
	movements, err := s.ledger.History(ctx, productID, filter)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return movements, nil
}

// ReceiveStock adds units outside any order: purchase receipts, customer
// returns, upward count corrections.
func (s *FulfillmentService) ReceiveStock(ctx context.Context, change StockChange) (domain.Stock, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentService.ReceiveStock")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", change.ProductID))

	if err := change.normalize(domain.MovementIn); err != nil {
		return domain.Stock{}, s.fail(span, err)
	}
	if !change.Type.Inbound() && change.Type != domain.MovementAdjustment {
		return domain.Stock{}, s.fail(span, domain.InvalidArgument("%s is not an inbound movement type", change.Type))
	}

	var (
		after  domain.Stock
		result *unitResult
	)
	err := s.withRetry(ctx, "receive_stock", func() error {
		result = newUnitResult()
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			var err error
			after, err = s.commitInbound(ctx, tx, change.ProductID, change.Quantity, change.Type, change.Reason,
				change.Reference, change.Actor, result)
			return err
		})
	})
	if err != nil {
		return domain.Stock{}, s.fail(span, err)
	}

	s.logger.Info("stock received",
		zap.String("product_id", change.ProductID),
		zap.Int("quantity", change.Quantity),
		zap.String("reason", string(change.Reason)),
		zap.Int("on_hand", after.OnHand),
	)
	s.afterCommit(ctx, result)
	return after, nil
}

// WriteOffStock removes units outside any order. Units promised to orders
// stay covered; a write-off that would uncover them fails.
func (s *FulfillmentService) WriteOffStock(ctx context.Context, change StockChange) (domain.Stock, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentService.WriteOffStock")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", change.ProductID))

	if err := change.normalize(domain.MovementDamage); err != nil {
		return domain.Stock{}, s.fail(span, err)
	}
	if change.Type == domain.MovementOut {
		return domain.Stock{}, s.fail(span, domain.InvalidArgument("sales go through orders"))
	}
	if !change.Type.Outbound() && change.Type != domain.MovementAdjustment {
		return domain.Stock{}, s.fail(span, domain.InvalidArgument("%s is not an outbound movement type", change.Type))
	}

	var (
		after  domain.Stock
		result *unitResult
	)
	err := s.withRetry(ctx, "write_off_stock", func() error {
		result = newUnitResult()
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			if err := s.commitOutbound(ctx, tx, change.ProductID, change.Quantity, false, change.Type, change.Reason,
				change.Reference, change.Actor, result); err != nil {
				return err
			}
			after = result.stock[change.ProductID]
			return nil
		})
	})
	if err != nil {
		return domain.Stock{}, s.fail(span, err)
	}

	s.logger.Info("stock written off",
		zap.String("product_id", change.ProductID),
		zap.Int("quantity", change.Quantity),
		zap.String("reason", string(change.Reason)),
		zap.Int("on_hand", after.OnHand),
	)
	s.afterCommit(ctx, result)
	return after, nil
}

// StockValueAt reconstructs per-product on-hand at a point in time from the ledger.
func (s *FulfillmentService) StockValueAt(ctx context.Context, at time.Time) (map[string]int, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentService.StockValueAt")
	defer span.End()

	values, err := s.ledger.ValueAt(ctx, at)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return values, nil
}

// ReconcileProduct replays the ledger of one product and compares the result
// with the tracker. A mismatch is reported, never corrected.
func (s *FulfillmentService) ReconcileProduct(ctx context.Context, productID string) (Reconciliation, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentService.ReconcileProduct")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID))

	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Reconciliation{}, s.fail(span, fmt.Errorf("load product %s: %w", productID, err))
	}
	if p == nil {
		return Reconciliation{}, s.fail(span, domain.ProductNotFound(productID))
	}
	replayed, err := s.ledger.Replay(ctx, productID)
	if err != nil {
		return Reconciliation{}, s.fail(span, err)
	}

	r := Reconciliation{
		ProductID:    productID,
		OnHand:       p.Stock.OnHand,
		LedgerOnHand: replayed,
		Consistent:   p.Stock.OnHand == replayed,
	}
	if !r.Consistent {
		s.logger.Error("ledger does not match stock",
			zap.String("product_id", productID),
			zap.Int("on_hand", r.OnHand),
			zap.Int("ledger_on_hand", r.LedgerOnHand),
		)
	}
	return r, nil
}
