package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-fulfillment/internal/adapter/storage"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
)

type fulfillmentTestContext struct {
	store *storage.MemoryAdapter
	svc   *FulfillmentService
	order *domain.Order
	err   error
}

func (c *fulfillmentTestContext) reset() error {
	store, err := storage.NewMemoryAdapter()
	if err != nil {
		return err
	}
	c.store = store
	c.svc = NewFulfillmentService(store)
	c.order = nil
	c.err = nil
	return nil
}

func (c *fulfillmentTestContext) seedProduct(id string, onHand int, prescription bool) error {
	ctx := context.Background()
	err := c.store.UpsertProduct(ctx, domain.Product{
		ID:                   id,
		Name:                 id,
		Active:               true,
		PriceTTC:             decimal.RequireFromString("3.50"),
		TaxRate:              decimal.RequireFromString("2.1"),
		PrescriptionRequired: prescription,
	})
	if err != nil {
		return err
	}
	_, err = c.svc.ReceiveStock(ctx, StockChange{ProductID: id, Quantity: onHand, Reason: domain.ReasonInitialStock, Actor: "seed"})
	return err
}

func (c *fulfillmentTestContext) aProductWithUnitsOnHand(id string, onHand int) error {
	return c.seedProduct(id, onHand, false)
}

func (c *fulfillmentTestContext) aPrescriptionProductWithUnitsOnHand(id string, onHand int) error {
	return c.seedProduct(id, onHand, true)
}

func (c *fulfillmentTestContext) createOrder(items ...domain.ItemRequest) {
	order, err := c.svc.CreateOrder(context.Background(), onlineRequest(items...))
	c.err = err
	if err == nil {
		c.order = order
	}
}

func (c *fulfillmentTestContext) iCreateAnOrderForUnitsOf(qty int, id string) error {
	c.createOrder(domain.ItemRequest{ProductID: id, Quantity: qty})
	return nil
}

func (c *fulfillmentTestContext) iCreateAnOrderForTwoProducts(qty1 int, id1 string, qty2 int, id2 string) error {
	c.createOrder(domain.ItemRequest{ProductID: id1, Quantity: qty1}, domain.ItemRequest{ProductID: id2, Quantity: qty2})
	return nil
}

func (c *fulfillmentTestContext) iMoveTheOrderTo(status string) error {
	if c.order == nil {
		return fmt.Errorf("no order created, last error: %v", c.err)
	}
	order, err := c.svc.TransitionOrder(context.Background(), c.order.ID, domain.OrderStatus(status), "staff-1", "")
	c.err = err
	if err == nil {
		c.order = order
	}
	return nil
}

func (c *fulfillmentTestContext) theOrderStatusIs(status string) error {
	if c.order == nil {
		return fmt.Errorf("no order, last error: %v", c.err)
	}
	stored, err := c.svc.GetOrder(context.Background(), c.order.ID)
	if err != nil {
		return err
	}
	if string(stored.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, stored.Status)
	}
	return nil
}

func (c *fulfillmentTestContext) theOrderHasHistoryEntries(n int) error {
	stored, err := c.svc.GetOrder(context.Background(), c.order.ID)
	if err != nil {
		return err
	}
	if len(stored.StatusHistory) != n {
		return fmt.Errorf("expected %d history entries, got %d", n, len(stored.StatusHistory))
	}
	return nil
}

func (c *fulfillmentTestContext) theRequestFailsWith(kind string) error {
	if c.err == nil {
		return fmt.Errorf("expected %s, request succeeded", kind)
	}
	if got := domain.KindOf(c.err).String(); got != kind {
		return fmt.Errorf("expected %s, got %s (%v)", kind, got, c.err)
	}
	return nil
}

func (c *fulfillmentTestContext) productHasOnHandAndReserved(id string, onHand, reserved int) error {
	p, err := c.store.GetProduct(context.Background(), id)
	if err != nil {
		return err
	}
	if p.Stock.OnHand != onHand || p.Stock.Reserved != reserved {
		return fmt.Errorf("expected onHand=%d reserved=%d, got onHand=%d reserved=%d",
			onHand, reserved, p.Stock.OnHand, p.Stock.Reserved)
	}
	return nil
}

func (c *fulfillmentTestContext) productHasAvailable(id string, available int) error {
	got, err := c.svc.GetAvailableStock(context.Background(), id)
	if err != nil {
		return err
	}
	if got != available {
		return fmt.Errorf("expected %d available, got %d", available, got)
	}
	return nil
}

func (c *fulfillmentTestContext) productHasMovements(id string, n int, typ string) error {
	movements, err := c.svc.GetMovementHistory(context.Background(), id, domain.MovementFilter{
		Types: []domain.MovementType{domain.MovementType(typ)},
	})
	if err != nil {
		return err
	}
	if len(movements) != n {
		return fmt.Errorf("expected %d %s movements, got %d", n, typ, len(movements))
	}
	return nil
}

func (c *fulfillmentTestContext) theLatestMovementGoesFromTo(id string, before, after int) error {
	movements, err := c.svc.GetMovementHistory(context.Background(), id, domain.MovementFilter{Limit: 1})
	if err != nil {
		return err
	}
	if len(movements) == 0 {
		return fmt.Errorf("no movements for %s", id)
	}
	if m := movements[0]; m.StockBefore != before || m.StockAfter != after {
		return fmt.Errorf("expected %d -> %d, got %d -> %d", before, after, m.StockBefore, m.StockAfter)
	}
	return nil
}

func (c *fulfillmentTestContext) theLedgerReplaysToItsOnHand(id string) error {
	r, err := c.svc.ReconcileProduct(context.Background(), id)
	if err != nil {
		return err
	}
	if !r.Consistent {
		return fmt.Errorf("ledger replays to %d, tracker holds %d", r.LedgerOnHand, r.OnHand)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &fulfillmentTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		return ctx, tc.reset()
	})

	// Given steps
	ctx.Step(`^a product "([^"]*)" with (\d+) units on hand$`, tc.aProductWithUnitsOnHand)
	ctx.Step(`^a prescription product "([^"]*)" with (\d+) units on hand$`, tc.aPrescriptionProductWithUnitsOnHand)

	// When steps
	ctx.Step(`^I create an order for (\d+) units of "([^"]*)"$`, tc.iCreateAnOrderForUnitsOf)
	ctx.Step(`^I create an order for (\d+) units of "([^"]*)" and (\d+) units of "([^"]*)"$`, tc.iCreateAnOrderForTwoProducts)
	ctx.Step(`^I move the order to "([^"]*)"$`, tc.iMoveTheOrderTo)

	// Then steps
	ctx.Step(`^the order status is "([^"]*)"$`, tc.theOrderStatusIs)
	ctx.Step(`^the order has (\d+) history entries$`, tc.theOrderHasHistoryEntries)
	ctx.Step(`^the request fails with "([^"]*)"$`, tc.theRequestFailsWith)
	ctx.Step(`^product "([^"]*)" has (\d+) on hand and (\d+) reserved$`, tc.productHasOnHandAndReserved)
	ctx.Step(`^product "([^"]*)" has (\d+) available$`, tc.productHasAvailable)
	ctx.Step(`^product "([^"]*)" has (\d+) "([^"]*)" movements$`, tc.productHasMovements)
	ctx.Step(`^the latest movement of "([^"]*)" goes from (\d+) to (\d+)$`, tc.theLatestMovementGoesFromTo)
	ctx.Step(`^the ledger of "([^"]*)" replays to its on hand$`, tc.theLedgerReplaysToItsOnHand)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
