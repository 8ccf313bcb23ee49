package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

func newMemoryWithProduct(t *testing.T, onHand int) *MemoryAdapter {
	t.Helper()
	m, err := NewMemoryAdapter()
	if err != nil {
		t.Fatalf("NewMemoryAdapter failed: %v", err)
	}
	ctx := context.Background()
	if err := m.UpsertProduct(ctx, domain.Product{ID: "p1", Name: "Doliprane", Active: true, PriceTTC: decimal.NewFromInt(3)}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if onHand > 0 {
		if err := m.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			return tx.CompareAndSwapStock(ctx, "p1", 0, domain.Stock{OnHand: onHand})
		}); err != nil {
			t.Fatalf("seed stock failed: %v", err)
		}
	}
	return m
}

func TestMemory_UpsertKeepsStock(t *testing.T) {
	m := newMemoryWithProduct(t, 10)
	ctx := context.Background()

	err := m.UpsertProduct(ctx, domain.Product{ID: "p1", Name: "Doliprane 1000", Active: false, Stock: domain.Stock{OnHand: 99}})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	p, _ := m.GetProduct(ctx, "p1")
	if p.Name != "Doliprane 1000" || p.Active || p.Stock.OnHand != 10 {
		t.Errorf("unexpected product: %+v", p)
	}
}

func TestMemory_ReadYourWritesAndRollback(t *testing.T) {
	m := newMemoryWithProduct(t, 10)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		if err := tx.CompareAndSwapStock(ctx, "p1", 1, domain.Stock{OnHand: 10, Reserved: 3}); err != nil {
			return err
		}
		p, err := tx.GetProduct(ctx, "p1")
		if err != nil {
			return err
		}
		if p.Stock.Reserved != 3 || p.Stock.Version != 2 {
			t.Errorf("tx should see its own write, got %+v", p.Stock)
		}
		if err := tx.AppendMovement(ctx, domain.Movement{ID: "m1", ProductID: "p1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got: %v", err)
	}

	p, _ := m.GetProduct(ctx, "p1")
	if p.Stock.Reserved != 0 || p.Stock.Version != 1 {
		t.Errorf("rollback leaked stock write: %+v", p.Stock)
	}
	movements, _ := m.ListMovements(ctx, domain.MovementFilter{})
	if len(movements) != 0 {
		t.Errorf("rollback leaked %d movements", len(movements))
	}
}

func TestMemory_ConflictingCommitLoses(t *testing.T) {
	m := newMemoryWithProduct(t, 10)
	ctx := context.Background()

	inner := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- m.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			<-inner
			return tx.CompareAndSwapStock(ctx, "p1", 1, domain.Stock{OnHand: 10, Reserved: 1})
		})
	}()

	// Commit a competing write while the first unit still holds version 1.
	if err := m.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		return tx.CompareAndSwapStock(ctx, "p1", 1, domain.Stock{OnHand: 10, Reserved: 2})
	}); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	close(inner)

	if err := <-done; !errors.Is(err, port.ErrOptimisticLock) {
		t.Fatalf("expected ErrOptimisticLock, got: %v", err)
	}
	p, _ := m.GetProduct(ctx, "p1")
	if p.Stock.Reserved != 2 {
		t.Errorf("expected winner's reserved=2, got %d", p.Stock.Reserved)
	}
}

func TestMemory_ConcurrentCAS(t *testing.T) {
	m := newMemoryWithProduct(t, 20)
	ctx := context.Background()

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
				p, err := tx.GetProduct(ctx, "p1")
				if err != nil {
					return err
				}
				next, err := p.Stock.Reserve("p1", 1)
				if err != nil {
					return err
				}
				return tx.CompareAndSwapStock(ctx, "p1", p.Stock.Version, next)
			})
			if err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	p, _ := m.GetProduct(ctx, "p1")
	if int(successCount.Load()) != p.Stock.Reserved {
		t.Errorf("successes %d differ from reserved %d", successCount.Load(), p.Stock.Reserved)
	}
	if !p.Stock.Valid() {
		t.Errorf("invalid stock: %+v", p.Stock)
	}
}

func TestMemory_OrderVersioning(t *testing.T) {
	m := newMemoryWithProduct(t, 0)
	ctx := context.Background()
	order := &domain.Order{ID: "o1", Status: domain.OrderStatusPending, Items: []domain.OrderItem{{ProductID: "p1", Quantity: 1}}}

	if err := m.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		return tx.InsertOrder(ctx, order)
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	order.Status = domain.OrderStatusConfirmed
	if err := m.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		return tx.UpdateOrder(ctx, order, 0)
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		return tx.UpdateOrder(ctx, order, 0)
	})
	if !errors.Is(err, port.ErrOptimisticLock) {
		t.Errorf("expected ErrOptimisticLock, got: %v", err)
	}

	got, _ := m.GetOrder(ctx, "o1")
	if got.Status != domain.OrderStatusConfirmed || got.Version != 1 {
		t.Errorf("unexpected order: %+v", got)
	}
	// Stored orders do not alias caller memory.
	order.Items[0].Quantity = 7
	got, _ = m.GetOrder(ctx, "o1")
	if got.Items[0].Quantity != 1 {
		t.Error("stored order aliases caller slice")
	}
}

func TestMemory_ListMovementsOrderingAndLimit(t *testing.T) {
	m := newMemoryWithProduct(t, 0)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		mv := domain.Movement{ID: id, ProductID: "p1", Type: domain.MovementIn, CreatedAt: t0.Add(time.Duration(i) * time.Hour)}
		if err := m.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			return tx.AppendMovement(ctx, mv)
		}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := m.ListMovements(ctx, domain.MovementFilter{ProductID: "p1", Limit: 2})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("expected [c b], got %+v", got)
	}
}
