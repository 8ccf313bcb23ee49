package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-fulfillment/internal/adapter/storage"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

// Mock StockCache
type mockStockCache struct {
	mu             sync.Mutex
	available      map[string]int
	versions       map[string]int64
	idempotencySet map[string]bool
	getErr         error
	gets           int
}

func newMockStockCache() *mockStockCache {
	return &mockStockCache{
		available:      make(map[string]int),
		versions:       make(map[string]int64),
		idempotencySet: make(map[string]bool),
	}
}

func (m *mockStockCache) GetAvailable(ctx context.Context, productID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return 0, false, m.getErr
	}
	v, ok := m.available[productID]
	return v, ok, nil
}

func (m *mockStockCache) SetAvailable(ctx context.Context, productID string, available int, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.versions[productID]; ok && current > version {
		return nil
	}
	m.available[productID] = available
	m.versions[productID] = version
	return nil
}

func (m *mockStockCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockStockCache) ClearIdempotency(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	return nil
}

// Mock EventSink
type mockSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *mockSink) Committed(ctx context.Context, events ...domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
}

func (m *mockSink) ofType(t domain.EventType) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// conflictingRepo loses every commit.
type conflictingRepo struct {
	port.InventoryRepository
	mu    sync.Mutex
	calls int
}

func (r *conflictingRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.InventoryTx) error) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.InventoryRepository.WithinTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return port.ErrOptimisticLock
	})
}

// slowReadRepo holds GetProduct until release is closed, failing early only
// if its own ctx is done.
type slowReadRepo struct {
	port.InventoryRepository
	entered     chan struct{}
	release     chan struct{}
	enteredOnce sync.Once
}

func (r *slowReadRepo) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	r.enteredOnce.Do(func() { close(r.entered) })
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.InventoryRepository.GetProduct(ctx, productID)
}

type productSpec struct {
	id           string
	onHand       int
	threshold    int
	priceTTC     string
	taxRate      string
	prescription bool
	inactive     bool
}

// newTestStore builds a memory store and stocks every product through the
// ledger so replays start from zero.
func newTestStore(t *testing.T, products ...productSpec) *storage.MemoryAdapter {
	t.Helper()
	store, err := storage.NewMemoryAdapter()
	if err != nil {
		t.Fatalf("NewMemoryAdapter failed: %v", err)
	}
	ctx := context.Background()
	seeder := NewFulfillmentService(store)
	for _, p := range products {
		price, tax := p.priceTTC, p.taxRate
		if price == "" {
			price = "10.00"
		}
		if tax == "" {
			tax = "20"
		}
		err := store.UpsertProduct(ctx, domain.Product{
			ID:                   p.id,
			Name:                 "Product " + p.id,
			Active:               true,
			PriceTTC:             decimal.RequireFromString(price),
			TaxRate:              decimal.RequireFromString(tax),
			PrescriptionRequired: p.prescription,
			Stock:                domain.Stock{ThresholdAlert: p.threshold},
		})
		if err != nil {
			t.Fatalf("upsert %s failed: %v", p.id, err)
		}
		if p.onHand > 0 {
			if _, err := seeder.ReceiveStock(ctx, StockChange{
				ProductID: p.id, Quantity: p.onHand, Reason: domain.ReasonInitialStock, Actor: "seed",
			}); err != nil {
				t.Fatalf("seed %s failed: %v", p.id, err)
			}
		}
		if p.inactive {
			prod, _ := store.GetProduct(ctx, p.id)
			prod.Active = false
			if err := store.UpsertProduct(ctx, *prod); err != nil {
				t.Fatalf("deactivate %s failed: %v", p.id, err)
			}
		}
	}
	return store
}

func onlineRequest(items ...domain.ItemRequest) domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		CustomerID:     "customer-1",
		Type:           domain.OrderTypeOnline,
		DeliveryMethod: domain.DeliveryShipping,
		Payment:        domain.Payment{Method: domain.PaymentCard, Status: domain.PaymentPending},
		Items:          items,
	}
}

func stockOf(t *testing.T, store port.InventoryRepository, productID string) domain.Stock {
	t.Helper()
	p, err := store.GetProduct(context.Background(), productID)
	if err != nil || p == nil {
		t.Fatalf("GetProduct %s failed: %v", productID, err)
	}
	return p.Stock
}
