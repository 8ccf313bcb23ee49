package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/pharmacy-fulfillment/internal/adapter/storage"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/service"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

func main() {
	var (
		productID     = pflag.String("product", "stress-item", "product id to order")
		initialStock  = pflag.Int("stock", 20, "units on hand before the run")
		totalRequests = pflag.Int("requests", 50, "concurrent CreateOrder calls, 1 unit each")
		maxAttempts   = pflag.Int("max-attempts", 200, "attempts per unit of work on contention")
		redisAddr     = pflag.String("redis", "", "use Redis at this address for the stock cache")
		verbose       = pflag.BoolP("verbose", "v", false, "log every service call")
	)
	pflag.Parse()

	if err := run(*productID, *initialStock, *totalRequests, *maxAttempts, *redisAddr, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(productID string, initialStock, totalRequests, maxAttempts int, redisAddr string, verbose bool) error {
	ctx := context.Background()

	logger := zap.NewNop()
	if verbose {
		logger, _ = zap.NewDevelopment()
	}

	store, err := storage.NewMemoryAdapter()
	if err != nil {
		return err
	}

	var cache port.StockCache = storage.NewMemoryCache()
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer rdb.Close()
		// Clear previous test data
		rdb.Del(ctx, "stock:available:"+productID)
		cache = storage.NewRedisAdapter(rdb)
	}

	policy := service.DefaultRetryPolicy()
	policy.MaxAttempts = maxAttempts
	svc := service.NewFulfillmentService(store,
		service.WithStockCache(cache),
		service.WithLogger(logger),
		service.WithRetryPolicy(policy),
	)

	err = store.UpsertProduct(ctx, domain.Product{
		ID:       productID,
		Name:     productID,
		Active:   true,
		PriceTTC: decimal.RequireFromString("9.90"),
		TaxRate:  decimal.RequireFromString("20"),
	})
	if err != nil {
		return err
	}
	if _, err := svc.ReceiveStock(ctx, service.StockChange{
		ProductID: productID, Quantity: initialStock, Reason: domain.ReasonInitialStock, Actor: "stress",
	}); err != nil {
		return err
	}

	// Counters
	var successCount, insufficientCount, otherCount atomic.Int32

	var g errgroup.Group
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		g.Go(func() error {
			_, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
				RequestID:      fmt.Sprintf("stress-%d", i),
				CustomerID:     fmt.Sprintf("user-%d", i),
				Type:           domain.OrderTypeOnline,
				DeliveryMethod: domain.DeliveryPickup,
				Payment:        domain.Payment{Method: domain.PaymentCard},
				Items:          []domain.ItemRequest{{ProductID: productID, Quantity: 1}},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficientCount.Add(1)
			default:
				otherCount.Add(1)
				return err
			}
			return nil
		})
	}

	waitErr := g.Wait()
	elapsed := time.Since(start)

	// Results
	success := int(successCount.Load())
	insufficient := int(insufficientCount.Load())

	p, err := store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	rec, err := svc.ReconcileProduct(ctx, productID)
	if err != nil {
		return err
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Insufficient:     %d\n", insufficient)
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Reserved:         %d\n", p.Stock.Reserved)
	fmt.Printf("Available:        %d\n", p.Stock.Available())
	fmt.Printf("Ledger on hand:   %d\n", rec.LedgerOnHand)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if waitErr != nil {
		return fmt.Errorf("unexpected error: %w", waitErr)
	}
	expected := min(initialStock, totalRequests)
	if success != expected || insufficient != totalRequests-expected {
		return fmt.Errorf("expected %d success/%d insufficient, got %d/%d",
			expected, totalRequests-expected, success, insufficient)
	}
	if p.Stock.Reserved != expected {
		return fmt.Errorf("expected %d reserved, got %d", expected, p.Stock.Reserved)
	}
	if p.Stock.Available() != initialStock-expected {
		return fmt.Errorf("expected %d available, got %d", initialStock-expected, p.Stock.Available())
	}
	if !rec.Consistent {
		return fmt.Errorf("ledger replays to %d, tracker holds %d", rec.LedgerOnHand, rec.OnHand)
	}

	fmt.Printf("PASS: exactly %d orders reserved stock, %d were refused\n", expected, totalRequests-expected)
	return nil
}
