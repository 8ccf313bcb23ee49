package port

import (
	"context"
	"errors"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
)

// ErrOptimisticLock is returned when a versioned write lost against a concurrent writer.
var ErrOptimisticLock = errors.New("optimistic lock failed")

// InventoryTx is one unit of work. Nothing it writes is visible to other
// units until WithinTx commits; reads observe the unit's own writes.
type InventoryTx interface {
	// GetProduct returns nil, nil when the product does not exist
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// CompareAndSwapStock stores next with version expectedVersion+1 if the stored
	// version is still expectedVersion, otherwise returns ErrOptimisticLock
	CompareAndSwapStock(ctx context.Context, productID string, expectedVersion int64, next domain.Stock) error

	// AppendMovement adds a ledger entry. There is no way to update or delete one.
	AppendMovement(ctx context.Context, m domain.Movement) error

	// InsertOrder persists a new order with its items and history
	InsertOrder(ctx context.Context, order *domain.Order) error

	// GetOrder returns nil, nil when the order does not exist
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// UpdateOrder replaces status, history and inventory state if the stored
	// version is still expectedVersion, otherwise returns ErrOptimisticLock
	UpdateOrder(ctx context.Context, order *domain.Order, expectedVersion int64) error
}

type InventoryRepository interface {
	// WithinTx runs fn in one transaction. Any error from fn rolls back every write.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx InventoryTx) error) error

	// GetProduct reads committed state, nil, nil when not found
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// ListMovements returns matching movements, newest first
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.Movement, error)
}

// CatalogWriter is the catalog boundary. It never changes the stock counters
// of a product that already exists.
type CatalogWriter interface {
	UpsertProduct(ctx context.Context, p domain.Product) error
}
