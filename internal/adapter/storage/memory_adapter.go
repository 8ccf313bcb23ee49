package storage

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

const (
	tableProducts  = "products"
	tableOrders    = "orders"
	tableMovements = "movements"
)

// movementRow adds an insertion sequence so equal timestamps keep commit order.
type movementRow struct {
	ID        string
	ProductID string
	Seq       uint64
	Movement  domain.Movement
}

var memSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableProducts: {
			Name: tableProducts,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
			},
		},
		tableOrders: {
			Name: tableOrders,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
			},
		},
		tableMovements: {
			Name: tableMovements,
			Indexes: map[string]*memdb.IndexSchema{
				"id":      {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
				"product": {Name: "product", Indexer: &memdb.StringFieldIndex{Field: "ProductID"}},
			},
		},
	},
}

// MemoryAdapter keeps products, orders and movements in go-memdb. A unit of
// work reads one immutable snapshot, stages its writes and validates every
// version it wrote against in a short write transaction at commit.
type MemoryAdapter struct {
	db  *memdb.MemDB
	seq atomic.Uint64
}

func NewMemoryAdapter() (*MemoryAdapter, error) {
	db, err := memdb.NewMemDB(memSchema)
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &MemoryAdapter{db: db}, nil
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.InventoryTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{
		read:       m.db.Txn(false),
		stock:      make(map[string]stagedStock),
		orders:     make(map[string]stagedOrder),
		newOrderID: make(map[string]bool),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *MemoryAdapter) commit(tx *memoryTx) error {
	w := m.db.Txn(true)
	defer w.Abort()

	for id, st := range tx.stock {
		raw, err := w.First(tableProducts, "id", id)
		if err != nil {
			return fmt.Errorf("read product %s: %w", id, err)
		}
		if raw == nil {
			return domain.ProductNotFound(id)
		}
		current := raw.(*domain.Product)
		if current.Stock.Version != st.baseVersion {
			return port.ErrOptimisticLock
		}
		next := *current
		next.Stock = st.stock
		next.UpdatedAt = st.at
		if err := w.Insert(tableProducts, &next); err != nil {
			return fmt.Errorf("write product %s: %w", id, err)
		}
	}

	for id, so := range tx.orders {
		raw, err := w.First(tableOrders, "id", id)
		if err != nil {
			return fmt.Errorf("read order %s: %w", id, err)
		}
		switch {
		case tx.newOrderID[id] && raw != nil:
			return fmt.Errorf("insert order %s: already exists", id)
		case !tx.newOrderID[id] && (raw == nil || raw.(*domain.Order).Version != so.baseVersion):
			return port.ErrOptimisticLock
		}
		if err := w.Insert(tableOrders, so.order.Clone()); err != nil {
			return fmt.Errorf("write order %s: %w", id, err)
		}
	}

	for _, mv := range tx.movements {
		row := &movementRow{ID: mv.ID, ProductID: mv.ProductID, Seq: m.seq.Add(1), Movement: mv}
		if err := w.Insert(tableMovements, row); err != nil {
			return fmt.Errorf("append movement %s: %w", mv.ID, err)
		}
	}

	w.Commit()
	return nil
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(m.db.Txn(false), productID)
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return getOrder(m.db.Txn(false), orderID)
}

func (m *MemoryAdapter) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.Movement, error) {
	txn := m.db.Txn(false)

	var (
		it  memdb.ResultIterator
		err error
	)
	if filter.ProductID != "" {
		it, err = txn.Get(tableMovements, "product", filter.ProductID)
	} else {
		it, err = txn.Get(tableMovements, "id")
	}
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}

	var rows []*movementRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*movementRow)
		if filter.Match(row.Movement) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].Movement.CreatedAt, rows[j].Movement.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return rows[i].Seq > rows[j].Seq
	})
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}

	out := make([]domain.Movement, len(rows))
	for i, row := range rows {
		out[i] = row.Movement
	}
	return out, nil
}

// UpsertProduct writes catalog fields. A new product starts with empty
// counters; an existing product keeps its stock untouched.
func (m *MemoryAdapter) UpsertProduct(ctx context.Context, p domain.Product) error {
	w := m.db.Txn(true)
	defer w.Abort()

	raw, err := w.First(tableProducts, "id", p.ID)
	if err != nil {
		return fmt.Errorf("read product %s: %w", p.ID, err)
	}
	next := p
	if raw != nil {
		next.Stock = raw.(*domain.Product).Stock
	} else {
		next.Stock = domain.Stock{ThresholdAlert: p.Stock.ThresholdAlert}
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	if err := w.Insert(tableProducts, &next); err != nil {
		return fmt.Errorf("write product %s: %w", p.ID, err)
	}
	w.Commit()
	return nil
}

type stagedStock struct {
	baseVersion int64
	stock       domain.Stock
	at          time.Time
}

type stagedOrder struct {
	baseVersion int64
	order       *domain.Order
}

type memoryTx struct {
	read       *memdb.Txn
	stock      map[string]stagedStock
	orders     map[string]stagedOrder
	newOrderID map[string]bool
	movements  []domain.Movement
}

func (t *memoryTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p, err := getProduct(t.read, productID)
	if err != nil || p == nil {
		return p, err
	}
	if st, ok := t.stock[productID]; ok {
		p.Stock = st.stock
	}
	return p, nil
}

func (t *memoryTx) CompareAndSwapStock(ctx context.Context, productID string, expectedVersion int64, next domain.Stock) error {
	current, err := t.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if current == nil {
		return domain.ProductNotFound(productID)
	}
	if current.Stock.Version != expectedVersion {
		return port.ErrOptimisticLock
	}

	base := expectedVersion
	if st, ok := t.stock[productID]; ok {
		base = st.baseVersion
	}
	next.Version = expectedVersion + 1
	t.stock[productID] = stagedStock{baseVersion: base, stock: next, at: time.Now().UTC()}
	return nil
}

func (t *memoryTx) AppendMovement(ctx context.Context, m domain.Movement) error {
	t.movements = append(t.movements, m)
	return nil
}

func (t *memoryTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	existing, err := t.GetOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("insert order %s: already exists", order.ID)
	}
	t.newOrderID[order.ID] = true
	t.orders[order.ID] = stagedOrder{order: order.Clone()}
	return nil
}

func (t *memoryTx) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if so, ok := t.orders[orderID]; ok {
		return so.order.Clone(), nil
	}
	return getOrder(t.read, orderID)
}

func (t *memoryTx) UpdateOrder(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	current, err := t.GetOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return domain.OrderNotFound(order.ID)
	}
	if current.Version != expectedVersion {
		return port.ErrOptimisticLock
	}

	base := expectedVersion
	if so, ok := t.orders[order.ID]; ok {
		base = so.baseVersion
	}
	next := order.Clone()
	next.Version = expectedVersion + 1
	t.orders[order.ID] = stagedOrder{baseVersion: base, order: next}
	return nil
}

func getProduct(txn *memdb.Txn, productID string) (*domain.Product, error) {
	raw, err := txn.First(tableProducts, "id", productID)
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	p := *raw.(*domain.Product)
	return &p, nil
}

func getOrder(txn *memdb.Txn, orderID string) (*domain.Order, error) {
	raw, err := txn.First(tableOrders, "id", orderID)
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*domain.Order).Clone(), nil
}
