// Package ledger records stock movements. Entries are append-only: nothing in
// this package or behind its ports can edit or delete one.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

// StockReader exposes the current on-hand value inside a unit of work.
type StockReader interface {
	OnHand(ctx context.Context, tx port.InventoryTx, productID string) (int, error)
}

type Ledger struct {
	repo  port.InventoryRepository
	stock StockReader
	now   func() time.Time
}

func New(repo port.InventoryRepository, stock StockReader) *Ledger {
	return &Ledger{repo: repo, stock: stock, now: time.Now}
}

// WithClock overrides the time source used to stamp movements.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Record validates m and appends it inside tx. A stockBefore that differs from
// the tracker's current on-hand is a lost update upstream: it aborts the unit
// of work and is never corrected here.
func (l *Ledger) Record(ctx context.Context, tx port.InventoryTx, m domain.Movement) (domain.Movement, error) {
	if err := m.Validate(); err != nil {
		return m, err
	}
	onHand, err := l.stock.OnHand(ctx, tx, m.ProductID)
	if err != nil {
		return m, err
	}
	if onHand != m.StockBefore {
		return m, domain.LedgerInconsistency(m.ProductID, "movement claims stock before %d, tracker holds %d", m.StockBefore, onHand)
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = l.now().UTC()
	}
	if err := tx.AppendMovement(ctx, m); err != nil {
		return m, fmt.Errorf("append movement: %w", err)
	}
	return m, nil
}

// History returns movements of productID matching filter, newest first.
func (l *Ledger) History(ctx context.Context, productID string, filter domain.MovementFilter) ([]domain.Movement, error) {
	if productID == "" {
		return nil, domain.InvalidArgument("product id is required")
	}
	filter.ProductID = productID
	movements, err := l.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	sort.SliceStable(movements, func(i, j int) bool {
		return movements[i].CreatedAt.After(movements[j].CreatedAt)
	})
	return movements, nil
}

// ValueAt reconstructs the on-hand of every product that has movements up to
// and including at.
func (l *Ledger) ValueAt(ctx context.Context, at time.Time) (map[string]int, error) {
	movements, err := l.repo.ListMovements(ctx, domain.MovementFilter{To: at})
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	values := make(map[string]int)
	for _, m := range movements {
		values[m.ProductID] += m.Delta()
	}
	return values, nil
}

// Replay chains the movements of productID in creation order, starting from
// zero, and returns the resulting on-hand. A broken link is reported, not repaired.
func (l *Ledger) Replay(ctx context.Context, productID string) (int, error) {
	movements, err := l.repo.ListMovements(ctx, domain.MovementFilter{ProductID: productID})
	if err != nil {
		return 0, fmt.Errorf("list movements: %w", err)
	}
	sort.SliceStable(movements, func(i, j int) bool {
		return movements[i].CreatedAt.Before(movements[j].CreatedAt)
	})

	onHand := 0
	for i, m := range movements {
		if err := m.Validate(); err != nil {
			return onHand, err
		}
		if i == 0 && m.StockBefore != 0 {
			return onHand, domain.LedgerInconsistency(productID,
				"first movement %s starts at %d, not 0", m.ID, m.StockBefore)
		}
		if m.StockBefore != onHand {
			return onHand, domain.LedgerInconsistency(productID,
				"movement %s starts at %d, previous movement ended at %d", m.ID, m.StockBefore, onHand)
		}
		onHand = m.StockAfter
	}
	return onHand, nil
}
