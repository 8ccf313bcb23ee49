// Package stock owns the per-product on-hand and reserved counters.
//
// Every write is a compare-and-set on the stock version, so two units of work
// that read the same version cannot both commit. The loser gets a Contention
// error and the caller retries the whole unit.
package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

// RecordFunc writes the ledger entry paired with an on-hand change. It runs
// before the counters are written, so it observes the pre-mutation value.
type RecordFunc func(before, after domain.Stock) error

type Tracker struct{}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Snapshot(ctx context.Context, tx port.InventoryTx, productID string) (domain.Stock, error) {
	p, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return domain.Stock{}, fmt.Errorf("load product %s: %w", productID, err)
	}
	if p == nil {
		return domain.Stock{}, domain.ProductNotFound(productID)
	}
	return p.Stock, nil
}

// OnHand lets the ledger compare a movement's claimed stockBefore with current state.
func (t *Tracker) OnHand(ctx context.Context, tx port.InventoryTx, productID string) (int, error) {
	s, err := t.Snapshot(ctx, tx, productID)
	if err != nil {
		return 0, err
	}
	return s.OnHand, nil
}

// Reserve promises qty units. No ledger entry: nothing physically moves.
func (t *Tracker) Reserve(ctx context.Context, tx port.InventoryTx, productID string, qty int) (domain.Stock, error) {
	return t.apply(ctx, tx, productID, func(s domain.Stock) (domain.Stock, error) {
		return s.Reserve(productID, qty)
	}, nil)
}

// Release gives back up to qty reserved units.
func (t *Tracker) Release(ctx context.Context, tx port.InventoryTx, productID string, qty int) (domain.Stock, error) {
	return t.apply(ctx, tx, productID, func(s domain.Stock) (domain.Stock, error) {
		return s.Release(qty)
	}, nil)
}

// CommitOutbound removes qty units and consumes the matching reservation.
func (t *Tracker) CommitOutbound(ctx context.Context, tx port.InventoryTx, productID string, qty int, record RecordFunc) (domain.Stock, error) {
	if record == nil {
		return domain.Stock{}, domain.InvalidArgument("outbound commit of %s without a ledger recorder", productID)
	}
	return t.apply(ctx, tx, productID, func(s domain.Stock) (domain.Stock, error) {
		return s.Outbound(productID, qty)
	}, record)
}

// CommitUnreserved removes qty units that were never reserved: counter sales
// and write-offs. Units promised to orders stay covered.
func (t *Tracker) CommitUnreserved(ctx context.Context, tx port.InventoryTx, productID string, qty int, record RecordFunc) (domain.Stock, error) {
	if record == nil {
		return domain.Stock{}, domain.InvalidArgument("outbound commit of %s without a ledger recorder", productID)
	}
	return t.apply(ctx, tx, productID, func(s domain.Stock) (domain.Stock, error) {
		return s.Remove(productID, qty)
	}, record)
}

func (t *Tracker) CommitInbound(ctx context.Context, tx port.InventoryTx, productID string, qty int, record RecordFunc) (domain.Stock, error) {
	if record == nil {
		return domain.Stock{}, domain.InvalidArgument("inbound commit of %s without a ledger recorder", productID)
	}
	return t.apply(ctx, tx, productID, func(s domain.Stock) (domain.Stock, error) {
		return s.Inbound(qty)
	}, record)
}

func (t *Tracker) apply(
	ctx context.Context,
	tx port.InventoryTx,
	productID string,
	mutate func(domain.Stock) (domain.Stock, error),
	record RecordFunc,
) (domain.Stock, error) {
	before, err := t.Snapshot(ctx, tx, productID)
	if err != nil {
		return domain.Stock{}, err
	}
	after, err := mutate(before)
	if err != nil {
		return before, err
	}
	if !after.Valid() {
		return before, domain.LedgerInconsistency(productID, "counters would become onHand=%d reserved=%d", after.OnHand, after.Reserved)
	}
	if record != nil {
		if err := record(before, after); err != nil {
			return before, err
		}
	}

	if err := tx.CompareAndSwapStock(ctx, productID, before.Version, after); err != nil {
		if errors.Is(err, port.ErrOptimisticLock) {
			return before, domain.Contention(err)
		}
		return before, fmt.Errorf("write stock %s: %w", productID, err)
	}
	after.Version = before.Version + 1
	return after, nil
}
