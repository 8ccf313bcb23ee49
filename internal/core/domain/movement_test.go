package domain

import (
	"errors"
	"testing"
	"time"
)

func TestMovement_Validate(t *testing.T) {
	tests := []struct {
		name    string
		m       Movement
		wantErr error
	}{
		{"inbound ok", Movement{ProductID: "p1", Type: MovementIn, Reason: ReasonPurchaseReceipt, Quantity: 5, StockBefore: 2, StockAfter: 7}, nil},
		{"outbound ok", Movement{ProductID: "p1", Type: MovementOut, Reason: ReasonSale, Quantity: 4, StockBefore: 10, StockAfter: 6}, nil},
		{"adjustment down", Movement{ProductID: "p1", Type: MovementAdjustment, Reason: ReasonInventoryCount, Quantity: 2, StockBefore: 10, StockAfter: 8}, nil},
		{"outbound wrong arithmetic", Movement{ProductID: "p1", Type: MovementOut, Reason: ReasonSale, Quantity: 4, StockBefore: 10, StockAfter: 14}, ErrLedgerInconsistency},
		{"negative after", Movement{ProductID: "p1", Type: MovementDamage, Reason: ReasonDamaged, Quantity: 4, StockBefore: 2, StockAfter: -2}, ErrLedgerInconsistency},
		{"unknown type", Movement{ProductID: "p1", Type: "teleport", Reason: ReasonSale}, ErrInvalidArgument},
		{"missing product", Movement{Type: MovementIn, Reason: ReasonSale}, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestMovement_Delta(t *testing.T) {
	if d := (Movement{Type: MovementReturn, Quantity: 3}).Delta(); d != 3 {
		t.Errorf("return delta: expected 3, got %d", d)
	}
	if d := (Movement{Type: MovementExpiry, Quantity: 3}).Delta(); d != -3 {
		t.Errorf("expiry delta: expected -3, got %d", d)
	}
	if d := (Movement{Type: MovementAdjustment, Quantity: 3, StockBefore: 5, StockAfter: 2}).Delta(); d != -3 {
		t.Errorf("adjustment delta: expected -3, got %d", d)
	}
}

func TestMovementFilter_Match(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := Movement{ProductID: "p1", Type: MovementOut, Reference: "CMD-1", CreatedAt: now}

	if !(MovementFilter{}).Match(m) {
		t.Error("empty filter should match")
	}
	if (MovementFilter{Types: []MovementType{MovementIn}}).Match(m) {
		t.Error("type filter should exclude out movement")
	}
	if (MovementFilter{From: now.Add(time.Minute)}).Match(m) {
		t.Error("from filter should exclude earlier movement")
	}
	if !(MovementFilter{Reference: "CMD-1", To: now}).Match(m) {
		t.Error("to filter is inclusive")
	}
}
