package domain

import (
	"errors"
	"testing"
)

func TestStock_Reserve(t *testing.T) {
	s := Stock{OnHand: 10}

	next, err := s.Reserve("p1", 4)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if next.Reserved != 4 || next.Available() != 6 {
		t.Errorf("expected reserved=4 available=6, got reserved=%d available=%d", next.Reserved, next.Available())
	}

	_, err = next.Reserve("p1", 7)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}
	var derr *Error
	if !errors.As(err, &derr) || derr.Requested != 7 || derr.Available != 6 || derr.ProductID != "p1" {
		t.Errorf("unexpected error detail: %+v", derr)
	}
}

func TestStock_ReleaseNeverNegative(t *testing.T) {
	s := Stock{OnHand: 5, Reserved: 2}

	next, err := s.Release(10)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if next.Reserved != 0 {
		t.Errorf("expected reserved 0, got %d", next.Reserved)
	}
}

func TestStock_Outbound(t *testing.T) {
	s := Stock{OnHand: 10, Reserved: 4}

	next, err := s.Outbound("p1", 4)
	if err != nil {
		t.Fatalf("outbound failed: %v", err)
	}
	if next.OnHand != 6 || next.Reserved != 0 {
		t.Errorf("expected onHand=6 reserved=0, got %+v", next)
	}
}

func TestStock_OutboundConsumesOnlyItsReservation(t *testing.T) {
	// 8 units promised, 5 of them leave: the other 3 stay reserved and covered.
	s := Stock{OnHand: 10, Reserved: 8}

	got, err := s.Outbound("p1", 5)
	if err != nil {
		t.Fatalf("outbound failed: %v", err)
	}
	if got.OnHand != 5 || got.Reserved != 3 {
		t.Errorf("expected onHand=5 reserved=3, got %+v", got)
	}
	if got.Reserved > got.OnHand {
		t.Errorf("reserved exceeds on hand: %+v", got)
	}
}

func TestStock_OutboundMoreThanOnHand(t *testing.T) {
	s := Stock{OnHand: 3}
	if _, err := s.Outbound("p1", 4); !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got: %v", err)
	}
}

func TestStock_RemoveKeepsReservations(t *testing.T) {
	s := Stock{OnHand: 10, Reserved: 8}

	if _, err := s.Remove("p1", 3); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}
	next, err := s.Remove("p1", 2)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if next.OnHand != 8 || next.Reserved != 8 {
		t.Errorf("expected onHand=8 reserved=8, got %+v", next)
	}
}

func TestStock_RejectsNonPositiveQuantity(t *testing.T) {
	s := Stock{OnHand: 10}
	checks := map[string]func() error{
		"reserve":  func() error { _, err := s.Reserve("p1", 0); return err },
		"release":  func() error { _, err := s.Release(0); return err },
		"outbound": func() error { _, err := s.Outbound("p1", -1); return err },
		"inbound":  func() error { _, err := s.Inbound(0); return err },
		"remove":   func() error { _, err := s.Remove("p1", 0); return err },
	}
	for name, fn := range checks {
		if err := fn(); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: expected ErrInvalidArgument, got: %v", name, err)
		}
	}
}

func TestStock_IsLow(t *testing.T) {
	s := Stock{OnHand: 10, Reserved: 6, ThresholdAlert: 5}
	if !s.IsLow() {
		t.Error("expected stock to be low")
	}
	s.Reserved = 5
	if s.IsLow() {
		t.Error("expected stock not to be low at threshold")
	}
}

func TestErrorKind_Classes(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		class     ErrorClass
		retryable bool
	}{
		{KindContention, ClassRetryLater, true},
		{KindInvalidTransition, ClassInvalidRequest, false},
		{KindPrescriptionRequired, ClassInvalidRequest, false},
		{KindInsufficientStock, ClassBusinessRule, false},
		{KindLedgerInconsistency, ClassInternal, false},
	}
	for _, tt := range tests {
		if got := tt.kind.Class(); got != tt.class {
			t.Errorf("%s: expected class %s, got %s", tt.kind, tt.class, got)
		}
		if got := tt.kind.Retryable(); got != tt.retryable {
			t.Errorf("%s: expected retryable=%v, got %v", tt.kind, tt.retryable, got)
		}
	}
}
