// Package pricing derives order line and order totals from catalog prices.
//
// Every monetary intermediate is rounded to cents, half away from zero, which
// for the non-negative amounts handled here is round-half-up.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
)

// ErrTotalsDrift is returned by Verify when stored totals no longer match their items.
var ErrTotalsDrift = errors.New("order totals drift from items")

var hundred = decimal.NewFromInt(100)

// Line holds the derived figures of one order item.
type Line struct {
	PriceHT decimal.Decimal
	LineHT  decimal.Decimal
	LineTTC decimal.Decimal
	Tax     decimal.Decimal
}

type Totals struct {
	Lines          []Line
	SubtotalHT     decimal.Decimal
	SubtotalTTC    decimal.Decimal
	TaxTotal       decimal.Decimal
	CouponDiscount decimal.Decimal
	DiscountTotal  decimal.Decimal
	Shipping       decimal.Decimal
	TotalHT        decimal.Decimal
	TotalTTC       decimal.Decimal
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// PriceHT converts a tax-inclusive unit price to its tax-exclusive value.
func PriceHT(priceTTC, taxRate decimal.Decimal) decimal.Decimal {
	divisor := decimal.NewFromInt(1).Add(taxRate.Div(hundred))
	return round2(priceTTC.Div(divisor))
}

// CalculateLine prices a single item. The discount applies to the whole line.
func CalculateLine(item domain.OrderItem) (Line, error) {
	if item.Quantity < 1 {
		return Line{}, domain.InvalidArgument("product %s: quantity must be at least 1", item.ProductID)
	}
	if item.PriceTTC.IsNegative() || item.TaxRate.IsNegative() {
		return Line{}, domain.InvalidArgument("product %s: negative price or tax rate", item.ProductID)
	}
	if !item.Discount.Equal(round2(item.Discount)) {
		return Line{}, domain.InvalidArgument("product %s: discount %s has sub-cent precision",
			item.ProductID, item.Discount.String())
	}
	qty := decimal.NewFromInt(int64(item.Quantity))
	gross := round2(item.PriceTTC.Mul(qty))
	if item.Discount.IsNegative() || item.Discount.GreaterThan(gross) {
		return Line{}, domain.InvalidArgument("product %s: discount %s outside [0, %s]",
			item.ProductID, item.Discount.StringFixed(2), gross.StringFixed(2))
	}

	priceHT := PriceHT(item.PriceTTC, item.TaxRate)
	return Line{
		PriceHT: priceHT,
		LineHT:  round2(priceHT.Mul(qty)),
		LineTTC: gross.Sub(item.Discount),
		Tax:     round2(item.PriceTTC.Sub(priceHT).Mul(qty)),
	}, nil
}

// CouponAmount is the order-level discount a coupon grants on subtotalTTC.
func CouponAmount(coupon *domain.Coupon, subtotalTTC decimal.Decimal) decimal.Decimal {
	if coupon == nil || !coupon.Value.IsPositive() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch coupon.Kind {
	case domain.CouponPercent:
		amount = round2(subtotalTTC.Mul(coupon.Value).Div(hundred))
	case domain.CouponFixed:
		amount = round2(coupon.Value)
	default:
		return decimal.Zero
	}
	return decimal.Min(amount, subtotalTTC)
}

// Calculate sizes an order. It has no side effects.
func Calculate(items []domain.OrderItem, coupon *domain.Coupon, shipping decimal.Decimal) (Totals, error) {
	if shipping.IsNegative() {
		return Totals{}, domain.InvalidArgument("shipping cost cannot be negative")
	}
	t := Totals{
		Lines:       make([]Line, 0, len(items)),
		SubtotalHT:  decimal.Zero,
		SubtotalTTC: decimal.Zero,
		TaxTotal:    decimal.Zero,
		Shipping:    round2(shipping),
	}
	discounts := decimal.Zero
	for _, item := range items {
		line, err := CalculateLine(item)
		if err != nil {
			return Totals{}, err
		}
		t.Lines = append(t.Lines, line)
		t.SubtotalHT = t.SubtotalHT.Add(line.LineHT)
		t.SubtotalTTC = t.SubtotalTTC.Add(line.LineTTC)
		t.TaxTotal = t.TaxTotal.Add(line.Tax)
		discounts = discounts.Add(item.Discount)
	}
	if t.TaxTotal.IsNegative() {
		t.TaxTotal = decimal.Zero
	}

	t.CouponDiscount = CouponAmount(coupon, t.SubtotalTTC)
	t.DiscountTotal = discounts.Add(t.CouponDiscount)
	t.TotalHT = t.SubtotalHT.Add(t.Shipping)
	t.TotalTTC = t.SubtotalTTC.Sub(t.CouponDiscount).Add(t.Shipping)
	return t, nil
}

// Price fills line and order totals of o from its items. Pickup orders ship free.
func Price(o *domain.Order) error {
	if o.DeliveryMethod == domain.DeliveryPickup {
		o.ShippingCost = decimal.Zero
	}
	t, err := Calculate(o.Items, o.Coupon, o.ShippingCost)
	if err != nil {
		return err
	}
	for i := range o.Items {
		o.Items[i].PriceHT = t.Lines[i].PriceHT
		o.Items[i].LineHT = t.Lines[i].LineHT
		o.Items[i].LineTTC = t.Lines[i].LineTTC
	}
	o.ShippingCost = t.Shipping
	o.SubtotalHT = t.SubtotalHT
	o.SubtotalTTC = t.SubtotalTTC
	o.TaxTotal = t.TaxTotal
	o.DiscountTotal = t.DiscountTotal
	o.TotalHT = t.TotalHT
	o.TotalTTC = t.TotalTTC
	return nil
}

// Verify recomputes o's totals from its stored items and compares them with
// what is stored.
func Verify(o *domain.Order) error {
	t, err := Calculate(o.Items, o.Coupon, o.ShippingCost)
	if err != nil {
		return err
	}
	for i, item := range o.Items {
		l := t.Lines[i]
		if !item.PriceHT.Equal(l.PriceHT) || !item.LineHT.Equal(l.LineHT) || !item.LineTTC.Equal(l.LineTTC) {
			return fmt.Errorf("%w: order %s item %s", ErrTotalsDrift, o.ID, item.ProductID)
		}
	}
	checks := []struct {
		name           string
		stored, actual decimal.Decimal
	}{
		{"subtotal_ht", o.SubtotalHT, t.SubtotalHT},
		{"subtotal_ttc", o.SubtotalTTC, t.SubtotalTTC},
		{"tax_total", o.TaxTotal, t.TaxTotal},
		{"discount_total", o.DiscountTotal, t.DiscountTotal},
		{"total_ht", o.TotalHT, t.TotalHT},
		{"total_ttc", o.TotalTTC, t.TotalTTC},
	}
	for _, c := range checks {
		if !c.stored.Equal(c.actual) {
			return fmt.Errorf("%w: order %s %s stored=%s computed=%s",
				ErrTotalsDrift, o.ID, c.name, c.stored.StringFixed(2), c.actual.StringFixed(2))
		}
	}
	return nil
}
