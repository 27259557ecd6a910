package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwalitptl/hms-api/internal/model"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
	"github.com/jwalitptl/hms-api/pkg/money"
)

// ComputeItemAmount returns qty * rate * (1 - discount%) * (1 + tax%), rounded.
func ComputeItemAmount(qty int, rate, taxRate, discount decimal.Decimal) decimal.Decimal {
	net := itemNet(qty, rate, discount)
	return money.Round(net.Add(money.Percent(net, taxRate)))
}

func itemNet(qty int, rate, discount decimal.Decimal) decimal.Decimal {
	gross := rate.Mul(decimal.NewFromInt(int64(qty)))
	return gross.Sub(money.Percent(gross, discount))
}

// itemTax is the tax folded into item.Amount, taken on the discounted line.
func itemTax(item model.LineItem) decimal.Decimal {
	return money.Round(money.Percent(itemNet(item.Quantity, item.Rate, item.Discount), item.TaxRate))
}

// BuildItems validates caller input and computes every amount server side.
func BuildItems(inputs []model.LineItemInput) ([]model.LineItem, error) {
	items := make([]model.LineItem, 0, len(inputs))
	for i, in := range inputs {
		item, err := buildItem(in)
		if err != nil {
			return nil, apperrors.Validationf("item %d: %s", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func buildItem(in model.LineItemInput) (model.LineItem, error) {
	desc := strings.TrimSpace(in.Description)
	switch {
	case desc == "":
		return model.LineItem{}, fmt.Errorf("description is required")
	case in.Quantity <= 0:
		return model.LineItem{}, fmt.Errorf("quantity must be greater than zero")
	case in.Rate.IsNegative():
		return model.LineItem{}, fmt.Errorf("rate cannot be negative")
	case !money.Exact(in.Rate):
		return model.LineItem{}, fmt.Errorf("rate has more than %d decimal places", money.Places)
	case !money.ValidPercent(in.TaxRate):
		return model.LineItem{}, fmt.Errorf("tax rate must be between 0 and 100")
	case !money.ValidPercent(in.Discount):
		return model.LineItem{}, fmt.Errorf("discount must be between 0 and 100")
	}

	return model.LineItem{
		Description: desc,
		Quantity:    in.Quantity,
		Rate:        in.Rate,
		TaxRate:     in.TaxRate,
		Discount:    in.Discount,
		Category:    strings.TrimSpace(in.Category),
		Amount:      ComputeItemAmount(in.Quantity, in.Rate, in.TaxRate, in.Discount),
	}, nil
}

// Recalculate derives subtotal, tax and total from the items and discount.
func Recalculate(inv *model.Invoice) {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, item := range inv.Items {
		subtotal = subtotal.Add(item.Amount)
		tax = tax.Add(itemTax(item))
	}
	inv.Subtotal = subtotal
	inv.Tax = tax
	inv.TotalAmount = subtotal.Sub(inv.Discount)
}

// checkTotals rejects a discount or paid amount the current totals cannot carry.
func checkTotals(inv *model.Invoice) error {
	if inv.Discount.IsNegative() {
		return apperrors.Validation("discount cannot be negative", nil)
	}
	if inv.Discount.GreaterThan(inv.Subtotal) {
		return apperrors.Validationf("discount %s exceeds subtotal %s",
			inv.Discount.StringFixed(money.Places), inv.Subtotal.StringFixed(money.Places))
	}
	if inv.PaidAmount.GreaterThan(inv.TotalAmount) {
		return apperrors.Validationf("total %s would be below the amount already paid %s",
			inv.TotalAmount.StringFixed(money.Places), inv.PaidAmount.StringFixed(money.Places))
	}
	return nil
}

// Balanced reports whether the stored totals agree with the items.
func Balanced(inv *model.Invoice) bool {
	subtotal := money.Sum(amounts(inv.Items)...)
	return inv.Subtotal.Equal(subtotal) && inv.TotalAmount.Equal(inv.Subtotal.Sub(inv.Discount))
}

func amounts(items []model.LineItem) []decimal.Decimal {
	out := make([]decimal.Decimal, len(items))
	for i, item := range items {
		out[i] = item.Amount
	}
	return out
}

// DeriveStatus returns the status implied by the paid amount once a payment
// has been applied, or the current status when nothing changes it.
func DeriveStatus(inv *model.Invoice, now time.Time) model.InvoiceStatus {
	switch {
	case inv.Status == model.InvoiceStatusCancelled:
		return inv.Status
	case inv.PaidAmount.IsPositive() && inv.PaidAmount.GreaterThanOrEqual(inv.TotalAmount):
		return model.InvoiceStatusPaid
	case inv.PaidAmount.IsPositive():
		return model.InvoiceStatusPartial
	case pastDue(inv, now) && inv.Status != model.InvoiceStatusDraft:
		return model.InvoiceStatusOverdue
	}
	return inv.Status
}

// EffectiveStatus applies lazy overdue evaluation: generated and partial
// invoices with an outstanding balance past their due date read as overdue.
func EffectiveStatus(inv *model.Invoice, now time.Time) model.InvoiceStatus {
	switch inv.Status {
	case model.InvoiceStatusGenerated, model.InvoiceStatusPartial:
		if inv.Outstanding().IsPositive() && pastDue(inv, now) {
			return model.InvoiceStatusOverdue
		}
	}
	return inv.Status
}

func pastDue(inv *model.Invoice, now time.Time) bool {
	return inv.DueDate != nil && inv.DueDate.Before(now)
}

// ComputeSummary aggregates the given invoices.
func ComputeSummary(invoices []*model.Invoice) model.BillingSummary {
	summary := model.BillingSummary{
		TotalBilled:      decimal.Zero,
		TotalPaid:        decimal.Zero,
		TotalOutstanding: decimal.Zero,
	}
	for _, inv := range invoices {
		summary.TotalBilled = summary.TotalBilled.Add(inv.TotalAmount)
		summary.TotalPaid = summary.TotalPaid.Add(inv.PaidAmount)
		summary.TotalOutstanding = summary.TotalOutstanding.Add(inv.Outstanding())
		summary.Count++
	}
	return summary
}
