package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hms-api/internal/model"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
	"github.com/jwalitptl/hms-api/pkg/money"
)

func TestComputeItemAmount(t *testing.T) {
	tests := []struct {
		name     string
		qty      int
		rate     float64
		tax      float64
		discount float64
		want     string
	}{
		{"tax only", 2, 100, 10, 0, "220.00"},
		{"plain", 3, 2500, 0, 0, "7500.00"},
		{"discount then tax", 1, 1000, 18, 10, "1062.00"},
		{"rounds half up", 1, 0.125, 0, 0, "0.13"},
		{"full discount", 4, 99.99, 12, 100, "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeItemAmount(tt.qty, money.FromFloat(tt.rate), money.FromFloat(tt.tax), money.FromFloat(tt.discount))
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestBuildItems_IgnoresClientAmountAndValidates(t *testing.T) {
	items, err := BuildItems([]model.LineItemInput{
		{Description: "Consultation", Quantity: 2, Rate: money.FromFloat(100), TaxRate: money.FromFloat(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, "220.00", items[0].Amount.StringFixed(2))

	for _, in := range []model.LineItemInput{
		{Description: "", Quantity: 1},
		{Description: "x", Quantity: 0},
		{Description: "x", Quantity: 1, Rate: money.FromFloat(-1)},
		{Description: "x", Quantity: 1, TaxRate: money.FromFloat(101)},
		{Description: "x", Quantity: 1, Discount: money.FromFloat(-5)},
	} {
		_, err := BuildItems([]model.LineItemInput{in})
		assert.True(t, apperrors.IsValidation(err), "input %+v", in)
	}
}

func TestRecalculate(t *testing.T) {
	items, err := BuildItems([]model.LineItemInput{
		{Description: "Room", Quantity: 3, Rate: money.FromFloat(2500)},
		{Description: "Drugs", Quantity: 1, Rate: money.FromFloat(1000), TaxRate: money.FromFloat(18), Discount: money.FromFloat(10)},
	})
	require.NoError(t, err)

	inv := &model.Invoice{Items: items, Discount: money.FromFloat(62)}
	Recalculate(inv)

	assert.Equal(t, "8562.00", inv.Subtotal.StringFixed(2))
	assert.Equal(t, "162.00", inv.Tax.StringFixed(2), "18% of the 900.00 discounted line, not of 1000.00")
	assert.Equal(t, "8500.00", inv.TotalAmount.StringFixed(2))
	assert.True(t, Balanced(inv))
}

func TestDeriveAndEffectiveStatus(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	inv := &model.Invoice{
		TotalAmount: money.FromFloat(50),
		PaidAmount:  money.FromFloat(30),
		Status:      model.InvoiceStatusGenerated,
		DueDate:     &future,
	}
	assert.Equal(t, model.InvoiceStatusPartial, DeriveStatus(inv, now))

	inv.PaidAmount = money.FromFloat(50)
	assert.Equal(t, model.InvoiceStatusPaid, DeriveStatus(inv, now))

	inv.PaidAmount = money.Zero
	inv.DueDate = &past
	assert.Equal(t, model.InvoiceStatusOverdue, DeriveStatus(inv, now))
	assert.Equal(t, model.InvoiceStatusOverdue, EffectiveStatus(inv, now))

	inv.Status = model.InvoiceStatusDraft
	assert.Equal(t, model.InvoiceStatusDraft, EffectiveStatus(inv, now), "drafts are never overdue")

	inv.Status = model.InvoiceStatusCancelled
	assert.Equal(t, model.InvoiceStatusCancelled, DeriveStatus(inv, now))
}

func TestComputeSummary(t *testing.T) {
	summary := ComputeSummary([]*model.Invoice{
		{TotalAmount: money.FromFloat(100), PaidAmount: money.FromFloat(40)},
		{TotalAmount: money.FromFloat(250.5), PaidAmount: money.FromFloat(250.5)},
	})
	assert.Equal(t, "350.50", summary.TotalBilled.StringFixed(2))
	assert.Equal(t, "290.50", summary.TotalPaid.StringFixed(2))
	assert.Equal(t, "60.00", summary.TotalOutstanding.StringFixed(2))
	assert.Equal(t, 2, summary.Count)

	empty := ComputeSummary(nil)
	assert.True(t, empty.TotalBilled.IsZero())
	assert.Equal(t, 0, empty.Count)
}
