package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/wallet"
)

var now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testPlan() model.Plan {
	return model.Plan{
		ID:           uuid.New(),
		Name:         "Gold",
		Price:        dec("300"),
		Currency:     "SAR",
		DurationDays: 30,
		JoinFee:      dec("100"),
		VATRate:      dec("0.15"),
		Active:       true,
	}
}

func testSubscription(plan model.Plan, start time.Time) model.Subscription {
	return model.Subscription{
		ID:        uuid.New(),
		MemberID:  uuid.New(),
		PlanID:    plan.ID,
		Status:    model.SubscriptionPending,
		StartDate: model.Day(start),
		EndDate:   model.Day(start).AddDate(0, 0, plan.DurationDays),
	}
}

func TestProrate(t *testing.T) {
	tests := []struct {
		name      string
		price     string
		remaining int
		period    int
		want      string
	}{
		{"full period", "300", 30, 30, "300"},
		{"longer than period", "300", 31, 30, "300"},
		{"two thirds", "300", 20, 30, "200"},
		{"rounds half up", "100", 1, 8, "12.5"},
		{"rounds half up to cents", "10.01", 1, 2, "5.01"},
		{"nothing left", "300", 0, 30, "0"},
		{"one third of 100", "100", 10, 30, "33.33"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Prorate(dec(tt.price), tt.remaining, tt.period)
			assert.True(t, dec(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestIssueFromSubscription(t *testing.T) {
	plan := testPlan()

	t.Run("first subscription full period", func(t *testing.T) {
		sub := testSubscription(plan, now)
		inv, effects, err := IssueFromSubscription(sub, plan, IssueOptions{
			Number:            "INV-2026-000001",
			FirstSubscription: true,
			DueDays:           7,
		}, now)
		require.NoError(t, err)

		assert.Equal(t, model.InvoiceIssued, inv.Status)
		assert.Equal(t, "INV-2026-000001", inv.Number)
		require.Len(t, inv.LineItems, 2)
		assert.True(t, dec("400").Equal(inv.Subtotal))
		assert.True(t, dec("60").Equal(inv.TaxTotal))
		assert.True(t, dec("460").Equal(inv.Total))
		require.NotNil(t, inv.DueDate)
		assert.Equal(t, model.Day(now).AddDate(0, 0, 7), *inv.DueDate)
		require.NotNil(t, inv.SubscriptionID)
		assert.Equal(t, sub.ID, *inv.SubscriptionID)

		require.Len(t, effects, 2)
		issued, ok := effects[0].(model.InvoiceIssuedEvent)
		require.True(t, ok)
		assert.Equal(t, inv.ID, issued.InvoiceID)
	})

	t.Run("repeat subscription prorated", func(t *testing.T) {
		sub := testSubscription(plan, now.AddDate(0, 0, -10))
		inv, _, err := IssueFromSubscription(sub, plan, IssueOptions{Number: "INV-2026-000002", DueDays: 7}, now)
		require.NoError(t, err)

		require.Len(t, inv.LineItems, 1)
		assert.True(t, dec("200").Equal(inv.LineItems[0].NetAmount))
		assert.Contains(t, inv.LineItems[0].Description, "prorated 20/30")
		assert.True(t, dec("230").Equal(inv.Total))
	})

	t.Run("default vat rate", func(t *testing.T) {
		p := plan
		p.VATRate = decimal.Zero
		sub := testSubscription(p, now)
		inv, _, err := IssueFromSubscription(sub, p, IssueOptions{DefaultVATRate: dec("0.05")}, now)
		require.NoError(t, err)
		assert.True(t, dec("15").Equal(inv.TaxTotal))
	})

	t.Run("free plan", func(t *testing.T) {
		p := plan
		p.Price = decimal.Zero
		_, _, err := IssueFromSubscription(testSubscription(p, now), p, IssueOptions{}, now)
		require.ErrorIs(t, err, ErrNoLineItems)
	})

	t.Run("draft prorated to nothing", func(t *testing.T) {
		p := plan
		p.Price = dec("0.01")
		draft, err := DraftFromSubscription(testSubscription(p, now.AddDate(0, 0, -29)), p, IssueOptions{}, now)
		require.NoError(t, err)
		assert.Equal(t, model.InvoiceDraft, draft.Status)
		assert.Empty(t, draft.Number)
		assert.True(t, draft.Total.IsZero(), "total %s", draft.Total)
	})
}

func issuedInvoice(t *testing.T, total string) model.Invoice {
	t.Helper()
	sub := uuid.New()
	inv, err := NewDraft(uuid.New(), &sub, "SAR", []model.LineItem{NewLine("Membership Fee - Gold", 1, dec(total), decimal.Zero)}, now)
	require.NoError(t, err)
	inv, _, err = Issue(inv, "INV-2026-000010", 7, now)
	require.NoError(t, err)
	return inv
}

func TestMarkPaid(t *testing.T) {
	inv := issuedInvoice(t, "250")

	paid, effects, err := MarkPaid(inv, model.Payment{Amount: dec("250"), Reference: "gw-1"}, now)
	require.NoError(t, err)
	assert.Equal(t, model.InvoicePaid, paid.Status)
	assert.Equal(t, "gw-1", paid.PaymentReference)
	assert.Len(t, effects, 1)

	again, effects, err := MarkPaid(paid, model.Payment{Amount: dec("250"), Reference: "gw-1"}, now.Add(time.Hour))
	require.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Equal(t, paid, again)
	assert.Empty(t, effects)

	_, _, err = MarkPaid(inv, model.Payment{Amount: dec("249.99")}, now)
	require.ErrorIs(t, err, ErrUnderpaid)

	cancelled, err := Cancel(inv, now)
	require.NoError(t, err)
	_, _, err = MarkPaid(cancelled, model.Payment{Amount: dec("250")}, now)
	require.ErrorIs(t, err, ErrNotPayable)
}

func TestCancel(t *testing.T) {
	inv := issuedInvoice(t, "100")
	paid, _, err := MarkPaid(inv, model.Payment{Amount: dec("100")}, now)
	require.NoError(t, err)

	_, err = Cancel(paid, now)
	require.ErrorIs(t, err, ErrNotCancellable)
}

func TestMarkOverdue(t *testing.T) {
	inv := issuedInvoice(t, "100")

	_, _, err := MarkOverdue(inv, now.AddDate(0, 0, 7))
	require.ErrorIs(t, err, ErrNotOverdue)

	overdue, effects, err := MarkOverdue(inv, now.AddDate(0, 0, 8))
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceOverdue, overdue.Status)
	assert.Len(t, effects, 1)

	paid, _, err := MarkPaid(overdue, model.Payment{Amount: dec("100")}, now.AddDate(0, 0, 9))
	require.NoError(t, err)
	assert.Equal(t, model.InvoicePaid, paid.Status)
}

func autoPayFixture(t *testing.T, balance, total string) (model.Wallet, model.Subscription, model.Invoice) {
	t.Helper()
	plan := testPlan()
	sub := testSubscription(plan, now)
	inv, err := NewDraft(sub.MemberID, &sub.ID, "SAR", []model.LineItem{NewLine("Membership Fee - Gold", 1, dec(total), decimal.Zero)}, now)
	require.NoError(t, err)
	inv, _, err = Issue(inv, "INV-2026-000042", 7, now)
	require.NoError(t, err)
	w := model.Wallet{MemberID: sub.MemberID, Balance: dec(balance), Currency: "SAR", LastSequence: 1}
	return w, sub, inv
}

func TestAttemptAutoPay(t *testing.T) {
	w, sub, inv := autoPayFixture(t, "500", "500")

	out, err := AttemptAutoPay(w, sub, inv, now)
	require.NoError(t, err)

	assert.Equal(t, model.SubscriptionActive, out.Subscription.Status)
	assert.Equal(t, model.InvoicePaid, out.Invoice.Status)
	assert.True(t, out.Wallet.Balance.IsZero())
	assert.Equal(t, model.WalletSubscriptionCharge, out.Transaction.Kind)
	assert.True(t, dec("-500").Equal(out.Transaction.Amount))
	assert.Equal(t, int64(2), out.Transaction.Sequence)
	assert.Equal(t, model.PaymentWallet, out.Payment.Method)
	require.NotNil(t, out.Transaction.InvoiceID)
	assert.Equal(t, inv.ID, *out.Transaction.InvoiceID)
	assert.NotEmpty(t, out.Effects)
}

func TestAttemptAutoPayInsufficientBalance(t *testing.T) {
	w, sub, inv := autoPayFixture(t, "200", "500")

	out, err := AttemptAutoPay(w, sub, inv, now)
	require.ErrorIs(t, err, wallet.ErrInsufficientBalance)
	assert.Equal(t, AutoPayOutcome{}, out)

	assert.Equal(t, model.SubscriptionPending, sub.Status)
	assert.Equal(t, model.InvoiceIssued, inv.Status)
	assert.True(t, dec("200").Equal(w.Balance))
}

func TestAttemptAutoPayEligibility(t *testing.T) {
	w, sub, inv := autoPayFixture(t, "500", "100")

	frozen := sub
	frozen.Status = model.SubscriptionFrozen
	_, err := AttemptAutoPay(w, frozen, inv, now)
	require.ErrorIs(t, err, ErrNotEligible)

	other := inv
	otherID := uuid.New()
	other.SubscriptionID = &otherID
	_, err = AttemptAutoPay(w, sub, other, now)
	require.ErrorIs(t, err, ErrNoOutstandingInvoice)

	cancelled, err := Cancel(inv, now)
	require.NoError(t, err)
	_, err = AttemptAutoPay(w, sub, cancelled, now)
	require.ErrorIs(t, err, ErrNoOutstandingInvoice)
}
