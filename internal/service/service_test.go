package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/gym-billing/internal/billing"
	"github.com/mmeshcher/gym-billing/internal/freeze"
	"github.com/mmeshcher/gym-billing/internal/lifecycle"
	"github.com/mmeshcher/gym-billing/internal/metrics"
	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/repository"
	"github.com/mmeshcher/gym-billing/internal/wallet"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *memStore
	pub   *recordingPublisher
	reg   *prometheus.Registry
	now   time.Time

	member model.Member
	plan   model.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: newMemStore(),
		pub:   &recordingPublisher{},
		reg:   prometheus.NewRegistry(),
		now:   testNow,
	}
	f.svc = NewService(f.store, f.pub, metrics.MustNew(f.reg), zap.NewNop(), Options{
		DefaultCurrency:      "SAR",
		InvoiceDueDays:       7,
		PointsPerUnit:        decimal.NewFromInt(1),
		ReferralRewardPoints: 100,
		Now:                  func() time.Time { return f.now },
	})

	ctx := context.Background()
	var err error
	f.member, err = f.svc.CreateMember(ctx, model.LocaleAR)
	require.NoError(t, err)
	f.plan, err = f.svc.CreatePlan(ctx, model.Plan{
		Name:                  "Monthly",
		Price:                 decimal.NewFromInt(500),
		DurationDays:          30,
		FreezeDaysAllowed:     10,
		FreezeExtendsContract: true,
		Active:                true,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) advance(days int) {
	f.now = f.now.AddDate(0, 0, days)
}

func (f *fixture) enroll(t *testing.T) Enrollment {
	t.Helper()
	e, err := f.svc.Enroll(context.Background(), model.EnrollmentRequest{
		MemberID:  f.member.ID,
		PlanID:    f.plan.ID,
		StartDate: f.now,
	})
	require.NoError(t, err)
	return e
}

// activeSubscription оформляет абонемент, оплачивая его с кошелька.
func (f *fixture) activeSubscription(t *testing.T) model.Subscription {
	t.Helper()
	_, err := f.svc.CreditWallet(context.Background(), f.member.ID, f.plan.Price, "cash")
	require.NoError(t, err)
	e := f.enroll(t)
	require.Equal(t, model.SubscriptionActive, e.Subscription.Status)
	return e.Subscription
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestEnrollAutoPaysFromWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreditWallet(ctx, f.member.ID, decimal.NewFromInt(500), "cash")
	require.NoError(t, err)

	e := f.enroll(t)
	assert.Equal(t, model.SubscriptionActive, e.Subscription.Status)
	assert.Equal(t, model.InvoicePaid, e.Invoice.Status)
	assert.Equal(t, "INV-2026-000001", e.Invoice.Number)

	w, err := f.svc.GetWallet(ctx, f.member.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero(), "balance %s", w.Balance)

	txs, err := f.svc.ListWalletTransactions(ctx, f.member.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.WalletSubscriptionCharge, txs[1].Kind)
	assert.Equal(t, []int64{1, 2}, sortedSequences(txs))

	loyalty, err := f.svc.GetPoints(ctx, f.member.ID, model.ProgramLoyalty)
	require.NoError(t, err)
	assert.Equal(t, int64(500), loyalty.Account.Balance)

	activated := f.pub.notifications(model.TemplateSubscriptionActivated)
	require.Len(t, activated, 1)
	assert.Equal(t, model.LocaleAR, activated[0].Locale)
	assert.Equal(t, 1, f.pub.count("invoice.issued"))
	assert.Equal(t, 1.0, counterValue(t, f.reg, "gym_billing_subscription_transitions_total",
		map[string]string{"from": "PENDING", "to": "ACTIVE"}))
	assert.Equal(t, 1.0, counterValue(t, f.reg, "gym_billing_autopay_attempts_total",
		map[string]string{"result": "paid"}))
}

func TestEnrollInsufficientBalanceWaitsForCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreditWallet(ctx, f.member.ID, decimal.NewFromInt(200), "cash")
	require.NoError(t, err)

	e := f.enroll(t)
	assert.Equal(t, model.SubscriptionPending, e.Subscription.Status)
	assert.Equal(t, model.InvoiceIssued, e.Invoice.Status)

	w, err := f.svc.GetWallet(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, "200", w.Balance.String())
	assert.Equal(t, int64(1), w.LastSequence)

	w, err = f.svc.CreditWallet(ctx, f.member.ID, decimal.NewFromInt(300), "cash")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero(), "balance %s", w.Balance)
	assert.Equal(t, int64(3), w.LastSequence)

	v, err := f.svc.GetSubscription(ctx, e.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, v.Subscription.Status)

	inv, err := f.svc.GetInvoice(ctx, e.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoicePaid, inv.Status)
	assert.Contains(t, inv.PaymentReference, "wallet:")
}

func TestCreditNotifiesWhenAutoPayStillShort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enroll(t)
	_, err := f.svc.CreditWallet(ctx, f.member.ID, decimal.NewFromInt(100), "cash")
	require.NoError(t, err)

	failed := f.pub.notifications(model.TemplateAutoPayFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "100.00", failed[0].Params["balance"])
}

func TestCreditPaysOldestPendingFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.enroll(t)
	second := f.enroll(t)
	_, err := f.svc.CreditWallet(ctx, f.member.ID, decimal.NewFromInt(700), "cash")
	require.NoError(t, err)

	v, err := f.svc.GetSubscription(ctx, first.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, v.Subscription.Status)

	v, err = f.svc.GetSubscription(ctx, second.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPending, v.Subscription.Status)

	w, err := f.svc.GetWallet(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, "200", w.Balance.String())
}

func TestEnrollJoinFeeOnlyOnFirstSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, err := f.svc.CreatePlan(ctx, model.Plan{
		Name:         "Annual",
		Price:        decimal.NewFromInt(300),
		JoinFee:      decimal.NewFromInt(100),
		VATRate:      decimal.RequireFromString("0.15"),
		DurationDays: 365,
		Active:       true,
	})
	require.NoError(t, err)

	req := model.EnrollmentRequest{MemberID: f.member.ID, PlanID: plan.ID, StartDate: f.now}
	first, err := f.svc.Enroll(ctx, req)
	require.NoError(t, err)
	assert.Len(t, first.Invoice.LineItems, 2)
	assert.Equal(t, "460", first.Invoice.Total.String())

	second, err := f.svc.Enroll(ctx, req)
	require.NoError(t, err)
	assert.Len(t, second.Invoice.LineItems, 1)
	assert.Equal(t, "345", second.Invoice.Total.String())
	assert.Equal(t, "INV-2026-000002", second.Invoice.Number)
}

func TestEnrollRejectsInactivePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, err := f.svc.CreatePlan(ctx, model.Plan{Name: "Legacy", Price: decimal.NewFromInt(10), DurationDays: 30})
	require.NoError(t, err)

	_, err = f.svc.Enroll(ctx, model.EnrollmentRequest{MemberID: f.member.ID, PlanID: plan.ID})
	require.ErrorIs(t, err, ErrPlanInactive)

	subs, err := f.svc.ListSubscriptions(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestEnrollUnknownMember(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Enroll(context.Background(), model.EnrollmentRequest{MemberID: uuid.New(), PlanID: f.plan.ID})
	require.ErrorIs(t, err, repository.ErrMemberNotFound)
}

func TestEnrollFreePlanActivatesWithoutInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, err := f.svc.CreatePlan(ctx, model.Plan{Name: "Trial", DurationDays: 7, Active: true})
	require.NoError(t, err)

	e, err := f.svc.Enroll(ctx, model.EnrollmentRequest{MemberID: f.member.ID, PlanID: plan.ID})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, e.Subscription.Status)
	assert.Equal(t, uuid.Nil, e.Invoice.ID)

	invoices, err := f.svc.ListInvoices(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestFreezeAndEarlyUnfreeze(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.activeSubscription(t)
	end := sub.EndDate

	v, err := f.svc.Freeze(ctx, model.FreezeRequest{SubscriptionID: sub.ID, Days: 7, Reason: "travel"})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionFrozen, v.Subscription.Status)
	assert.Equal(t, end.AddDate(0, 0, 7), v.Subscription.EndDate)
	assert.Equal(t, 7, v.FreezeBalance.UsedFreezeDays)
	assert.Equal(t, 3, v.FreezeBalance.Remaining())

	f.advance(3)
	v, err = f.svc.Unfreeze(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, v.Subscription.Status)
	assert.Equal(t, end.AddDate(0, 0, 3), v.Subscription.EndDate)
	assert.Equal(t, 3, v.FreezeBalance.UsedFreezeDays)
}

func TestFreezeInsufficientDaysLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.activeSubscription(t)

	_, err := f.svc.Freeze(ctx, model.FreezeRequest{SubscriptionID: sub.ID, Days: 15})
	require.ErrorIs(t, err, freeze.ErrInsufficientFreezeDays)

	v, err := f.svc.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, v.Subscription.Status)
	assert.Equal(t, sub.EndDate, v.Subscription.EndDate)
	assert.Equal(t, 0, v.FreezeBalance.UsedFreezeDays)
}

func TestConcurrentFreezeOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.activeSubscription(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Freeze(ctx, model.FreezeRequest{SubscriptionID: sub.ID, Days: 7})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, lifecycle.ErrInvalidTransition) || errors.Is(err, freeze.ErrInsufficientFreezeDays), "unexpected error %v", err)
	}
	assert.Equal(t, 1, ok)

	v, err := f.svc.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, v.FreezeBalance.UsedFreezeDays)
}

func TestConcurrentWalletCreditsKeepLedgerConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreditWallet(ctx, f.member.ID, decimal.NewFromInt(10), "topup-"+string(rune('a'+i)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w, err := f.svc.GetWallet(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, "200", w.Balance.String())

	txs, err := f.svc.ListWalletTransactions(ctx, f.member.ID)
	require.NoError(t, err)
	require.Len(t, txs, n)
	for i, seq := range sortedSequences(txs) {
		assert.Equal(t, int64(i+1), seq)
	}
	replayed, err := wallet.Replay(txs)
	require.NoError(t, err)
	assert.True(t, replayed.Equal(w.Balance))
}

func TestConflictIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.activeSubscription(t)

	f.store.failNext("UpdateSubscription", 1)
	v, err := f.svc.Freeze(ctx, model.FreezeRequest{SubscriptionID: sub.ID, Days: 2})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionFrozen, v.Subscription.Status)
	assert.Equal(t, 1.0, counterValue(t, f.reg, "gym_billing_conflict_retries_total",
		map[string]string{"operation": "freeze"}))

	f.store.failNext("UpdateSubscription", 2)
	_, err = f.svc.Unfreeze(ctx, sub.ID)
	require.ErrorIs(t, err, repository.ErrConcurrentModification)

	got, err := f.svc.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionFrozen, got.Subscription.Status)
	assert.Equal(t, 2, got.FreezeBalance.UsedFreezeDays)
}

func TestPaymentWebhookActivatesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)
	require.Equal(t, model.SubscriptionPending, e.Subscription.Status)

	wh := model.PaymentWebhook{InvoiceID: e.Invoice.ID, Amount: decimal.NewFromInt(500), Reference: "gw-1"}
	inv, err := f.svc.HandlePaymentWebhook(ctx, wh)
	require.NoError(t, err)
	assert.Equal(t, model.InvoicePaid, inv.Status)
	assert.Equal(t, "gw-1", inv.PaymentReference)

	again, err := f.svc.HandlePaymentWebhook(ctx, wh)
	require.NoError(t, err)
	assert.Equal(t, inv.Version, again.Version)

	v, err := f.svc.GetSubscription(ctx, e.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, v.Subscription.Status)

	loyalty, err := f.svc.GetPoints(ctx, f.member.ID, model.ProgramLoyalty)
	require.NoError(t, err)
	assert.Equal(t, int64(500), loyalty.Account.Balance)
	assert.Len(t, f.pub.notifications(model.TemplateInvoicePaid), 1)
	assert.Equal(t, 1.0, counterValue(t, f.reg, "gym_billing_payment_webhooks_total",
		map[string]string{"result": "duplicate"}))
}

func TestPaymentWebhookUnderpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	_, err := f.svc.HandlePaymentWebhook(ctx, model.PaymentWebhook{
		InvoiceID: e.Invoice.ID, Amount: decimal.NewFromInt(499), Reference: "gw-2",
	})
	require.ErrorIs(t, err, billing.ErrUnderpaid)

	v, err := f.svc.GetSubscription(ctx, e.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPending, v.Subscription.Status)
}

func TestPaymentWebhookUnknownInvoice(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.HandlePaymentWebhook(context.Background(), model.PaymentWebhook{
		InvoiceID: uuid.New(), Amount: decimal.NewFromInt(1), Reference: "gw-3",
	})
	require.ErrorIs(t, err, repository.ErrInvoiceNotFound)
}

func TestCancelPendingCancelsOpenInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	v, err := f.svc.Cancel(ctx, e.Subscription.ID, "changed mind", true)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCancelled, v.Subscription.Status)
	assert.Equal(t, "changed mind", v.Subscription.CancelReason)

	inv, err := f.svc.GetInvoice(ctx, e.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceCancelled, inv.Status)

	_, err = f.svc.Freeze(ctx, model.FreezeRequest{SubscriptionID: e.Subscription.ID, Days: 1})
	var te *lifecycle.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.SubscriptionCancelled, te.From)
}

func TestRenewAndUseClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	classes := 2
	plan, err := f.svc.CreatePlan(ctx, model.Plan{Name: "Pack", DurationDays: 30, MaxClasses: &classes, Active: true})
	require.NoError(t, err)
	e, err := f.svc.Enroll(ctx, model.EnrollmentRequest{MemberID: f.member.ID, PlanID: plan.ID})
	require.NoError(t, err)

	sub, err := f.svc.UseClass(ctx, e.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, *sub.ClassesRemaining)
	_, err = f.svc.UseClass(ctx, e.Subscription.ID)
	require.NoError(t, err)
	_, err = f.svc.UseClass(ctx, e.Subscription.ID)
	require.ErrorIs(t, err, lifecycle.ErrNoClassesRemaining)

	newEnd := sub.EndDate.AddDate(0, 1, 0)
	v, err := f.svc.Renew(ctx, sub.ID, newEnd)
	require.NoError(t, err)
	assert.Equal(t, newEnd, v.Subscription.EndDate)

	_, err = f.svc.Renew(ctx, sub.ID, newEnd)
	require.ErrorIs(t, err, lifecycle.ErrInvalidEndDate)
}

func TestAdjustWalletMayGoNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.svc.AdjustWallet(ctx, model.WalletAdjustment{
		MemberID: f.member.ID, Delta: decimal.NewFromInt(-50), Reason: "damaged locker",
	})
	require.NoError(t, err)
	assert.Equal(t, "-50", w.Balance.String())

	adjusted := f.pub.notifications(model.TemplateWalletAdjusted)
	require.Len(t, adjusted, 1)
	assert.Equal(t, "damaged locker", adjusted[0].Params["reason"])

	_, err = f.svc.AdjustWallet(ctx, model.WalletAdjustment{MemberID: f.member.ID})
	require.ErrorIs(t, err, wallet.ErrInvalidAmount)
}

func TestRefundToWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.svc.RefundToWallet(ctx, f.member.ID, decimal.RequireFromString("12.50"), "INV-2026-000009", "class cancelled")
	require.NoError(t, err)
	assert.Equal(t, "12.5", w.Balance.String())

	txs, err := f.svc.ListWalletTransactions(ctx, f.member.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.WalletRefund, txs[0].Kind)
}

func TestGetWalletDefaultsToEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.svc.GetWallet(ctx, f.member.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	assert.Equal(t, "SAR", w.Currency)

	_, err = f.svc.GetWallet(ctx, uuid.New())
	require.ErrorIs(t, err, repository.ErrMemberNotFound)
}

func TestPurchaseFreezePackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.activeSubscription(t)

	pkg, err := f.svc.CreateFreezePackage(ctx, model.FreezePackage{
		Name: "Five days", Days: 5, Price: decimal.NewFromInt(50), Active: true,
	})
	require.NoError(t, err)

	_, err = f.svc.PurchaseFreezePackage(ctx, sub.ID, pkg.ID)
	require.ErrorIs(t, err, wallet.ErrInsufficientBalance)

	_, err = f.svc.CreditWallet(ctx, f.member.ID, decimal.NewFromInt(80), "cash")
	require.NoError(t, err)
	b, err := f.svc.PurchaseFreezePackage(ctx, sub.ID, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, b.TotalFreezeDays)

	w, err := f.svc.GetWallet(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, "30", w.Balance.String())
}

func TestGrantFreezeDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.activeSubscription(t)

	b, err := f.svc.GrantFreezeDays(ctx, sub.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 14, b.TotalFreezeDays)

	_, err = f.svc.GrantFreezeDays(ctx, sub.ID, 0)
	require.ErrorIs(t, err, freeze.ErrInvalidDays)
}

func TestReferralRewardedOnceOnFirstActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	referrer, err := f.svc.CreateMember(ctx, model.LocaleEN)
	require.NoError(t, err)
	_, err = f.svc.RecordReferral(ctx, referrer.ID, f.member.ID)
	require.NoError(t, err)

	_, err = f.svc.RecordReferral(ctx, referrer.ID, f.member.ID)
	require.ErrorIs(t, err, repository.ErrReferralExists)
	_, err = f.svc.RecordReferral(ctx, referrer.ID, referrer.ID)
	require.ErrorIs(t, err, ErrSelfReferral)

	f.activeSubscription(t)
	f.activeSubscription(t)

	got, err := f.svc.GetPoints(ctx, referrer.ID, model.ProgramReferral)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Account.Balance)
	assert.Len(t, got.Transactions, 1)
}

func TestLoyaltyPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.EarnPoints(ctx, f.member.ID, model.ProgramLoyalty, 40, "promo")
	require.NoError(t, err)
	a, err := f.svc.RedeemPoints(ctx, f.member.ID, model.ProgramLoyalty, 15, "towel")
	require.NoError(t, err)
	assert.Equal(t, int64(25), a.Balance)

	_, err = f.svc.RedeemPoints(ctx, f.member.ID, model.ProgramLoyalty, 100, "shake")
	require.Error(t, err)

	a, err = f.svc.AdjustPoints(ctx, f.member.ID, model.ProgramLoyalty, -5, "correction")
	require.NoError(t, err)
	assert.Equal(t, int64(20), a.Balance)
}

func TestJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expiring := f.activeSubscription(t)
	frozen := f.activeSubscription(t)
	_, err := f.svc.Freeze(ctx, model.FreezeRequest{SubscriptionID: frozen.ID, Days: 5})
	require.NoError(t, err)
	pending := f.enroll(t)

	f.advance(6)
	n, err := f.svc.UnfreezeElapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := f.svc.GetSubscription(ctx, frozen.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, v.Subscription.Status)
	assert.Equal(t, 5, v.FreezeBalance.UsedFreezeDays)
	assert.Equal(t, frozen.EndDate.AddDate(0, 0, 5), v.Subscription.EndDate)

	f.advance(2)
	n, err = f.svc.MarkOverdueInvoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	inv, err := f.svc.GetInvoice(ctx, pending.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceOverdue, inv.Status)

	_, err = f.svc.HandlePaymentWebhook(ctx, model.PaymentWebhook{
		InvoiceID: inv.ID, Amount: inv.Total, Reference: "late",
	})
	require.NoError(t, err)

	f.advance(25)
	n, err = f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []uuid.UUID{expiring.ID, pending.Subscription.ID} {
		v, err = f.svc.GetSubscription(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionExpired, v.Subscription.Status)
	}
	v, err = f.svc.GetSubscription(ctx, frozen.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, v.Subscription.Status)
	assert.Len(t, f.pub.notifications(model.TemplateSubscriptionExpired), 2)

	n, err = f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManualActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t)

	v, err := f.svc.Activate(ctx, e.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, v.Subscription.Status)
	assert.Equal(t, 10, v.FreezeBalance.TotalFreezeDays)

	_, err = f.svc.Activate(ctx, e.Subscription.ID)
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	_, err := f.svc.CreditWallet(context.Background(), f.member.ID, decimal.NewFromInt(5), "cash")
	require.NoError(t, err)
}

func TestWalletStatement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreditWallet(ctx, f.member.ID, decimal.NewFromInt(5), "cash")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.WalletStatement(ctx, f.member.ID, &buf))
	assert.NotZero(t, buf.Len())
}

func TestFreezeExtendsOnlyByExtendingPackageDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var err error
	f.plan, err = f.svc.CreatePlan(ctx, model.Plan{
		Name:              "Monthly fixed term",
		Price:             decimal.NewFromInt(500),
		DurationDays:      30,
		FreezeDaysAllowed: 10,
		Active:            true,
	})
	require.NoError(t, err)
	sub := f.activeSubscription(t)

	pkg, err := f.svc.CreateFreezePackage(ctx, model.FreezePackage{
		Name: "Two days", Days: 2, Price: decimal.NewFromInt(50), ExtendsContract: true, Active: true,
	})
	require.NoError(t, err)
	_, err = f.svc.CreditWallet(ctx, f.member.ID, decimal.NewFromInt(50), "cash")
	require.NoError(t, err)
	b, err := f.svc.PurchaseFreezePackage(ctx, sub.ID, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, b.Remaining())
	assert.Equal(t, 2, b.ExtendingRemaining())

	v, err := f.svc.Freeze(ctx, model.FreezeRequest{SubscriptionID: sub.ID, Days: 7})
	require.NoError(t, err)
	assert.Equal(t, sub.EndDate.AddDate(0, 0, 2), v.Subscription.EndDate)
	assert.Equal(t, 5, v.FreezeBalance.Remaining())
	assert.Equal(t, 0, v.FreezeBalance.ExtendingRemaining())
}

func TestEnrollFreePlanRewardsReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	referrer, err := f.svc.CreateMember(ctx, model.LocaleEN)
	require.NoError(t, err)
	_, err = f.svc.RecordReferral(ctx, referrer.ID, f.member.ID)
	require.NoError(t, err)

	plan, err := f.svc.CreatePlan(ctx, model.Plan{Name: "Trial", DurationDays: 7, Active: true})
	require.NoError(t, err)
	e, err := f.svc.Enroll(ctx, model.EnrollmentRequest{MemberID: f.member.ID, PlanID: plan.ID})
	require.NoError(t, err)
	require.Equal(t, model.SubscriptionActive, e.Subscription.Status)

	got, err := f.svc.GetPoints(ctx, referrer.ID, model.ProgramReferral)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Account.Balance)
}

func TestEnrollRejectsElapsedPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, model.EnrollmentRequest{
		MemberID:  f.member.ID,
		PlanID:    f.plan.ID,
		StartDate: f.now.AddDate(0, 0, -40),
	})
	require.ErrorIs(t, err, ErrPeriodElapsed)

	_, err = f.svc.Enroll(ctx, model.EnrollmentRequest{
		MemberID:  f.member.ID,
		PlanID:    f.plan.ID,
		StartDate: f.now.AddDate(0, 0, -30),
	})
	require.ErrorIs(t, err, ErrPeriodElapsed)

	subs, err := f.svc.ListSubscriptions(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	e, err := f.svc.Enroll(ctx, model.EnrollmentRequest{
		MemberID:  f.member.ID,
		PlanID:    f.plan.ID,
		StartDate: f.now.AddDate(0, 0, -20),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPending, e.Subscription.Status)
	assert.Equal(t, "166.67", e.Invoice.Total.StringFixed(2))
}

func TestEnrollActivatesWhenNothingToCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, err := f.svc.CreatePlan(ctx, model.Plan{Name: "Token", Price: decimal.RequireFromString("0.01"), DurationDays: 30, Active: true})
	require.NoError(t, err)

	e, err := f.svc.Enroll(ctx, model.EnrollmentRequest{
		MemberID:  f.member.ID,
		PlanID:    plan.ID,
		StartDate: f.now.AddDate(0, 0, -29),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, e.Subscription.Status)
	assert.Equal(t, uuid.Nil, e.Invoice.ID)

	e = f.enroll(t)
	assert.Equal(t, "INV-2026-000001", e.Invoice.Number)
}

func TestCreditWalletRejectsOutOfRangeAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreditWallet(ctx, f.member.ID, decimal.New(1, 17), "cash")
	require.ErrorIs(t, err, model.ErrAmountOutOfRange)

	w, err := f.svc.GetWallet(ctx, f.member.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero(), "balance %s", w.Balance)
}
