package service

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gym-billing/internal/model"
	"github.com/mmeshcher/gym-billing/internal/repository"
)

type pointsKey struct {
	member  uuid.UUID
	program model.PointsProgram
}

// memState снимок данных хранилища. Транзакция работает с копией и
// подменяет состояние только при успешном завершении.
type memState struct {
	members      map[uuid.UUID]model.Member
	plans        map[uuid.UUID]model.Plan
	packages     map[uuid.UUID]model.FreezePackage
	subs         map[uuid.UUID]model.Subscription
	subOrder     []uuid.UUID
	balances     map[uuid.UUID]model.FreezeBalance
	wallets      map[uuid.UUID]model.Wallet
	walletTxs    map[uuid.UUID][]model.WalletTransaction
	invoiceSeq   map[int]int64
	invoices     map[uuid.UUID]model.Invoice
	invoiceOrder []uuid.UUID
	payments     map[string]model.Payment
	accounts     map[pointsKey]model.PointsAccount
	pointsTxs    map[pointsKey][]model.PointsTransaction
	referrals    map[uuid.UUID]model.Referral
}

func newMemState() *memState {
	return &memState{
		members:    map[uuid.UUID]model.Member{},
		plans:      map[uuid.UUID]model.Plan{},
		packages:   map[uuid.UUID]model.FreezePackage{},
		subs:       map[uuid.UUID]model.Subscription{},
		balances:   map[uuid.UUID]model.FreezeBalance{},
		wallets:    map[uuid.UUID]model.Wallet{},
		walletTxs:  map[uuid.UUID][]model.WalletTransaction{},
		invoiceSeq: map[int]int64{},
		invoices:   map[uuid.UUID]model.Invoice{},
		payments:   map[string]model.Payment{},
		accounts:   map[pointsKey]model.PointsAccount{},
		pointsTxs:  map[pointsKey][]model.PointsTransaction{},
		referrals:  map[uuid.UUID]model.Referral{},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		members:      maps.Clone(s.members),
		plans:        maps.Clone(s.plans),
		packages:     maps.Clone(s.packages),
		subs:         maps.Clone(s.subs),
		subOrder:     slices.Clone(s.subOrder),
		balances:     maps.Clone(s.balances),
		wallets:      maps.Clone(s.wallets),
		walletTxs:    make(map[uuid.UUID][]model.WalletTransaction, len(s.walletTxs)),
		invoiceSeq:   maps.Clone(s.invoiceSeq),
		invoices:     maps.Clone(s.invoices),
		invoiceOrder: slices.Clone(s.invoiceOrder),
		payments:     maps.Clone(s.payments),
		accounts:     maps.Clone(s.accounts),
		pointsTxs:    make(map[pointsKey][]model.PointsTransaction, len(s.pointsTxs)),
		referrals:    maps.Clone(s.referrals),
	}
	for k, v := range s.walletTxs {
		c.walletTxs[k] = slices.Clone(v)
	}
	for k, v := range s.pointsTxs {
		c.pointsTxs[k] = slices.Clone(v)
	}
	return c
}

// memStore хранилище в памяти с транзакциями «всё или ничего».
type memStore struct {
	mu    sync.Mutex
	state *memState
	// conflicts число искусственных конфликтов версий по имени метода.
	conflicts map[string]int
	txCount   int
}

var (
	_ Repository    = (*memStore)(nil)
	_ repository.Tx = (*memTx)(nil)
)

func newMemStore() *memStore {
	return &memStore{state: newMemState(), conflicts: map[string]int{}}
}

func (m *memStore) failNext(method string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[method] = n
}

func (m *memStore) Close() error { return nil }

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	work := m.state.clone()
	if err := fn(ctx, &memTx{store: m, st: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) read(fn func(st *memState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

func (m *memStore) CreateMember(_ context.Context, mem model.Member) (model.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.members[mem.ID]; ok {
		return model.Member{}, repository.ErrMemberExists
	}
	m.state.members[mem.ID] = mem
	return mem, nil
}

func (m *memStore) GetMember(_ context.Context, id uuid.UUID) (model.Member, error) {
	var (
		mem model.Member
		ok  bool
	)
	m.read(func(st *memState) { mem, ok = st.members[id] })
	if !ok {
		return model.Member{}, repository.ErrMemberNotFound
	}
	return mem, nil
}

func (m *memStore) CreatePlan(_ context.Context, p model.Plan) error {
	m.read(func(st *memState) { st.plans[p.ID] = p })
	return nil
}

func (m *memStore) GetPlan(_ context.Context, id uuid.UUID) (model.Plan, error) {
	var (
		p  model.Plan
		ok bool
	)
	m.read(func(st *memState) { p, ok = st.plans[id] })
	if !ok {
		return model.Plan{}, repository.ErrPlanNotFound
	}
	return p, nil
}

func (m *memStore) ListPlans(context.Context) ([]model.Plan, error) {
	var out []model.Plan
	m.read(func(st *memState) { out = slices.Collect(maps.Values(st.plans)) })
	return out, nil
}

func (m *memStore) CreateFreezePackage(_ context.Context, p model.FreezePackage) error {
	m.read(func(st *memState) { st.packages[p.ID] = p })
	return nil
}

func (m *memStore) ListFreezePackages(context.Context) ([]model.FreezePackage, error) {
	var out []model.FreezePackage
	m.read(func(st *memState) { out = slices.Collect(maps.Values(st.packages)) })
	return out, nil
}

func (m *memStore) GetSubscription(_ context.Context, id uuid.UUID) (model.Subscription, error) {
	var (
		sub model.Subscription
		ok  bool
	)
	m.read(func(st *memState) { sub, ok = st.subs[id] })
	if !ok {
		return model.Subscription{}, repository.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (m *memStore) ListSubscriptionsByMember(_ context.Context, memberID uuid.UUID) ([]model.Subscription, error) {
	var out []model.Subscription
	m.read(func(st *memState) {
		for i := len(st.subOrder) - 1; i >= 0; i-- {
			if sub := st.subs[st.subOrder[i]]; sub.MemberID == memberID {
				out = append(out, sub)
			}
		}
	})
	return out, nil
}

func (m *memStore) GetFreezeBalance(_ context.Context, subscriptionID uuid.UUID) (model.FreezeBalance, error) {
	var (
		b  model.FreezeBalance
		ok bool
	)
	m.read(func(st *memState) { b, ok = st.balances[subscriptionID] })
	if !ok {
		return model.FreezeBalance{}, repository.ErrFreezeBalanceNotFound
	}
	return b, nil
}

func (m *memStore) GetInvoice(_ context.Context, id uuid.UUID) (model.Invoice, error) {
	var (
		inv model.Invoice
		ok  bool
	)
	m.read(func(st *memState) { inv, ok = st.invoices[id] })
	if !ok {
		return model.Invoice{}, repository.ErrInvoiceNotFound
	}
	return inv, nil
}

func (m *memStore) ListInvoicesByMember(_ context.Context, memberID uuid.UUID) ([]model.Invoice, error) {
	var out []model.Invoice
	m.read(func(st *memState) {
		for i := len(st.invoiceOrder) - 1; i >= 0; i-- {
			if inv := st.invoices[st.invoiceOrder[i]]; inv.MemberID == memberID {
				out = append(out, inv)
			}
		}
	})
	return out, nil
}

func (m *memStore) GetWallet(_ context.Context, memberID uuid.UUID) (model.Wallet, error) {
	var (
		w  model.Wallet
		ok bool
	)
	m.read(func(st *memState) { w, ok = st.wallets[memberID] })
	if !ok {
		return model.Wallet{}, repository.ErrWalletNotFound
	}
	return w, nil
}

func (m *memStore) ListWalletTransactions(_ context.Context, memberID uuid.UUID) ([]model.WalletTransaction, error) {
	var out []model.WalletTransaction
	m.read(func(st *memState) { out = slices.Clone(st.walletTxs[memberID]) })
	return out, nil
}

func (m *memStore) GetPointsAccount(_ context.Context, memberID uuid.UUID, program model.PointsProgram) (model.PointsAccount, error) {
	var (
		a  model.PointsAccount
		ok bool
	)
	m.read(func(st *memState) { a, ok = st.accounts[pointsKey{memberID, program}] })
	if !ok {
		return model.PointsAccount{MemberID: memberID, Program: program}, nil
	}
	return a, nil
}

func (m *memStore) ListPointsTransactions(_ context.Context, memberID uuid.UUID, program model.PointsProgram) ([]model.PointsTransaction, error) {
	var out []model.PointsTransaction
	m.read(func(st *memState) {
		out = slices.Clone(st.pointsTxs[pointsKey{memberID, program}])
	})
	slices.Reverse(out)
	return out, nil
}

func (m *memStore) SubscriptionsDueForExpiry(_ context.Context, today time.Time, limit int) ([]uuid.UUID, error) {
	return m.selectSubs(limit, func(s model.Subscription) bool {
		return s.Status == model.SubscriptionActive && s.EndDate.Before(today)
	}), nil
}

func (m *memStore) FreezesElapsed(_ context.Context, today time.Time, limit int) ([]uuid.UUID, error) {
	return m.selectSubs(limit, func(s model.Subscription) bool {
		return s.Status == model.SubscriptionFrozen && s.FreezeEndDate != nil && !s.FreezeEndDate.After(today)
	}), nil
}

func (m *memStore) selectSubs(limit int, match func(model.Subscription) bool) []uuid.UUID {
	var ids []uuid.UUID
	m.read(func(st *memState) {
		for _, id := range st.subOrder {
			if match(st.subs[id]) && len(ids) < limit {
				ids = append(ids, id)
			}
		}
	})
	return ids
}

func (m *memStore) InvoicesPastDue(_ context.Context, today time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	m.read(func(st *memState) {
		for _, id := range st.invoiceOrder {
			inv := st.invoices[id]
			if inv.Status == model.InvoiceIssued && inv.DueDate != nil && inv.DueDate.Before(today) && len(ids) < limit {
				ids = append(ids, id)
			}
		}
	})
	return ids, nil
}

type memTx struct {
	store *memStore
	st    *memState
}

// conflict срабатывает, если для метода заданы искусственные конфликты.
// Счётчик живёт вне транзакции и не откатывается.
func (t *memTx) conflict(method string) error {
	if n := t.store.conflicts[method]; n > 0 {
		t.store.conflicts[method] = n - 1
		return repository.ErrConcurrentModification
	}
	return nil
}

func (t *memTx) GetMember(_ context.Context, id uuid.UUID) (model.Member, error) {
	m, ok := t.st.members[id]
	if !ok {
		return model.Member{}, repository.ErrMemberNotFound
	}
	return m, nil
}

func (t *memTx) GetPlan(_ context.Context, id uuid.UUID) (model.Plan, error) {
	p, ok := t.st.plans[id]
	if !ok {
		return model.Plan{}, repository.ErrPlanNotFound
	}
	return p, nil
}

func (t *memTx) GetFreezePackage(_ context.Context, id uuid.UUID) (model.FreezePackage, error) {
	p, ok := t.st.packages[id]
	if !ok {
		return model.FreezePackage{}, repository.ErrFreezePackageNotFound
	}
	return p, nil
}

func (t *memTx) CountSubscriptions(_ context.Context, memberID uuid.UUID) (int, error) {
	n := 0
	for _, s := range t.st.subs {
		if s.MemberID == memberID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateSubscription(_ context.Context, sub model.Subscription) (model.Subscription, error) {
	sub.Version = 1
	t.st.subs[sub.ID] = sub
	t.st.subOrder = append(t.st.subOrder, sub.ID)
	return sub, nil
}

func (t *memTx) LockSubscription(_ context.Context, id uuid.UUID) (model.Subscription, error) {
	s, ok := t.st.subs[id]
	if !ok {
		return model.Subscription{}, repository.ErrSubscriptionNotFound
	}
	return s, nil
}

func (t *memTx) UpdateSubscription(_ context.Context, sub model.Subscription) (model.Subscription, error) {
	if err := t.conflict("UpdateSubscription"); err != nil {
		return model.Subscription{}, err
	}
	cur, ok := t.st.subs[sub.ID]
	if !ok || cur.Version != sub.Version {
		return model.Subscription{}, repository.ErrConcurrentModification
	}
	sub.Version++
	t.st.subs[sub.ID] = sub
	return sub, nil
}

func (t *memTx) LockPendingSubscriptions(_ context.Context, memberID uuid.UUID) ([]model.Subscription, error) {
	var out []model.Subscription
	for _, id := range t.st.subOrder {
		if s := t.st.subs[id]; s.MemberID == memberID && s.Status == model.SubscriptionPending {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *memTx) CreateFreezeBalance(_ context.Context, b model.FreezeBalance) (model.FreezeBalance, error) {
	b.Version = 1
	t.st.balances[b.SubscriptionID] = b
	return b, nil
}

func (t *memTx) LockFreezeBalance(_ context.Context, subscriptionID uuid.UUID) (model.FreezeBalance, error) {
	b, ok := t.st.balances[subscriptionID]
	if !ok {
		return model.FreezeBalance{}, repository.ErrFreezeBalanceNotFound
	}
	return b, nil
}

func (t *memTx) UpdateFreezeBalance(_ context.Context, b model.FreezeBalance) (model.FreezeBalance, error) {
	cur, ok := t.st.balances[b.SubscriptionID]
	if !ok || cur.Version != b.Version {
		return model.FreezeBalance{}, repository.ErrConcurrentModification
	}
	b.Version++
	t.st.balances[b.SubscriptionID] = b
	return b, nil
}

func (t *memTx) LockWallet(_ context.Context, memberID uuid.UUID, currency string) (model.Wallet, error) {
	w, ok := t.st.wallets[memberID]
	if !ok {
		w = model.Wallet{MemberID: memberID, Currency: currency, Balance: decimal.Zero, Version: 1}
		t.st.wallets[memberID] = w
	}
	return w, nil
}

func (t *memTx) SaveWallet(_ context.Context, w model.Wallet, txs ...model.WalletTransaction) (model.Wallet, error) {
	if err := t.conflict("SaveWallet"); err != nil {
		return model.Wallet{}, err
	}
	cur, ok := t.st.wallets[w.MemberID]
	if !ok || cur.Version != w.Version {
		return model.Wallet{}, repository.ErrConcurrentModification
	}
	for _, tx := range txs {
		for _, existing := range t.st.walletTxs[w.MemberID] {
			if existing.Sequence == tx.Sequence {
				return model.Wallet{}, repository.ErrConcurrentModification
			}
		}
		t.st.walletTxs[w.MemberID] = append(t.st.walletTxs[w.MemberID], tx)
	}
	w.Version++
	t.st.wallets[w.MemberID] = w
	return w, nil
}

func (t *memTx) NextInvoiceNumber(_ context.Context, year int) (string, error) {
	t.st.invoiceSeq[year]++
	return repository.FormatInvoiceNumber(year, t.st.invoiceSeq[year]), nil
}

func (t *memTx) CreateInvoice(_ context.Context, inv model.Invoice) (model.Invoice, error) {
	inv.Version = 1
	t.st.invoices[inv.ID] = inv
	t.st.invoiceOrder = append(t.st.invoiceOrder, inv.ID)
	return inv, nil
}

func (t *memTx) LockInvoice(_ context.Context, id uuid.UUID) (model.Invoice, error) {
	inv, ok := t.st.invoices[id]
	if !ok {
		return model.Invoice{}, repository.ErrInvoiceNotFound
	}
	return inv, nil
}

func (t *memTx) UpdateInvoice(_ context.Context, inv model.Invoice) (model.Invoice, error) {
	cur, ok := t.st.invoices[inv.ID]
	if !ok || cur.Version != inv.Version {
		return model.Invoice{}, repository.ErrConcurrentModification
	}
	inv.Version++
	t.st.invoices[inv.ID] = inv
	return inv, nil
}

func (t *memTx) LockOpenInvoice(_ context.Context, subscriptionID uuid.UUID) (model.Invoice, error) {
	for _, id := range t.st.invoiceOrder {
		inv := t.st.invoices[id]
		if inv.SubscriptionID != nil && *inv.SubscriptionID == subscriptionID && inv.Status.IsOpen() {
			return inv, nil
		}
	}
	return model.Invoice{}, repository.ErrInvoiceNotFound
}

func (t *memTx) CreatePayment(_ context.Context, p model.Payment) error {
	if _, ok := t.st.payments[p.Reference]; ok {
		return repository.ErrDuplicatePayment
	}
	t.st.payments[p.Reference] = p
	return nil
}

func (t *memTx) LockPointsAccount(_ context.Context, memberID uuid.UUID, program model.PointsProgram) (model.PointsAccount, error) {
	key := pointsKey{memberID, program}
	a, ok := t.st.accounts[key]
	if !ok {
		a = model.PointsAccount{MemberID: memberID, Program: program, Version: 1}
		t.st.accounts[key] = a
	}
	return a, nil
}

func (t *memTx) SavePointsAccount(_ context.Context, a model.PointsAccount, txs ...model.PointsTransaction) (model.PointsAccount, error) {
	key := pointsKey{a.MemberID, a.Program}
	cur, ok := t.st.accounts[key]
	if !ok || cur.Version != a.Version {
		return model.PointsAccount{}, repository.ErrConcurrentModification
	}
	t.st.pointsTxs[key] = append(t.st.pointsTxs[key], txs...)
	a.Version++
	t.st.accounts[key] = a
	return a, nil
}

func (t *memTx) CreateReferral(_ context.Context, r model.Referral) error {
	if _, ok := t.st.referrals[r.RefereeID]; ok {
		return repository.ErrReferralExists
	}
	t.st.referrals[r.RefereeID] = r
	return nil
}

func (t *memTx) LockReferralByReferee(_ context.Context, refereeID uuid.UUID) (model.Referral, error) {
	r, ok := t.st.referrals[refereeID]
	if !ok {
		return model.Referral{}, repository.ErrReferralNotFound
	}
	return r, nil
}

func (t *memTx) UpdateReferral(_ context.Context, r model.Referral) error {
	t.st.referrals[r.RefereeID] = r
	return nil
}

// recordingPublisher запоминает опубликованные эффекты.
type recordingPublisher struct {
	mu      sync.Mutex
	effects []model.Effect
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, effects ...model.Effect) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.effects = append(p.effects, effects...)
	return nil
}

func (p *recordingPublisher) notifications(template string) []model.NotificationRequested {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.NotificationRequested
	for _, e := range p.effects {
		if n, ok := e.(model.NotificationRequested); ok && n.Template == template {
			out = append(out, n)
		}
	}
	return out
}

func (p *recordingPublisher) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.effects {
		if e.RoutingKey() == routingKey {
			n++
		}
	}
	return n
}

func sortedSequences(txs []model.WalletTransaction) []int64 {
	seq := make([]int64, 0, len(txs))
	for _, tx := range txs {
		seq = append(seq, tx.Sequence)
	}
	sort.Slice(seq, func(i, j int) bool { return seq[i] < seq[j] })
	return seq
}
