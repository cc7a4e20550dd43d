package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/features/pricing"
	"serotonyl.ru/stars-bot/internal/features/tokens"
)

// memStore — платежи и балансы в памяти; Settle атомарен под мьютексом.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	payments  map[int64]*Payment
	balances  map[int64]int64
	bonuses   map[int64]bool // payment_id → бонус начислен
	referrals map[int64]string
	usd       map[int64]USDBreakdown

	settleErr   error
	bonusErr    error
	usdErr      error
	getErr      error
	settleCalls int
}

func newMemStore() *memStore {
	return &memStore{
		payments:  map[int64]*Payment{},
		balances:  map[int64]int64{},
		bonuses:   map[int64]bool{},
		referrals: map[int64]string{},
		usd:       map[int64]USDBreakdown{},
	}
}

func (m *memStore) Create(_ context.Context, np NewPayment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.payments[id] = &Payment{
		ID:                id,
		UserID:            np.UserID,
		Amount:            np.Amount,
		Status:            StatusPending,
		Provider:          np.Provider,
		ExternalPaymentID: ExternalID(np.Provider, id),
		BotOwnerID:        np.BotOwnerID,
		CreatedAt:         time.Now(),
	}
	return id, nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.payments[id]
	if !ok {
		return nil, common.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetByExternalID(_ context.Context, externalID, provider string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ExternalPaymentID == externalID && p.Provider == provider {
			cp := *p
			return &cp, nil
		}
	}
	return nil, common.ErrPaymentNotFound
}

func (m *memStore) RecordReceipt(_ context.Context, id int64, chargeID string, externalAmount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.payments[id]
	if p == nil || p.Status != StatusPending {
		return nil
	}
	now := time.Now()
	p.ExternalAmount = &externalAmount
	p.ProviderChargeID = &chargeID
	if p.ReceivedAt == nil {
		p.ReceivedAt = &now
	}
	return nil
}

func (m *memStore) Settle(_ context.Context, sp SettleParams) (SettleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleCalls++
	if m.settleErr != nil {
		return SettleResult{}, m.settleErr
	}
	p, ok := m.payments[sp.PaymentID]
	if !ok {
		return SettleResult{}, common.ErrPaymentNotFound
	}
	if p.Status == StatusCompleted {
		return SettleResult{AlreadyCompleted: true, UserID: p.UserID}, nil
	}
	now := time.Now()
	m.balances[p.UserID] += p.Amount
	p.Status = StatusCompleted
	p.CompletedAt = &now
	p.CompletionAttempts++
	return SettleResult{UserID: p.UserID, Credited: p.Amount, CompletedAt: now}, nil
}

func (m *memStore) AddReferralBonus(_ context.Context, ownerID, paymentID, bonus int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bonusErr != nil {
		return m.bonusErr
	}
	if m.bonuses[paymentID] {
		return nil
	}
	m.bonuses[paymentID] = true
	m.balances[ownerID] += bonus
	return nil
}

func (m *memStore) UpdateReferralStatus(_ context.Context, referredID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referrals[referredID] = status
	return nil
}

func (m *memStore) UpdateUSDBreakdown(_ context.Context, id int64, b USDBreakdown) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usdErr != nil {
		return m.usdErr
	}
	m.usd[id] = b
	return nil
}

func (m *memStore) NoteAttempt(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.payments[id]; p != nil && p.Status == StatusPending {
		p.CompletionAttempts++
	}
	return nil
}

func (m *memStore) ListStuck(_ context.Context, minAge time.Duration, limit int) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	cutoff := time.Now().Add(-minAge)
	for id := int64(1); id <= m.nextID; id++ {
		p := m.payments[id]
		if p == nil || p.Status != StatusPending || p.ReceivedAt == nil || !p.ReceivedAt.Before(cutoff) {
			continue
		}
		cp := *p
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) ListPending(_ context.Context, olderThan time.Duration, limit int) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for id := int64(1); id <= m.nextID; id++ {
		if p := m.payments[id]; p != nil && p.Status == StatusPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) balance(userID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

type fakeDirectory struct {
	active []*tokens.Token
	pinned map[int64]int64
	pinErr error
}

func (d *fakeDirectory) PickRandomActive(context.Context) (*tokens.Token, error) {
	if len(d.active) == 0 {
		return nil, common.ErrNoActiveTokens
	}
	return d.active[0], nil
}

func (d *fakeDirectory) PinToPayment(_ context.Context, paymentID, tokenID int64) error {
	if d.pinErr != nil {
		return d.pinErr
	}
	if d.pinned == nil {
		d.pinned = map[int64]int64{}
	}
	d.pinned[paymentID] = tokenID
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []SuccessEvent
}

func (n *recordingNotifier) PaymentSucceeded(ev SuccessEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func testOptions() Options {
	return Options{
		Provider:             "stars",
		StarsUSDRate:         decimal.RequireFromString("0.02"),
		ReferralRate:         decimal.RequireFromString("0.1"),
		ReconcileMaxAttempts: 3,
		ReconcileBatch:       10,
	}
}

func newTestService(store *memStore) (*Service, *recordingNotifier) {
	n := &recordingNotifier{}
	return NewService(store, &fakeDirectory{}, pricing.Default(), n, testOptions()), n
}

func int64p(v int64) *int64 { return &v }

func TestCreateTopUp(t *testing.T) {
	store := newMemStore()
	dir := &fakeDirectory{active: []*tokens.Token{{ID: 7, IsActive: true}}}
	svc := NewService(store, dir, pricing.Default(), nil, testOptions())

	topUp, err := svc.CreateTopUp(context.Background(), CreateTopUp{UserID: 42, Credits: 500})
	if err != nil {
		t.Fatalf("CreateTopUp: %v", err)
	}
	if topUp.Stars != 650 {
		t.Errorf("Stars = %d, want 650", topUp.Stars)
	}
	if topUp.Payload != EncodePayload(topUp.PaymentID) {
		t.Errorf("Payload = %q", topUp.Payload)
	}
	if topUp.ExternalPaymentID != fmt.Sprintf("stars_%d", topUp.PaymentID) {
		t.Errorf("ExternalPaymentID = %q", topUp.ExternalPaymentID)
	}
	if topUp.TokenID != 7 || dir.pinned[topUp.PaymentID] != 7 {
		t.Errorf("token not pinned: %+v %v", topUp, dir.pinned)
	}
	if p := store.payments[topUp.PaymentID]; p.Status != StatusPending || p.Amount != 500 {
		t.Errorf("stored payment = %+v", p)
	}
}

func TestCreateTopUpPinFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	dir := &fakeDirectory{pinErr: errors.New("db down")}
	svc := NewService(store, dir, pricing.Default(), nil, testOptions())

	topUp, err := svc.CreateTopUp(context.Background(), CreateTopUp{UserID: 1, Credits: 150, TokenID: 3})
	if err != nil {
		t.Fatalf("CreateTopUp: %v", err)
	}
	if topUp.TokenID != 0 {
		t.Errorf("TokenID = %d, want 0", topUp.TokenID)
	}
}

func TestCreateTopUpRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	ctx := context.Background()

	if _, err := svc.CreateTopUp(ctx, CreateTopUp{UserID: 1, Credits: 0}); !errors.Is(err, common.ErrInvalidAmount) {
		t.Errorf("zero credits: err = %v", err)
	}
	if _, err := svc.CreateTopUp(ctx, CreateTopUp{UserID: 1, Credits: -5}); !errors.Is(err, common.ErrInvalidAmount) {
		t.Errorf("negative credits: err = %v", err)
	}
	if _, err := svc.CreateTopUp(ctx, CreateTopUp{UserID: 0, Credits: 10}); !errors.Is(err, common.ErrInvalidRequest) {
		t.Errorf("missing user: err = %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	topUp, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 1, Credits: 300})

	if d := svc.Authorize(ctx, topUp.Payload); !d.Accepted || d.PaymentID != topUp.PaymentID {
		t.Errorf("pending: %+v", d)
	}
	if d := svc.Authorize(ctx, "garbage"); d.Accepted || d.Reason != ReasonInvalidPayload {
		t.Errorf("garbage: %+v", d)
	}
	if d := svc.Authorize(ctx, EncodePayload(999)); d.Accepted || d.Reason != ReasonNotFound {
		t.Errorf("missing: %+v", d)
	}

	store.payments[topUp.PaymentID].Status = StatusCompleted
	if d := svc.Authorize(ctx, topUp.Payload); d.Accepted || d.Reason != ReasonAlreadyProcessed {
		t.Errorf("completed: %+v", d)
	}

	store.getErr = errors.New("connection reset")
	if d := svc.Authorize(ctx, topUp.Payload); d.Accepted || d.Reason != ReasonInternalError {
		t.Errorf("db error: %+v", d)
	}
}

func TestCompleteScenario(t *testing.T) {
	store := newMemStore()
	svc, notifier := newTestService(store)
	ctx := context.Background()

	topUp, err := svc.CreateTopUp(ctx, CreateTopUp{UserID: 42, Credits: 500, BotOwnerID: int64p(9)})
	if err != nil {
		t.Fatalf("CreateTopUp: %v", err)
	}

	c, err := svc.Complete(ctx, CompleteRequest{
		Payload:          topUp.Payload,
		RequestingUserID: 42,
		ExternalAmount:   650,
		ChargeID:         "ch_1",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !c.Credited || c.AlreadyCompleted {
		t.Fatalf("completion = %+v", c)
	}
	if got := store.balance(42); got != 500 {
		t.Errorf("balance = %d, want 500", got)
	}
	if got := store.balance(9); got != 50 {
		t.Errorf("referral bonus = %d, want 50", got)
	}
	if store.referrals[42] != ReferralCompleted {
		t.Errorf("referral status = %q", store.referrals[42])
	}

	b := store.usd[topUp.PaymentID]
	if b.Gross.StringFixed(2) != "13.00" || b.Net.StringFixed(2) != "13.00" || b.Fee.StringFixed(2) != "0.00" {
		t.Errorf("usd = %s/%s/%s", b.Gross, b.Net, b.Fee)
	}
	if !c.Report.OK() {
		t.Errorf("report = %s", c.Report)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
	if p := store.payments[topUp.PaymentID]; p.Status != StatusCompleted || p.CompletedAt == nil {
		t.Errorf("payment = %+v", p)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	store := newMemStore()
	svc, notifier := newTestService(store)
	ctx := context.Background()

	topUp, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 1, Credits: 150})
	req := CompleteRequest{Payload: topUp.Payload, RequestingUserID: 1, ExternalAmount: 400}

	if _, err := svc.Complete(ctx, req); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	c, err := svc.Complete(ctx, req)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if !c.AlreadyCompleted || c.Credited {
		t.Errorf("second completion = %+v", c)
	}
	if got := store.balance(1); got != 150 {
		t.Errorf("balance = %d, want 150", got)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
}

func TestCompleteConcurrentCreditsOnce(t *testing.T) {
	store := newMemStore()
	svc, notifier := newTestService(store)
	ctx := context.Background()

	topUp, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 5, Credits: 1000, BotOwnerID: int64p(6)})

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(manual bool) {
			defer wg.Done()
			var (
				c   *Completion
				err error
			)
			if manual {
				c, err = svc.CompleteManually(ctx, topUp.ExternalPaymentID, "")
			} else {
				c, err = svc.Complete(ctx, CompleteRequest{PaymentID: topUp.PaymentID, RequestingUserID: 5, ExternalAmount: 1300})
			}
			if err != nil {
				t.Errorf("completion: %v", err)
				return
			}
			if c.Credited {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}(i%2 == 0)
	}
	wg.Wait()

	if credited != 1 {
		t.Errorf("credited %d times, want 1", credited)
	}
	if got := store.balance(5); got != 1000 {
		t.Errorf("balance = %d, want 1000", got)
	}
	if got := store.balance(6); got != 100 {
		t.Errorf("owner balance = %d, want 100", got)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
}

func TestCompleteUserMismatchChangesNothing(t *testing.T) {
	store := newMemStore()
	svc, notifier := newTestService(store)
	ctx := context.Background()

	topUp, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 1, Credits: 150})

	_, err := svc.Complete(ctx, CompleteRequest{PaymentID: topUp.PaymentID, RequestingUserID: 2, ExternalAmount: 400})
	if !errors.Is(err, common.ErrUserMismatch) {
		t.Fatalf("err = %v, want ErrUserMismatch", err)
	}
	p := store.payments[topUp.PaymentID]
	if p.Status != StatusPending || p.ReceivedAt != nil {
		t.Errorf("payment mutated: %+v", p)
	}
	if store.settleCalls != 0 || store.balance(1) != 0 || store.balance(2) != 0 {
		t.Errorf("balances touched")
	}
	if notifier.count() != 0 {
		t.Errorf("notified on mismatch")
	}
}

func TestCompleteProviderMismatch(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	topUp, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 1, Credits: 150})
	store.payments[topUp.PaymentID].Provider = "card"

	_, err := svc.Complete(ctx, CompleteRequest{PaymentID: topUp.PaymentID, RequestingUserID: 1})
	if !errors.Is(err, common.ErrProviderMismatch) {
		t.Fatalf("err = %v, want ErrProviderMismatch", err)
	}
}

func TestCompleteUnknownPayment(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	ctx := context.Background()

	if _, err := svc.Complete(ctx, CompleteRequest{Payload: "payment_77", RequestingUserID: 1}); !errors.Is(err, common.ErrPaymentNotFound) {
		t.Errorf("err = %v, want ErrPaymentNotFound", err)
	}
	if _, err := svc.Complete(ctx, CompleteRequest{Payload: "payment_x", RequestingUserID: 1}); !errors.Is(err, common.ErrInvalidPayload) {
		t.Errorf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestCompleteSettleFailureKeepsPending(t *testing.T) {
	store := newMemStore()
	svc, notifier := newTestService(store)
	ctx := context.Background()

	topUp, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 1, Credits: 150})
	store.settleErr = errors.New("deadlock detected")

	if _, err := svc.Complete(ctx, CompleteRequest{PaymentID: topUp.PaymentID, RequestingUserID: 1, ExternalAmount: 400}); err == nil {
		t.Fatal("expected error")
	}
	p := store.payments[topUp.PaymentID]
	if p.Status != StatusPending {
		t.Errorf("status = %s", p.Status)
	}
	if p.ReceivedAt == nil || p.ExternalAmount == nil || *p.ExternalAmount != 400 {
		t.Errorf("receipt not recorded: %+v", p)
	}
	if p.CompletionAttempts != 1 {
		t.Errorf("attempts = %d, want 1", p.CompletionAttempts)
	}
	if notifier.count() != 0 {
		t.Errorf("notified on failure")
	}
}

func TestCompleteOptionalStepFailuresDoNotFailCompletion(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	topUp, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 1, Credits: 500, BotOwnerID: int64p(2)})
	store.bonusErr = errors.New("bonus failed")
	store.usdErr = errors.New("usd failed")

	c, err := svc.Complete(ctx, CompleteRequest{PaymentID: topUp.PaymentID, RequestingUserID: 1, ExternalAmount: 650})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !c.Credited || store.balance(1) != 500 {
		t.Fatalf("not credited: %+v", c)
	}
	if c.Report.OK() || len(c.Report.Failed()) != 2 {
		t.Errorf("report = %s", c.Report)
	}
	if r, _ := c.Report.Get(StepReferralStatus); r.Status != StepOK {
		t.Errorf("referral status step = %+v", r)
	}
}

func TestReferralBonusSkippedWhenItRoundsToZero(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	topUp, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 1, Credits: 9, BotOwnerID: int64p(2)})
	c, err := svc.Complete(ctx, CompleteRequest{PaymentID: topUp.PaymentID, RequestingUserID: 1, ExternalAmount: 24})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if r, _ := c.Report.Get(StepReferralBonus); r.Status != StepSkipped {
		t.Errorf("bonus step = %+v", r)
	}
	if store.balance(2) != 0 {
		t.Errorf("owner credited")
	}
}

func TestReferralBonus(t *testing.T) {
	rate := decimal.RequireFromString("0.1")
	tests := []struct {
		credits, want int64
	}{
		{500, 50},
		{155, 15},
		{9, 0},
		{0, 0},
	}
	for _, tt := range tests {
		if got := ReferralBonus(tt.credits, rate); got != tt.want {
			t.Errorf("ReferralBonus(%d) = %d, want %d", tt.credits, got, tt.want)
		}
	}
}

func TestCompleteManually(t *testing.T) {
	store := newMemStore()
	svc, notifier := newTestService(store)
	ctx := context.Background()

	topUp, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 3, Credits: 500})

	c, err := svc.CompleteManually(ctx, topUp.ExternalPaymentID, "stars")
	if err != nil {
		t.Fatalf("CompleteManually: %v", err)
	}
	if !c.Credited || store.balance(3) != 500 {
		t.Fatalf("completion = %+v", c)
	}
	// без квитанции сумма берётся по текущей цене
	if b := store.usd[topUp.PaymentID]; b.Gross.StringFixed(2) != "13.00" {
		t.Errorf("gross = %s", b.Gross)
	}
	if !notifier.events[0].Manual {
		t.Errorf("event not marked manual")
	}

	again, err := svc.CompleteManually(ctx, topUp.ExternalPaymentID, "")
	if err != nil {
		t.Fatalf("second CompleteManually: %v", err)
	}
	if !again.AlreadyCompleted || store.balance(3) != 500 {
		t.Errorf("second run = %+v", again)
	}

	if _, err := svc.CompleteManually(ctx, "stars_404", ""); !errors.Is(err, common.ErrPaymentNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestReconcileStuck(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	paid, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 1, Credits: 150})
	unpaid, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 2, Credits: 150})
	exhausted, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 3, Credits: 150})

	past := time.Now().Add(-time.Hour)
	store.payments[paid.PaymentID].ReceivedAt = &past
	store.payments[exhausted.PaymentID].ReceivedAt = &past
	store.payments[exhausted.PaymentID].CompletionAttempts = 3

	sum, err := svc.ReconcileStuck(ctx)
	if err != nil {
		t.Fatalf("ReconcileStuck: %v", err)
	}
	if sum.Scanned != 2 || sum.Completed != 1 || len(sum.Exhausted) != 1 || sum.Exhausted[0] != exhausted.PaymentID {
		t.Errorf("summary = %+v", sum)
	}
	if store.balance(1) != 150 {
		t.Errorf("paid not credited")
	}
	if store.balance(2) != 0 || store.payments[unpaid.PaymentID].Status != StatusPending {
		t.Errorf("unpaid payment touched")
	}
	if store.balance(3) != 0 {
		t.Errorf("exhausted payment credited")
	}
}

func TestReconcileCountsFailures(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	topUp, _ := svc.CreateTopUp(ctx, CreateTopUp{UserID: 1, Credits: 150})
	past := time.Now().Add(-time.Hour)
	store.payments[topUp.PaymentID].ReceivedAt = &past
	store.settleErr = errors.New("serialization failure")

	sum, err := svc.ReconcileStuck(ctx)
	if err != nil {
		t.Fatalf("ReconcileStuck: %v", err)
	}
	if sum.Failed != 1 || store.payments[topUp.PaymentID].CompletionAttempts != 1 {
		t.Errorf("summary = %+v attempts = %d", sum, store.payments[topUp.PaymentID].CompletionAttempts)
	}
}

func TestBreakdown(t *testing.T) {
	b := Breakdown(333, decimal.RequireFromString("0.013"))
	if b.Gross.StringFixed(2) != "4.33" || !b.Net.Equal(b.Gross) || !b.Fee.IsZero() {
		t.Errorf("breakdown = %+v", b)
	}
}
