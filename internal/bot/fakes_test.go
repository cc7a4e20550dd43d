package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/features/payments"
	"serotonyl.ru/stars-bot/internal/features/pricing"
	"serotonyl.ru/stars-bot/internal/features/tokens"
	"serotonyl.ru/stars-bot/internal/features/users"
)

// fakeAPI записывает все вызовы Bot API.
type fakeAPI struct {
	mu sync.Mutex

	username   string
	getMeErr   error
	webhookErr error
	invoiceErr error

	webhooks        []*telego.SetWebhookParams
	deletedWebhooks int
	messages        []*telego.SendMessageParams
	deleted         []*telego.DeleteMessageParams
	invoices        []*telego.CreateInvoiceLinkParams
	preCheckouts    []*telego.AnswerPreCheckoutQueryParams
	callbacks       []*telego.AnswerCallbackQueryParams
}

func (f *fakeAPI) GetMe(context.Context) (*telego.User, error) {
	if f.getMeErr != nil {
		return nil, f.getMeErr
	}
	return &telego.User{ID: 1, IsBot: true, Username: f.username}, nil
}

func (f *fakeAPI) SetWebhook(_ context.Context, p *telego.SetWebhookParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.webhookErr != nil {
		return f.webhookErr
	}
	f.webhooks = append(f.webhooks, p)
	return nil
}

func (f *fakeAPI) DeleteWebhook(context.Context, *telego.DeleteWebhookParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedWebhooks++
	return nil
}

func (f *fakeAPI) SendMessage(_ context.Context, p *telego.SendMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, p)
	return &telego.Message{MessageID: 100 + len(f.messages), Chat: telego.Chat{ID: p.ChatID.ID}}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, p *telego.DeleteMessageParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, p)
	return nil
}

func (f *fakeAPI) CreateInvoiceLink(_ context.Context, p *telego.CreateInvoiceLinkParams) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invoiceErr != nil {
		return nil, f.invoiceErr
	}
	f.invoices = append(f.invoices, p)
	link := "https://t.me/$invoice_" + p.Payload
	return &link, nil
}

func (f *fakeAPI) AnswerPreCheckoutQuery(_ context.Context, p *telego.AnswerPreCheckoutQueryParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preCheckouts = append(f.preCheckouts, p)
	return nil
}

func (f *fakeAPI) AnswerCallbackQuery(_ context.Context, p *telego.AnswerCallbackQueryParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, p)
	return nil
}

type fakePayments struct {
	mu        sync.Mutex
	decision  payments.Decision
	createErr error
	topUps    []payments.CreateTopUp
	completes []payments.CompleteRequest
	pricing   *pricing.Pricing
}

func (f *fakePayments) CreateTopUp(_ context.Context, req payments.CreateTopUp) (*payments.TopUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.topUps = append(f.topUps, req)
	id := int64(len(f.topUps))
	return &payments.TopUp{
		PaymentID:         id,
		UserID:            req.UserID,
		ExternalPaymentID: payments.ExternalID("stars", id),
		Payload:           payments.EncodePayload(id),
		Credits:           req.Credits,
		Stars:             f.pricing.Quote(req.Credits),
		TokenID:           req.TokenID,
	}, nil
}

func (f *fakePayments) Authorize(context.Context, string) payments.Decision {
	return f.decision
}

func (f *fakePayments) Complete(_ context.Context, req payments.CompleteRequest) (*payments.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, req)
	return &payments.Completion{Payment: &payments.Payment{ID: 1, UserID: req.RequestingUserID}, Credited: true}, nil
}

func (f *fakePayments) Pricing() *pricing.Pricing { return f.pricing }

type fakeUsers struct {
	mu      sync.Mutex
	lang    string
	ensured []users.Profile
}

func (f *fakeUsers) EnsureUser(_ context.Context, p users.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, p)
	return nil
}

func (f *fakeUsers) Lang(context.Context, int64) string { return f.lang }

type staticSessions map[int64]*Session

func (s staticSessions) Get(_ context.Context, id int64) (*Session, error) {
	if sess, ok := s[id]; ok {
		return sess, nil
	}
	return nil, common.ErrTokenNotFound
}

type scheduledTask struct {
	delay time.Duration
	name  string
	fn    func(ctx context.Context) error
}

type fakeScheduler struct {
	tasks []scheduledTask
}

func (f *fakeScheduler) Schedule(delay time.Duration, name string, fn func(ctx context.Context) error) string {
	f.tasks = append(f.tasks, scheduledTask{delay, name, fn})
	return name
}

type fakeDirectory struct {
	mu        sync.Mutex
	active    map[int64]*tokens.Token
	usernames map[int64]string
}

func newFakeDirectory(ts ...*tokens.Token) *fakeDirectory {
	d := &fakeDirectory{active: map[int64]*tokens.Token{}, usernames: map[int64]string{}}
	for _, t := range ts {
		d.active[t.ID] = t
	}
	return d
}

func (d *fakeDirectory) ListActive(context.Context) ([]*tokens.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*tokens.Token
	for _, t := range d.active {
		out = append(out, t)
	}
	return out, nil
}

func (d *fakeDirectory) GetByID(_ context.Context, id int64) (*tokens.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.active[id]; ok {
		return t, nil
	}
	return nil, common.ErrTokenNotFound
}

func (d *fakeDirectory) PickRandomActive(context.Context) (*tokens.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.active {
		return t, nil
	}
	return nil, common.ErrNoActiveTokens
}

func (d *fakeDirectory) UpdateUsername(_ context.Context, id int64, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.usernames[id] = username
	return nil
}

func (d *fakeDirectory) deactivate(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, id)
}

var errBoom = errors.New("boom")
