// Package payments — service.go: бизнес-логика жизненного цикла платежа.
// Сервис не кэширует статусы: каждое решение принимается по свежему чтению из базы.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/features/pricing"
	"serotonyl.ru/stars-bot/internal/features/tokens"
)

// Store: хранилище платежей, с которым работает сервис.
type Store interface {
	Create(ctx context.Context, np NewPayment) (int64, error)
	GetByID(ctx context.Context, id int64) (*Payment, error)
	GetByExternalID(ctx context.Context, externalID, provider string) (*Payment, error)
	RecordReceipt(ctx context.Context, id int64, chargeID string, externalAmount int64) error
	Settle(ctx context.Context, sp SettleParams) (SettleResult, error)
	AddReferralBonus(ctx context.Context, ownerID, paymentID, bonus int64) error
	UpdateReferralStatus(ctx context.Context, referredID int64, status string) error
	UpdateUSDBreakdown(ctx context.Context, id int64, b USDBreakdown) error
	NoteAttempt(ctx context.Context, id int64) error
	ListStuck(ctx context.Context, minAge time.Duration, limit int) ([]*Payment, error)
	ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]*Payment, error)
}

// Directory — справочник токенов ботов (выбор и закрепление за платежом).
type Directory interface {
	PickRandomActive(ctx context.Context) (*tokens.Token, error)
	PinToPayment(ctx context.Context, paymentID, tokenID int64) error
}

// Notifier получает сигнал об успешной оплате. Не должен блокировать.
type Notifier interface {
	PaymentSucceeded(ev SuccessEvent)
}

// Options задаёт настройки сервиса.
type Options struct {
	Provider     string          // тег провайдера, "stars"
	StarsUSDRate decimal.Decimal // сколько долларов стоит одна звезда
	ReferralRate decimal.Decimal // доля бонуса владельцу бота

	ReconcileMinAge      time.Duration
	ReconcileMaxAttempts int
	ReconcileBatch       int
}

// Service — движок жизненного цикла платежа.
type Service struct {
	store    Store
	dir      Directory
	pricing  *pricing.Pricing
	notifier Notifier
	opts     Options
	validate *validator.Validate
}

// NewService создаёт сервис платежей. dir и notifier могут быть nil.
func NewService(store Store, dir Directory, pr *pricing.Pricing, notifier Notifier, opts Options) *Service {
	if opts.Provider == "" {
		opts.Provider = "stars"
	}
	if opts.ReconcileMaxAttempts <= 0 {
		opts.ReconcileMaxAttempts = 5
	}
	if opts.ReconcileBatch <= 0 {
		opts.ReconcileBatch = 50
	}
	if pr == nil {
		pr = pricing.Default()
	}
	return &Service{
		store:    store,
		dir:      dir,
		pricing:  pr,
		notifier: notifier,
		opts:     opts,
		validate: validator.New(),
	}
}

// Provider возвращает тег провайдера.
func (s *Service) Provider() string {
	return s.opts.Provider
}

// Pricing возвращает текущие цены.
func (s *Service) Pricing() *pricing.Pricing {
	return s.pricing
}

// CreateTopUp создаёт pending-платёж и закрепляет за ним бота.
// Если бот не указан, берётся случайный активный. Сбой закрепления не отменяет платёж.
func (s *Service) CreateTopUp(ctx context.Context, req CreateTopUp) (*TopUp, error) {
	if req.Credits <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err)
	}

	id, err := s.store.Create(ctx, NewPayment{
		UserID:     req.UserID,
		Amount:     req.Credits,
		Provider:   s.opts.Provider,
		BotOwnerID: req.BotOwnerID,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания платежа: %w", err)
	}

	topUp := &TopUp{
		PaymentID:         id,
		UserID:            req.UserID,
		ExternalPaymentID: ExternalID(s.opts.Provider, id),
		Payload:           EncodePayload(id),
		Credits:           req.Credits,
		Stars:             s.pricing.Quote(req.Credits),
	}
	topUp.TokenID = s.pinToken(ctx, id, req.TokenID)

	log.WithFields(log.Fields{
		"payment_id": id,
		"user_id":    req.UserID,
		"credits":    req.Credits,
		"stars":      topUp.Stars,
		"token_id":   topUp.TokenID,
	}).Info("Создан платёж")
	return topUp, nil
}

func (s *Service) pinToken(ctx context.Context, paymentID, tokenID int64) int64 {
	if s.dir == nil {
		return tokenID
	}
	logger := log.WithField("payment_id", paymentID)

	if tokenID == 0 {
		t, err := s.dir.PickRandomActive(ctx)
		if err != nil {
			logger.WithError(err).Warn("не удалось выбрать токен для платежа")
			return 0
		}
		tokenID = t.ID
	}

	if err := s.dir.PinToPayment(ctx, paymentID, tokenID); err != nil {
		logger.WithError(err).WithField("token_id", tokenID).Warn("не удалось закрепить токен за платежом")
		return 0
	}
	return tokenID
}

// Authorize — pre-checkout: только чтение, без изменений.
func (s *Service) Authorize(ctx context.Context, payload string) Decision {
	id, err := DecodePayload(payload)
	if err != nil {
		log.WithField("payload", payload).Warn("pre-checkout: невалидный payload")
		return Decision{Reason: ReasonInvalidPayload}
	}

	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrPaymentNotFound) {
			log.WithField("payment_id", id).Warn("pre-checkout: платёж не найден")
			return Decision{Reason: ReasonNotFound, PaymentID: id}
		}
		log.WithError(err).WithField("payment_id", id).Error("pre-checkout: ошибка чтения платежа")
		return Decision{Reason: ReasonInternalError, PaymentID: id}
	}

	if p.IsCompleted() {
		log.WithField("payment_id", id).Warn("pre-checkout: платёж уже завершён")
		return Decision{Reason: ReasonAlreadyProcessed, PaymentID: id}
	}

	return Decision{Accepted: true, PaymentID: id}
}

// Complete — однократное зачисление по событию успешной оплаты.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*Completion, error) {
	p, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	logger := log.WithFields(log.Fields{"payment_id": p.ID, "user_id": p.UserID})

	if p.IsCompleted() {
		logger.Info("Платёж уже обработан, пропускаем")
		return &Completion{Payment: p, AlreadyCompleted: true}, nil
	}

	if p.Provider != s.opts.Provider {
		logger.WithField("provider", p.Provider).Warn("платёж другого провайдера")
		return nil, common.ErrProviderMismatch
	}

	if req.RequestingUserID != p.UserID {
		logger.WithFields(log.Fields{
			"requesting_user_id": req.RequestingUserID,
			"suspicious":         true,
		}).Error("Несоответствие пользователей для платежа")
		return nil, common.ErrUserMismatch
	}

	var report CompletionReport
	if err := s.store.RecordReceipt(ctx, p.ID, req.ChargeID, req.ExternalAmount); err != nil {
		logger.WithError(err).Warn("не удалось сохранить квитанцию")
		report.fail(StepReceipt, err)
	} else {
		report.ok(StepReceipt)
		amount := req.ExternalAmount
		p.ExternalAmount = &amount
		if req.ChargeID != "" {
			charge := req.ChargeID
			p.ProviderChargeID = &charge
		}
	}

	return s.finish(ctx, p, req.ExternalAmount, false, report)
}

// CompleteManually — ручной запуск зачисления оператором по внешнему id.
// Сумма в звёздах берётся из квитанции, а если её нет, по текущей цене.
func (s *Service) CompleteManually(ctx context.Context, externalID, provider string) (*Completion, error) {
	if provider == "" {
		provider = s.opts.Provider
	}

	p, err := s.store.GetByExternalID(ctx, externalID, provider)
	if err != nil {
		return nil, err
	}
	logger := log.WithFields(log.Fields{"payment_id": p.ID, "external_payment_id": externalID})

	if p.Provider != provider {
		logger.WithField("provider", p.Provider).Warn("платёж другого провайдера")
		return nil, common.ErrProviderMismatch
	}

	if p.IsCompleted() {
		logger.Info("Платёж уже обработан, пропускаем (ручная обработка)")
		return &Completion{Payment: p, AlreadyCompleted: true}, nil
	}

	logger.Info("Ручная обработка платежа")
	return s.finish(ctx, p, s.externalAmountOf(p), true, CompletionReport{})
}

func (s *Service) externalAmountOf(p *Payment) int64 {
	if p.ExternalAmount != nil && *p.ExternalAmount > 0 {
		return *p.ExternalAmount
	}
	return s.pricing.Quote(p.Amount)
}

func (s *Service) resolve(ctx context.Context, req CompleteRequest) (*Payment, error) {
	if req.Payment != nil {
		return req.Payment, nil
	}

	id := req.PaymentID
	if id == 0 {
		var err error
		if id, err = DecodePayload(req.Payload); err != nil {
			log.WithField("payload", req.Payload).Warn("successful_payment: невалидный payload")
			return nil, err
		}
	}

	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrPaymentNotFound) {
			log.WithField("payment_id", id).Error("Платёж не найден в базе")
		}
		return nil, err
	}
	return p, nil
}

// finish делает атомарное зачисление и необязательные шаги после него.
func (s *Service) finish(ctx context.Context, p *Payment, externalAmount int64, manual bool, report CompletionReport) (*Completion, error) {
	logger := log.WithFields(log.Fields{"payment_id": p.ID, "user_id": p.UserID})

	desc := fmt.Sprintf("Пополнение через %s, платёж %d", p.Provider, p.ID)
	if manual {
		desc += " (ручная обработка)"
	}

	res, err := s.store.Settle(ctx, SettleParams{PaymentID: p.ID, Description: desc})
	if err != nil {
		if noteErr := s.store.NoteAttempt(ctx, p.ID); noteErr != nil {
			logger.WithError(noteErr).Warn("не удалось увеличить счётчик попыток")
		}
		logger.WithError(err).Error("Ошибка начисления кредитов, платёж остаётся pending")
		return nil, fmt.Errorf("ошибка начисления по платежу %d: %w", p.ID, err)
	}

	if res.AlreadyCompleted {
		logger.Info("Платёж завершён параллельным вызовом, пропускаем")
		p.Status = StatusCompleted
		return &Completion{Payment: p, AlreadyCompleted: true, Report: report}, nil
	}

	completedAt := res.CompletedAt
	p.Status = StatusCompleted
	p.CompletedAt = &completedAt
	p.CompletionAttempts++

	logger.WithFields(log.Fields{
		"credits": res.Credited,
		"manual":  manual,
	}).Info("Начислены кредиты")

	s.referralBonus(ctx, p, &report)

	if err := s.store.UpdateReferralStatus(ctx, p.UserID, ReferralCompleted); err != nil {
		logger.WithError(err).Warn("Ошибка обновления статуса реферала")
		report.fail(StepReferralStatus, err)
	} else {
		report.ok(StepReferralStatus)
	}

	s.usdBreakdown(ctx, p, externalAmount, &report)

	if s.notifier != nil {
		botRef := ""
		if p.BotID != nil {
			botRef = *p.BotID
		}
		s.notifier.PaymentSucceeded(SuccessEvent{
			PaymentID:      p.ID,
			UserID:         p.UserID,
			Credits:        p.Amount,
			ExternalAmount: externalAmount,
			BotRef:         botRef,
			Manual:         manual,
		})
		report.ok(StepNotify)
	} else {
		report.skip(StepNotify, "no notifier")
	}

	if !report.OK() {
		logger.WithField("report", report.String()).Warn("Платёж зачислен, часть шагов не выполнена")
	} else {
		logger.WithField("report", report.String()).Debug("Платёж обработан")
	}

	return &Completion{Payment: p, Credited: true, Report: report}, nil
}

func (s *Service) referralBonus(ctx context.Context, p *Payment, report *CompletionReport) {
	if p.BotOwnerID == nil {
		report.skip(StepReferralBonus, "no bot owner")
		return
	}
	bonus := ReferralBonus(p.Amount, s.opts.ReferralRate)
	if bonus <= 0 {
		report.skip(StepReferralBonus, "bonus rounds to zero")
		return
	}
	if err := s.store.AddReferralBonus(ctx, *p.BotOwnerID, p.ID, bonus); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"payment_id":   p.ID,
			"bot_owner_id": *p.BotOwnerID,
		}).Warn("Ошибка начисления реферального бонуса")
		report.fail(StepReferralBonus, err)
		return
	}
	report.ok(StepReferralBonus)
}

func (s *Service) usdBreakdown(ctx context.Context, p *Payment, externalAmount int64, report *CompletionReport) {
	if externalAmount <= 0 {
		report.skip(StepUSDBreakdown, "no external amount")
		return
	}
	b := Breakdown(externalAmount, s.opts.StarsUSDRate)
	if err := s.store.UpdateUSDBreakdown(ctx, p.ID, b); err != nil {
		log.WithError(err).WithField("payment_id", p.ID).Warn("Ошибка обновления USD значений")
		report.fail(StepUSDBreakdown, err)
		return
	}
	p.GrossUSD = decimal.NewNullDecimal(b.Gross)
	p.NetUSD = decimal.NewNullDecimal(b.Net)
	p.FeeUSD = decimal.NewNullDecimal(b.Fee)
	report.ok(StepUSDBreakdown)
}

// ReferralBonus — floor(credits * rate).
func ReferralBonus(credits int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(credits).Mul(rate).Floor().IntPart()
}

// Breakdown — долларовый эквивалент: gross = звёзды * курс, комиссии у звёзд нет.
func Breakdown(externalAmount int64, rate decimal.Decimal) USDBreakdown {
	gross := decimal.NewFromInt(externalAmount).Mul(rate).Round(2)
	return USDBreakdown{
		Gross: gross,
		Net:   gross,
		Fee:   decimal.Zero,
	}
}

// ListPending возвращает pending-платежи старше olderThan.
func (s *Service) ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListPending(ctx, olderThan, limit)
}
