// Package bot — транспорт платёжного бота: реестр сессий, разбор апдейтов,
// клавиатуры и выставление счетов. bot.go маршрутизирует апдейт к нужному сценарию.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/stars-bot/internal/bot/filters"
	"serotonyl.ru/stars-bot/internal/bot/middleware"
	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/features/payments"
	"serotonyl.ru/stars-bot/internal/features/pricing"
	"serotonyl.ru/stars-bot/internal/features/users"
	"serotonyl.ru/stars-bot/internal/i18n"
)

// Payments — операции жизненного цикла платежа, которые нужны боту.
type Payments interface {
	CreateTopUp(ctx context.Context, req payments.CreateTopUp) (*payments.TopUp, error)
	Authorize(ctx context.Context, payload string) payments.Decision
	Complete(ctx context.Context, req payments.CompleteRequest) (*payments.Completion, error)
	Pricing() *pricing.Pricing
}

// Users ведёт учёт пользователей и их язык.
type Users interface {
	EnsureUser(ctx context.Context, p users.Profile) error
	Lang(ctx context.Context, userID int64) string
}

// Sessions — доступ к клиентам ботов.
type Sessions interface {
	Get(ctx context.Context, tokenID int64) (*Session, error)
}

// Scheduler планирует отложенные задачи.
type Scheduler interface {
	Schedule(delay time.Duration, name string, fn func(ctx context.Context) error) string
}

// Options — настройки обработчика.
type Options struct {
	Currency           string        // XTR
	CallTimeout        time.Duration // таймаут одного вызова Bot API
	MessageDeleteDelay time.Duration
	MaxInflight        int
	RateLimitRequests  int
	RateLimitWindow    time.Duration
}

// Handler — главная структура бота, объединяющая все компоненты.
type Handler struct {
	payments  Payments
	users     Users
	sessions  Sessions
	scheduler Scheduler
	opts      Options

	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter
	parser      *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт обработчик апдейтов со всеми зависимостями.
func New(pay Payments, us Users, sessions Sessions, scheduler Scheduler, opts Options) *Handler {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 64
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "XTR"
	}

	return &Handler{
		payments:    pay,
		users:       us,
		sessions:    sessions,
		scheduler:   scheduler,
		opts:        opts,
		chatFilter:  filters.NewChatFilter(),
		rateLimiter: middleware.NewRateLimiter(opts.RateLimitRequests, opts.RateLimitWindow),
		parser:      NewCommandParser(),
		inflight:    make(chan struct{}, opts.MaxInflight),
	}
}

// Close останавливает фоновые части обработчика.
func (h *Handler) Close() {
	h.rateLimiter.Close()
}

// HandleUpdate обрабатывает одно обновление от Telegram, пришедшее на бота tokenID.
// Ошибка означает, что апдейт не удалось обработать; Telegram всё равно получает 200.
func (h *Handler) HandleUpdate(ctx context.Context, tokenID int64, update telego.Update) (err error) {
	select {
	case h.inflight <- struct{}{}:
		defer func() { <-h.inflight }()
	case <-ctx.Done():
		return ctx.Err()
	}

	defer func() {
		if r := recover(); r != nil {
			middleware.LogPanic(r, log.Fields{"token_id": tokenID, "update_id": update.UpdateID})
			err = fmt.Errorf("паника при обработке апдейта %d: %v", update.UpdateID, r)
		}
	}()

	middleware.LogUpdate(tokenID, update)

	if !h.chatFilter.CheckAccess(tokenID, update) {
		return nil
	}

	session, err := h.sessions.Get(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("бот token_id=%d недоступен: %w", tokenID, err)
	}

	h.ensureUser(ctx, update)

	switch {
	case update.PreCheckoutQuery != nil:
		return h.handlePreCheckout(ctx, session, update.PreCheckoutQuery)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		return h.handleSuccessfulPayment(ctx, update.Message)
	case update.Message != nil:
		return h.handleMessage(ctx, session, update.Message)
	case update.CallbackQuery != nil:
		return h.handleCallback(ctx, session, update.CallbackQuery)
	}
	return nil
}

// ensureUser: каждый контакт обновляет запись пользователя. Ошибка не мешает оплате.
func (h *Handler) ensureUser(ctx context.Context, update telego.Update) {
	var u *telego.User
	switch {
	case update.Message != nil:
		u = update.Message.From
	case update.CallbackQuery != nil:
		u = &update.CallbackQuery.From
	case update.PreCheckoutQuery != nil:
		u = &update.PreCheckoutQuery.From
	}
	if u == nil {
		return
	}

	if err := h.users.EnsureUser(ctx, users.Profile{
		UserID:       u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LanguageCode: u.LanguageCode,
	}); err != nil {
		log.WithError(err).WithField("user_id", u.ID).Warn("EnsureUser failed")
	}
}

// handlePreCheckout проверяет платёж перед списанием звёзд. Ответ обязателен в любом случае.
func (h *Handler) handlePreCheckout(ctx context.Context, s *Session, q *telego.PreCheckoutQuery) error {
	callCtx, cancel := context.WithTimeout(ctx, h.opts.CallTimeout)
	defer cancel()

	decision := h.payments.Authorize(callCtx, q.InvoicePayload)
	params := &telego.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: q.ID,
		Ok:                 decision.Accepted,
	}
	if !decision.Accepted {
		params.ErrorMessage = i18n.T(h.users.Lang(callCtx, q.From.ID), rejectKey(decision.Reason))
	}

	if err := s.API.AnswerPreCheckoutQuery(callCtx, params); err != nil {
		return fmt.Errorf("ошибка ответа на pre_checkout_query: %w", err)
	}

	log.WithFields(log.Fields{
		"payment_id": decision.PaymentID,
		"user_id":    q.From.ID,
		"ok":         decision.Accepted,
		"reason":     decision.Reason,
	}).Info("pre_checkout_query обработан")
	return nil
}

func rejectKey(reason payments.RejectReason) string {
	switch reason {
	case payments.ReasonInvalidPayload:
		return i18n.InvalidPayload
	case payments.ReasonNotFound:
		return i18n.PaymentNotFound
	case payments.ReasonAlreadyProcessed:
		return i18n.PaymentAlreadyProcessed
	default:
		return i18n.PaymentErrorGeneric
	}
}

// handleSuccessfulPayment — деньги списаны, зачисляем. Уведомление отправит диспетчер.
func (h *Handler) handleSuccessfulPayment(ctx context.Context, m *telego.Message) error {
	sp := m.SuccessfulPayment

	c, err := h.payments.Complete(ctx, payments.CompleteRequest{
		Payload:          sp.InvoicePayload,
		RequestingUserID: m.From.ID,
		ExternalAmount:   int64(sp.TotalAmount),
		ChargeID:         sp.TelegramPaymentChargeID,
	})
	if err != nil {
		// несовпадение пользователя и чужой payload не ошибка транспорта
		if errors.Is(err, common.ErrUserMismatch) || errors.Is(err, common.ErrInvalidPayload) ||
			errors.Is(err, common.ErrProviderMismatch) {
			return nil
		}
		return fmt.Errorf("ошибка обработки successful_payment: %w", err)
	}

	log.WithFields(log.Fields{
		"payment_id": c.Payment.ID,
		"user_id":    m.From.ID,
		"credited":   c.Credited,
		"charge_id":  common.MaskSecret(sp.TelegramPaymentChargeID, 8),
	}).Info("successful_payment обработан")
	return nil
}

func (h *Handler) handleMessage(ctx context.Context, s *Session, m *telego.Message) error {
	userID := m.From.ID
	lang := h.users.Lang(ctx, userID)

	cmd, _, isCommand := h.parser.ParseCommand(m.Text)
	if isCommand {
		switch cmd {
		case "start", "help", "menu":
			return h.sendPaymentMenu(ctx, s, userID, lang)
		}
		return nil
	}

	if strings.TrimSpace(m.Text) == i18n.T(lang, i18n.BtnPaymentMenu) {
		return h.sendPaymentMenu(ctx, s, userID, lang)
	}
	return nil
}

// sendPaymentMenu шлёт приветствие с постоянной кнопкой и список пресетов.
func (h *Handler) sendPaymentMenu(ctx context.Context, s *Session, chatID int64, lang string) error {
	callCtx, cancel := context.WithTimeout(ctx, h.opts.CallTimeout)
	defer cancel()

	if _, err := s.API.SendMessage(callCtx, &telego.SendMessageParams{
		ChatID:      tu.ID(chatID),
		Text:        i18n.T(lang, i18n.Welcome),
		ParseMode:   telego.ModeHTML,
		ReplyMarkup: PaymentMenuKeyboard(lang),
	}); err != nil {
		return fmt.Errorf("ошибка отправки приветствия: %w", err)
	}

	if _, err := s.API.SendMessage(callCtx, &telego.SendMessageParams{
		ChatID:      tu.ID(chatID),
		Text:        i18n.T(lang, i18n.WelcomeInline),
		ParseMode:   telego.ModeHTML,
		ReplyMarkup: TopupKeyboard(lang, h.payments.Pricing().Presets()),
	}); err != nil {
		return fmt.Errorf("ошибка отправки меню пополнения: %w", err)
	}
	return nil
}

func (h *Handler) handleCallback(ctx context.Context, s *Session, q *telego.CallbackQuery) error {
	callCtx, cancel := context.WithTimeout(ctx, h.opts.CallTimeout)
	defer cancel()

	// кнопка перестаёт «крутиться» сразу, дальше работаем без спешки
	if err := s.API.AnswerCallbackQuery(callCtx, &telego.AnswerCallbackQueryParams{CallbackQueryID: q.ID}); err != nil {
		log.WithError(err).WithField("user_id", q.From.ID).Debug("answerCallbackQuery failed")
	}

	credits, ok := ParseTopupData(q.Data)
	if !ok {
		if strings.HasPrefix(q.Data, topupPrefix) {
			log.WithField("data", q.Data).Error("Невалидный callback_data")
		}
		return nil
	}

	userID := q.From.ID
	lang := h.users.Lang(ctx, userID)

	if !h.rateLimiter.Allow(userID) {
		log.WithFields(log.Fields{
			"user_id":     userID,
			"retry_after": h.rateLimiter.RetryAfter(userID).String(),
		}).Debug("rate limited")
		return h.send(ctx, s, userID, i18n.T(lang, i18n.RateLimited), nil)
	}

	return h.startTopUp(ctx, s, userID, lang, credits)
}

// startTopUp — платёж, счёт, сообщение с кнопкой оплаты и его отложенное удаление.
func (h *Handler) startTopUp(ctx context.Context, s *Session, userID int64, lang string, credits int64) error {
	topUp, err := h.payments.CreateTopUp(ctx, payments.CreateTopUp{
		UserID:  userID,
		Credits: credits,
		TokenID: s.TokenID,
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"user_id": userID, "credits": credits}).Error("Ошибка создания платежа")
		return h.send(ctx, s, userID, i18n.T(lang, i18n.PaymentErrorGeneric), nil)
	}

	invoiceBot := s
	if topUp.TokenID != 0 && topUp.TokenID != s.TokenID {
		if other, err := h.sessions.Get(ctx, topUp.TokenID); err == nil {
			invoiceBot = other
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, h.opts.CallTimeout)
	link, err := InvoiceLink(callCtx, invoiceBot.API, h.opts.Currency, lang, topUp)
	cancel()
	if err != nil {
		log.WithError(err).WithField("payment_id", topUp.PaymentID).Error("Ошибка создания invoice link")
		return h.send(ctx, s, userID, i18n.T(lang, i18n.PaymentError, strconv.FormatInt(topUp.PaymentID, 10)), nil)
	}

	text := i18n.T(lang, i18n.PaymentCreated,
		strconv.FormatInt(topUp.Credits, 10),
		strconv.FormatInt(topUp.Stars, 10),
	)
	callCtx, cancel = context.WithTimeout(ctx, h.opts.CallTimeout)
	sent, err := s.API.SendMessage(callCtx, &telego.SendMessageParams{
		ChatID:      tu.ID(userID),
		Text:        text,
		ParseMode:   telego.ModeHTML,
		ReplyMarkup: PayKeyboard(lang, link),
	})
	cancel()
	if err != nil {
		return fmt.Errorf("ошибка отправки ссылки на оплату: %w", err)
	}

	log.WithFields(log.Fields{
		"payment_id": topUp.PaymentID,
		"user_id":    userID,
		"credits":    topUp.Credits,
		"stars":      topUp.Stars,
		"token_id":   invoiceBot.TokenID,
	}).Info("Счёт выставлен")

	h.scheduleDelete(s, userID, sent.MessageID, topUp.PaymentID)
	return nil
}

// scheduleDelete убирает сообщение со ссылкой на оплату через MessageDeleteDelay.
func (h *Handler) scheduleDelete(s *Session, chatID int64, messageID int, paymentID int64) {
	if h.scheduler == nil || h.opts.MessageDeleteDelay <= 0 {
		return
	}
	h.scheduler.Schedule(h.opts.MessageDeleteDelay, "delete_payment_message", func(ctx context.Context) error {
		if err := s.API.DeleteMessage(ctx, &telego.DeleteMessageParams{
			ChatID:    tu.ID(chatID),
			MessageID: messageID,
		}); err != nil {
			return fmt.Errorf("не удалось удалить сообщение об оплате (payment_id=%d): %w", paymentID, err)
		}
		log.WithField("payment_id", paymentID).Debug("Сообщение об оплате удалено")
		return nil
	})
}

// send отправляет сообщение.
func (h *Handler) send(ctx context.Context, s *Session, chatID int64, text string, markup telego.ReplyMarkup) error {
	callCtx, cancel := context.WithTimeout(ctx, h.opts.CallTimeout)
	defer cancel()

	params := &telego.SendMessageParams{
		ChatID:    tu.ID(chatID),
		Text:      text,
		ParseMode: telego.ModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := s.API.SendMessage(callCtx, params); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
		return err
	}
	return nil
}

// CommandParser разбирает команды вида /start или /start@bot_name.
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/"},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	if at := strings.IndexByte(command, '@'); at >= 0 {
		command = command[:at]
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return command, args, true
}
