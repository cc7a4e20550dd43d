// Package payments — жизненный цикл платежа звёздами:
// создание (pending), предварительная проверка, однократное зачисление (completed)
// и ручная/плановая сверка зависших платежей.
package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status — состояние платежа. Переходы только вперёд: pending → completed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReferralCompleted — статус реферала после первой оплаты.
const ReferralCompleted = "completed"

// Payment — запись таблицы payments.
type Payment struct {
	ID                 int64
	UserID             int64
	Amount             int64 // кредиты, > 0
	Status             Status
	Provider           string
	ExternalPaymentID  string
	BotOwnerID         *int64  // владелец бота-реферера
	BotID              *string // stars_token_<id>
	ExternalAmount     *int64  // сколько звёзд реально пришло
	ProviderChargeID   *string
	ReceivedAt         *time.Time // когда пришло событие об оплате
	CompletionAttempts int
	NetUSD             decimal.NullDecimal
	GrossUSD           decimal.NullDecimal
	FeeUSD             decimal.NullDecimal
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
}

// IsCompleted сообщает, что платёж уже зачислен.
func (p *Payment) IsCompleted() bool {
	return p.Status == StatusCompleted
}

// NewPayment — данные для вставки pending-платежа.
type NewPayment struct {
	UserID     int64
	Amount     int64
	Provider   string
	BotOwnerID *int64
}

// SettleParams — атомарное зачисление: кредиты берутся из самой записи платежа.
type SettleParams struct {
	PaymentID   int64
	Description string
}

// SettleResult — итог атомарного зачисления.
type SettleResult struct {
	AlreadyCompleted bool // строка уже была completed, ничего не менялось
	UserID           int64
	Credited         int64
	CompletedAt      time.Time
}

// USDBreakdown — долларовый эквивалент для отчётов.
type USDBreakdown struct {
	Gross decimal.Decimal
	Net   decimal.Decimal
	Fee   decimal.Decimal
}

// CreateTopUp — запрос на пополнение.
type CreateTopUp struct {
	UserID     int64  `json:"user_id" validate:"required,gt=0"`
	Credits    int64  `json:"credits" validate:"required,gt=0,lte=10000000"`
	BotOwnerID *int64 `json:"bot_owner_id,omitempty" validate:"omitempty,gt=0"`
	// бот, через который пришёл запрос; 0: выбрать случайный активный
	TokenID int64 `json:"-" validate:"gte=0"`
}

// TopUp — созданный pending-платёж и всё, что нужно для выставления счёта.
type TopUp struct {
	PaymentID         int64
	UserID            int64
	ExternalPaymentID string
	Payload           string
	Credits           int64
	Stars             int64
	TokenID           int64 // 0: токен не закреплён
}

// RejectReason — причина отказа на pre-checkout.
type RejectReason string

const (
	ReasonInvalidPayload   RejectReason = "invalid_payload"
	ReasonNotFound         RejectReason = "not_found"
	ReasonAlreadyProcessed RejectReason = "already_processed"
	ReasonInternalError    RejectReason = "internal_error"
)

// Decision: результат Authorize.
type Decision struct {
	Accepted  bool
	Reason    RejectReason
	PaymentID int64
}

// CompleteRequest — событие успешной оплаты.
// Платёж определяется по Payment, PaymentID или Payload (в этом порядке).
type CompleteRequest struct {
	Payload          string
	PaymentID        int64
	Payment          *Payment
	RequestingUserID int64
	ExternalAmount   int64
	ChargeID         string
}

// Completion описывает результат зачисления.
type Completion struct {
	Payment          *Payment
	Credited         bool // именно этот вызов начислил кредиты
	AlreadyCompleted bool // платёж был зачислен раньше
	Report           CompletionReport
}

// SuccessEvent — сигнал об успешной оплате для уведомлений.
type SuccessEvent struct {
	PaymentID      int64
	UserID         int64
	Credits        int64
	ExternalAmount int64
	BotRef         string
	Manual         bool
}
