// Package economy ведёт балансы кредитов и историю начислений.
// models.go описывает структуры для балансов и транзакций.
package economy

import "time"

// Balance представляет баланс пользователя.
// Запись создаётся при первом начислении.
type Balance struct {
	UserID      int64     `db:"user_id"`      // Telegram user ID
	Balance     int64     `db:"balance"`      // Текущий баланс
	TotalEarned int64     `db:"total_earned"` // Сколько всего начислено
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Transaction — одна запись истории начислений.
type Transaction struct {
	ID              int64     `db:"id"`
	UserID          int64     `db:"user_id"`
	Amount          int64     `db:"amount"`           // Всегда положительная
	TransactionType string    `db:"transaction_type"` // topup / referral_bonus
	PaymentID       *int64    `db:"payment_id"`       // Платёж-источник (если есть)
	Description     string    `db:"description"`
	CreatedAt       time.Time `db:"created_at"`
}

// Типы транзакций
const (
	TxTypeTopUp         = "topup"          // Пополнение звёздами
	TxTypeReferralBonus = "referral_bonus" // Бонус владельцу бота за платёж реферала
)

// Credit — одно начисление.
type Credit struct {
	UserID      int64
	Amount      int64
	Type        string
	PaymentID   int64 // 0: без привязки к платежу
	Description string
}
