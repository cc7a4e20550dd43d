// Package payments — repository.go выполняет все операции с таблицей payments.
// Зачисление (Settle) — единственная точка сериализации: строка платежа
// блокируется FOR UPDATE, баланс и статус меняются в одной транзакции.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/db/postgres"
	"serotonyl.ru/stars-bot/internal/features/economy"
)

const paymentColumns = `
	id, user_id, amount, status, payment_provider, COALESCE(external_payment_id, ''),
	bot_owner_id, bot_id, external_amount, provider_charge_id, received_at, completion_attempts,
	net_amount_usd::text, gross_amount_usd::text, fee_amount_usd::text,
	created_at, updated_at, completed_at`

// settleRetries — сколько раз повторяем зачисление при дедлоке/конфликте сериализации.
const settleRetries = 3

// Repository — хранилище платежей поверх PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create вставляет pending-платёж и проставляет external_payment_id = <provider>_<id>.
func (r *Repository) Create(ctx context.Context, np NewPayment) (int64, error) {
	if np.Amount <= 0 {
		return 0, common.ErrInvalidAmount
	}

	var id int64
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO payments (user_id, amount, status, payment_provider, bot_owner_id)
			VALUES ($1, $2, 'pending', $3, $4)
			RETURNING id
		`, np.UserID, np.Amount, np.Provider, np.BotOwnerID).Scan(&id); err != nil {
			return fmt.Errorf("ошибка создания платежа: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE payments SET external_payment_id = $2 WHERE id = $1`,
			id, ExternalID(np.Provider, id),
		); err != nil {
			return fmt.Errorf("ошибка записи external_payment_id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetByID возвращает платёж или common.ErrPaymentNotFound.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if postgres.IsNotFound(err) {
		return nil, fmt.Errorf("payment_id=%d: %w", id, common.ErrPaymentNotFound)
	}
	return p, err
}

// GetByExternalID ищет платёж по паре (external_payment_id, provider).
func (r *Repository) GetByExternalID(ctx context.Context, externalID, provider string) (*Payment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_payment_id = $1 AND payment_provider = $2`,
		externalID, provider,
	)
	p, err := scanPayment(row)
	if postgres.IsNotFound(err) {
		return nil, fmt.Errorf("external_payment_id=%s: %w", externalID, common.ErrPaymentNotFound)
	}
	return p, err
}

// RecordReceipt сохраняет данные события об оплате. Только для pending-платежей.
func (r *Repository) RecordReceipt(ctx context.Context, id int64, chargeID string, externalAmount int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payments
		SET provider_charge_id = COALESCE(NULLIF($2, ''), provider_charge_id),
		    external_amount = $3,
		    received_at = COALESCE(received_at, NOW()),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, chargeID, externalAmount)
	if err != nil {
		return fmt.Errorf("ошибка записи квитанции: %w", err)
	}
	return nil
}

// Settle атомарно зачисляет кредиты и переводит платёж в completed.
// Если строка уже completed, возвращает AlreadyCompleted и ничего не меняет.
func (r *Repository) Settle(ctx context.Context, sp SettleParams) (SettleResult, error) {
	var res SettleResult
	err := postgres.Retry(ctx, settleRetries, func() error {
		res = SettleResult{}
		return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
			var (
				status string
				userID int64
				amount int64
			)
			err := tx.QueryRow(ctx,
				`SELECT status, user_id, amount FROM payments WHERE id = $1 FOR UPDATE`, sp.PaymentID,
			).Scan(&status, &userID, &amount)
			if postgres.IsNotFound(err) {
				return fmt.Errorf("payment_id=%d: %w", sp.PaymentID, common.ErrPaymentNotFound)
			}
			if err != nil {
				return fmt.Errorf("ошибка блокировки платежа: %w", err)
			}

			if Status(status) == StatusCompleted {
				res.AlreadyCompleted = true
				res.UserID = userID
				return nil
			}

			if err := economy.Apply(ctx, tx, economy.Credit{
				UserID:      userID,
				Amount:      amount,
				Type:        economy.TxTypeTopUp,
				PaymentID:   sp.PaymentID,
				Description: sp.Description,
			}); err != nil {
				return err
			}

			if err := tx.QueryRow(ctx, `
				UPDATE payments
				SET status = 'completed',
				    completed_at = NOW(),
				    updated_at = NOW(),
				    completion_attempts = completion_attempts + 1
				WHERE id = $1
				RETURNING completed_at
			`, sp.PaymentID).Scan(&res.CompletedAt); err != nil {
				return fmt.Errorf("ошибка смены статуса: %w", err)
			}

			res.UserID = userID
			res.Credited = amount
			return nil
		})
	})
	return res, err
}

// AddReferralBonus начисляет бонус владельцу бота.
// Повторный бонус за тот же платёж не начисляется (уникальный индекс по payment_id, type).
func (r *Repository) AddReferralBonus(ctx context.Context, ownerID, paymentID, bonus int64) error {
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return economy.Apply(ctx, tx, economy.Credit{
			UserID:      ownerID,
			Amount:      bonus,
			Type:        economy.TxTypeReferralBonus,
			PaymentID:   paymentID,
			Description: fmt.Sprintf("Реферальный бонус за платёж %d", paymentID),
		})
	})
	if postgres.IsUniqueViolation(err) {
		return nil
	}
	return err
}

// UpdateReferralStatus меняет статус реферала. Отсутствие реферала не ошибка.
func (r *Repository) UpdateReferralStatus(ctx context.Context, referredID int64, status string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE referrals SET status = $2, updated_at = NOW() WHERE referred_id = $1`,
		referredID, status,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления реферала: %w", err)
	}
	return nil
}

// UpdateUSDBreakdown сохраняет долларовый эквивалент платежа.
func (r *Repository) UpdateUSDBreakdown(ctx context.Context, id int64, b USDBreakdown) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payments
		SET net_amount_usd = $2::numeric,
		    gross_amount_usd = $3::numeric,
		    fee_amount_usd = $4::numeric,
		    updated_at = NOW()
		WHERE id = $1
	`, id, b.Net.StringFixed(2), b.Gross.StringFixed(2), b.Fee.StringFixed(2))
	if err != nil {
		return fmt.Errorf("ошибка записи USD: %w", err)
	}
	return nil
}

// NoteAttempt увеличивает счётчик неудачных попыток зачисления.
func (r *Repository) NoteAttempt(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payments
		SET completion_attempts = completion_attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	return err
}

// ListStuck — оплаченные (есть квитанция), но не зачисленные платежи старше minAge.
// Сначала те, у кого меньше попыток.
func (r *Repository) ListStuck(ctx context.Context, minAge time.Duration, limit int) ([]*Payment, error) {
	return r.queryPayments(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending' AND received_at IS NOT NULL AND received_at < $1
		ORDER BY completion_attempts, received_at
		LIMIT $2
	`, time.Now().Add(-minAge), limit)
}

// ListPending — pending-платежи старше olderThan, для оператора.
func (r *Repository) ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]*Payment, error) {
	return r.queryPayments(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, time.Now().Add(-olderThan), limit)
}

func (r *Repository) queryPayments(ctx context.Context, query string, args ...any) ([]*Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса платежей: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p               Payment
		status          string
		net, gross, fee *string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Amount, &status, &p.Provider, &p.ExternalPaymentID,
		&p.BotOwnerID, &p.BotID, &p.ExternalAmount, &p.ProviderChargeID, &p.ReceivedAt, &p.CompletionAttempts,
		&net, &gross, &fee,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка сканирования платежа: %w", err)
	}
	p.Status = Status(status)

	if p.NetUSD, err = parseNullDecimal(net); err != nil {
		return nil, err
	}
	if p.GrossUSD, err = parseNullDecimal(gross); err != nil {
		return nil, err
	}
	if p.FeeUSD, err = parseNullDecimal(fee); err != nil {
		return nil, err
	}
	return &p, nil
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("некорректное число %q: %w", *s, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
