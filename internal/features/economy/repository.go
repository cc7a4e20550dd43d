// Package economy — repository.go выполняет операции с таблицами balances и transactions.
// Все начисления выполняются внутри транзакции вызывающего кода.
package economy

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/db/postgres"
)

// Apply начисляет кредиты через q (обычно pgx.Tx):
// создаёт баланс при необходимости, увеличивает его и пишет строку истории.
// Обновление баланса и запись истории атомарны только если q является транзакцией.
func Apply(ctx context.Context, q postgres.Querier, c Credit) error {
	if c.Amount <= 0 {
		return common.ErrInvalidAmount
	}

	_, err := q.Exec(ctx, `
		INSERT INTO balances (user_id, balance, total_earned)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = balances.balance + EXCLUDED.balance,
		    total_earned = balances.total_earned + EXCLUDED.total_earned,
		    updated_at = NOW()
	`, c.UserID, c.Amount)
	if err != nil {
		return fmt.Errorf("ошибка начисления: %w", err)
	}

	var paymentID *int64
	if c.PaymentID > 0 {
		paymentID = &c.PaymentID
	}
	_, err = q.Exec(ctx, `
		INSERT INTO transactions (user_id, amount, transaction_type, payment_id, description)
		VALUES ($1, $2, $3, $4, $5)
	`, c.UserID, c.Amount, c.Type, paymentID, c.Description)
	if err != nil {
		return fmt.Errorf("ошибка записи транзакции: %w", err)
	}
	return nil
}

// Repository — чтение балансов и истории.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetBalance возвращает баланс пользователя или common.ErrUserNotFound.
func (r *Repository) GetBalance(ctx context.Context, userID int64) (*Balance, error) {
	var b Balance
	err := r.db.QueryRow(ctx, `
		SELECT user_id, balance, total_earned, created_at, updated_at
		FROM balances
		WHERE user_id = $1
	`, userID).Scan(&b.UserID, &b.Balance, &b.TotalEarned, &b.CreatedAt, &b.UpdatedAt)
	if postgres.IsNotFound(err) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return &b, nil
}

// GetTransactions возвращает последние limit начислений пользователя.
func (r *Repository) GetTransactions(ctx context.Context, userID int64, limit int) ([]*Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, amount, transaction_type, payment_id, COALESCE(description, ''), created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.TransactionType, &t.PaymentID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
