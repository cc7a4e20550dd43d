// Package tokens — repository.go выполняет запросы к stars_bot_tokens.
package tokens

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/db/postgres"
)

const tokenColumns = `id, token, COALESCE(bot_username, ''), is_active, created_at, updated_at`

// Repository — справочник токенов поверх PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ListActive возвращает все активные токены по возрастанию id.
func (r *Repository) ListActive(ctx context.Context) ([]*Token, error) {
	rows, err := r.db.Query(ctx, `SELECT `+tokenColumns+` FROM stars_bot_tokens WHERE is_active = TRUE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса токенов: %w", err)
	}
	defer rows.Close()

	var out []*Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

// ListAll — все токены, включая выключенные (для starsctl).
func (r *Repository) ListAll(ctx context.Context) ([]*Token, error) {
	rows, err := r.db.Query(ctx, `SELECT `+tokenColumns+` FROM stars_bot_tokens ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса токенов: %w", err)
	}
	defer rows.Close()

	var out []*Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PickRandomActive выбирает случайный активный токен.
func (r *Repository) PickRandomActive(ctx context.Context) (*Token, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM stars_bot_tokens WHERE is_active = TRUE ORDER BY random() LIMIT 1`)
	t, err := scanToken(row)
	if postgres.IsNotFound(err) {
		return nil, common.ErrNoActiveTokens
	}
	return t, err
}

// GetByID возвращает активный токен по id.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Token, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM stars_bot_tokens WHERE id = $1 AND is_active = TRUE`, id)
	t, err := scanToken(row)
	if postgres.IsNotFound(err) {
		return nil, fmt.Errorf("token_id=%d: %w", id, common.ErrTokenNotFound)
	}
	return t, err
}

// GetIDByToken ищет id активного токена по самому токену.
func (r *Repository) GetIDByToken(ctx context.Context, token string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`SELECT id FROM stars_bot_tokens WHERE token = $1 AND is_active = TRUE`, token,
	).Scan(&id)
	if postgres.IsNotFound(err) {
		return 0, common.ErrTokenNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка поиска токена: %w", err)
	}
	return id, nil
}

// PinToPayment закрепляет токен за платежом (payments.bot_id).
func (r *Repository) PinToPayment(ctx context.Context, paymentID, tokenID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET bot_id = $2, updated_at = NOW() WHERE id = $1`,
		paymentID, BotRef(tokenID),
	)
	if err != nil {
		return fmt.Errorf("ошибка закрепления токена: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrPaymentNotFound
	}
	return nil
}

// Add регистрирует новый токен (или включает существующий).
func (r *Repository) Add(ctx context.Context, token, username string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO stars_bot_tokens (token, bot_username, is_active)
		VALUES ($1, NULLIF($2, ''), TRUE)
		ON CONFLICT (token) DO UPDATE
		SET is_active = TRUE,
		    bot_username = COALESCE(EXCLUDED.bot_username, stars_bot_tokens.bot_username),
		    updated_at = NOW()
		RETURNING id
	`, token, username).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка добавления токена: %w", err)
	}
	return id, nil
}

// SetActive включает или выключает токен.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE stars_bot_tokens SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления токена: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrTokenNotFound
	}
	return nil
}

// UpdateUsername сохраняет @username, полученный через getMe.
func (r *Repository) UpdateUsername(ctx context.Context, id int64, username string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE stars_bot_tokens SET bot_username = $2, updated_at = NOW() WHERE id = $1`, id, username,
	)
	return err
}

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	if err := row.Scan(&t.ID, &t.Token, &t.BotUsername, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if postgres.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка сканирования токена: %w", err)
	}
	return &t, nil
}
