// Package users — repository.go отвечает за операции с таблицей users.
package users

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/db/postgres"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Upsert добавляет пользователя.
// На конфликте по user_id обновляет только имя/username (язык не трогаем).
func (r *Repository) Upsert(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (user_id, username, first_name, lang)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, u.UserID, u.Username, u.FirstName, u.Lang); err != nil {
		return fmt.Errorf("ошибка создания/обновления пользователя: %w", err)
	}
	return nil
}

// GetLang возвращает язык пользователя или common.ErrUserNotFound.
func (r *Repository) GetLang(ctx context.Context, userID int64) (string, error) {
	var lang string
	err := r.db.QueryRow(ctx, `SELECT lang FROM users WHERE user_id = $1`, userID).Scan(&lang)
	if postgres.IsNotFound(err) {
		return "", common.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения языка (user_id=%d): %w", userID, err)
	}
	return lang, nil
}

// GetByUserID возвращает пользователя или common.ErrUserNotFound.
func (r *Repository) GetByUserID(ctx context.Context, userID int64) (*User, error) {
	query := `
		SELECT user_id, COALESCE(username, ''), COALESCE(first_name, ''), lang, created_at, updated_at
		FROM users
		WHERE user_id = $1
	`
	var u User
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&u.UserID, &u.Username, &u.FirstName, &u.Lang, &u.CreatedAt, &u.UpdatedAt,
	)
	if postgres.IsNotFound(err) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пользователя (user_id=%d): %w", userID, err)
	}
	return &u, nil
}
