// Package users — service.go: регистрация пользователей и выбор языка ответа.
package users

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/i18n"
)

// Store — то, что сервису нужно от хранилища.
type Store interface {
	Upsert(ctx context.Context, u *User) error
	GetLang(ctx context.Context, userID int64) (string, error)
}

// Service связывает апдейты Telegram с таблицей users.
type Service struct {
	repo Store
}

func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// EnsureUser гарантирует, что пользователь есть в базе.
// Язык нового пользователя берётся из language_code клиента Telegram.
func (s *Service) EnsureUser(ctx context.Context, p Profile) error {
	if p.UserID == 0 {
		return fmt.Errorf("пустой user_id")
	}
	return s.repo.Upsert(ctx, &User{
		UserID:    p.UserID,
		Username:  p.Username,
		FirstName: p.FirstName,
		Lang:      i18n.Normalize(p.LanguageCode),
	})
}

// Lang возвращает язык пользователя. Ошибки не пробрасываются: язык нужен только для текста.
func (s *Service) Lang(ctx context.Context, userID int64) string {
	lang, err := s.repo.GetLang(ctx, userID)
	if err != nil {
		if !errors.Is(err, common.ErrUserNotFound) {
			log.WithError(err).WithField("user_id", userID).Warn("не удалось получить язык, используем ru")
		}
		return i18n.DefaultLang
	}
	return i18n.Normalize(lang)
}
