// Package tokens — справочник токенов платёжных ботов.
// Каждый активный токен — отдельный бот, через который принимаются звёзды.
// Читаются только записи с is_active = TRUE.
package tokens

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"serotonyl.ru/stars-bot/internal/common"
)

// Token — одна запись stars_bot_tokens.
type Token struct {
	ID          int64     `db:"id"`
	Token       string    `db:"token"`
	BotUsername string    `db:"bot_username"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Preview — первые символы токена для логов.
func (t *Token) Preview() string {
	return common.MaskSecret(t.Token, 8)
}

// botRefPrefix — префикс ссылки на токен в payments.bot_id.
const botRefPrefix = "stars_token_"

// BotRef кодирует id токена для сохранения в платеже.
func BotRef(tokenID int64) string {
	return botRefPrefix + strconv.FormatInt(tokenID, 10)
}

// ParseBotRef — обратное к BotRef.
func ParseBotRef(ref string) (int64, error) {
	if !strings.HasPrefix(ref, botRefPrefix) {
		return 0, fmt.Errorf("bot_id %q: нет префикса %s", ref, botRefPrefix)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(ref, botRefPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bot_id %q: некорректный id", ref)
	}
	return id, nil
}
