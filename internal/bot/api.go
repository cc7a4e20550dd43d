package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

// API — вызовы Bot API, которыми пользуется бот. *telego.Bot реализует его целиком.
type API interface {
	GetMe(ctx context.Context) (*telego.User, error)
	SetWebhook(ctx context.Context, params *telego.SetWebhookParams) error
	DeleteWebhook(ctx context.Context, params *telego.DeleteWebhookParams) error
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error
	CreateInvoiceLink(ctx context.Context, params *telego.CreateInvoiceLinkParams) (*string, error)
	AnswerPreCheckoutQuery(ctx context.Context, params *telego.AnswerPreCheckoutQueryParams) error
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
}

// Factory создаёт клиента Bot API для токена.
type Factory func(token string) (API, error)

// NewTelegoAPI — клиент telego; его внутренние логи идут в logrus.
func NewTelegoAPI(token string) (API, error) {
	b, err := telego.NewBot(token, telego.WithLogger(telegoLogger{}))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	return b, nil
}

// telegoLogger направляет логи telego в logrus. Токен telego сам заменяет на BOT_TOKEN.
type telegoLogger struct{}

func (telegoLogger) Debugf(format string, args ...any) {
	log.WithField("component", "telego").Debugf(format, args...)
}

func (telegoLogger) Errorf(format string, args ...any) {
	log.WithField("component", "telego").Errorf(format, args...)
}
