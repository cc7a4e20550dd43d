package notify

import (
	"context"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/stars-bot/internal/features/tokens"
	"serotonyl.ru/stars-bot/internal/i18n"
)

// Bots — то, что нужно мессенджеру от реестра ботов.
type Bots interface {
	SendText(ctx context.Context, tokenID, chatID int64, text string) error
	RandomID(ctx context.Context) (int64, error)
}

// UserMessenger пишет пользователю об успешной оплате.
// Сначала через бота, закреплённого за платежом, потом через любой активный.
type UserMessenger struct {
	bots Bots
}

func NewUserMessenger(bots Bots) *UserMessenger {
	return &UserMessenger{bots: bots}
}

func (m *UserMessenger) Name() string { return "telegram" }

func (m *UserMessenger) Deliver(ctx context.Context, ev Event) error {
	text := i18n.T(ev.Lang, i18n.PaymentSuccess,
		strconv.FormatInt(ev.Credits, 10),
		strconv.FormatInt(ev.ExternalAmount, 10),
	)

	pinned := int64(0)
	if ev.BotRef != "" {
		id, err := tokens.ParseBotRef(ev.BotRef)
		if err != nil {
			log.WithError(err).WithField("payment_id", ev.PaymentID).Warn("Некорректный bot_id у платежа")
		} else {
			pinned = id
		}
	}

	if pinned != 0 {
		err := m.bots.SendText(ctx, pinned, ev.UserID, text)
		if err == nil {
			return nil
		}
		log.WithError(err).WithFields(log.Fields{
			"payment_id": ev.PaymentID,
			"token_id":   pinned,
		}).Warn("Закреплённый бот недоступен, пробуем другой")
	}

	fallback, err := m.bots.RandomID(ctx)
	if err != nil {
		return fmt.Errorf("нет бота для уведомления: %w", err)
	}
	if fallback == pinned {
		return fmt.Errorf("единственный бот %d недоступен", pinned)
	}
	return m.bots.SendText(ctx, fallback, ev.UserID, text)
}
